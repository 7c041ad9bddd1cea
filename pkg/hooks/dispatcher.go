package hooks

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/osutil"
	"github.com/jingkaihe/activator/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher runs the hooks matching a tool-use event. A Dispatcher holds no
// per-call state, so any number of Dispatch calls may run concurrently.
type Dispatcher struct {
	registry *Registry
	grace    time.Duration
	workDir  string
	env      []string
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithGracePeriod sets how long a timed out or cancelled hook gets between
// SIGTERM and SIGKILL.
func WithGracePeriod(grace time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.grace = grace
	}
}

// WithWorkDir sets the working directory hooks run in
func WithWorkDir(dir string) DispatcherOption {
	return func(d *Dispatcher) {
		d.workDir = dir
	}
}

// WithEnv adds KEY=VALUE pairs to every hook's environment
func WithEnv(kv ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.env = append(d.env, kv...)
	}
}

// NewDispatcher creates a dispatcher over registry
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		grace:    osutil.GracefulShutdownDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every hook bound to event whose matcher accepts toolName,
// sequentially in registration order. Every matching hook runs even after a
// failure. For PreToolUse the decision denies the call when a blocking hook
// did not succeed, naming the earliest such hook; PostToolUse always allows.
// Cancelling ctx terminates the running hook and marks the remaining ones as
// cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, toolName string, hctx Context) Decision {
	dispatchID := uuid.New().String()
	ctx = logger.WithFields(ctx, logrus.Fields{
		"dispatch_id": dispatchID,
		"event":       event,
		"tool":        toolName,
	})
	ctx, span := telemetry.StartSpan(ctx, "hooks.dispatch",
		attribute.String("dispatch.id", dispatchID),
		attribute.String("hook.event", string(event)),
		attribute.String("tool.name", toolName),
	)
	defer span.End()

	defs := d.registry.HooksFor(event, toolName)
	decision := Decision{Allow: true, Outcomes: make([]Outcome, 0, len(defs))}
	if len(defs) == 0 {
		return decision
	}

	cwd := d.workDir
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		} else {
			logger.G(ctx).WithError(err).Warn("failed to get working directory for hook")
		}
	}

	for _, def := range defs {
		payload, err := json.Marshal(Payload{
			Event:      event,
			ToolName:   toolName,
			HookID:     def.ID,
			DispatchID: dispatchID,
			CWD:        cwd,
			Context:    hctx,
		})
		if err != nil {
			// A map of strings always marshals; keep the hook running regardless.
			payload = []byte("{}")
		}

		env := append([]string{
			EnvEvent + "=" + string(event),
			EnvToolName + "=" + toolName,
			EnvHookID + "=" + def.ID,
			EnvDispatchID + "=" + dispatchID,
		}, d.env...)

		outcome := d.traceExecute(ctx, def, payload, env)
		decision.Outcomes = append(decision.Outcomes, outcome)

		if outcome.Succeeded() {
			continue
		}

		log := logger.G(ctx).WithFields(map[string]interface{}{
			"hook":     def.ID,
			"status":   outcome.Status,
			"blocking": def.IsBlocking(),
		})
		if outcome.Stderr != "" {
			log = log.WithField("stderr", outcome.Stderr)
		}
		log.Warn("hook failed")

		if event == PreToolUse && def.IsBlocking() && decision.Allow {
			decision.Allow = false
			decision.Reason = outcome.Describe()
		}
	}

	telemetry.SetAttributes(ctx,
		attribute.Bool("decision.allow", decision.Allow),
		attribute.Int("hooks.count", len(decision.Outcomes)),
	)
	if !decision.Allow {
		logger.G(ctx).WithField("reason", decision.Reason).Info("tool call denied by blocking hook")
	}

	return decision
}

// traceExecute runs one hook inside its own span
func (d *Dispatcher) traceExecute(ctx context.Context, def *Definition, payload []byte, env []string) Outcome {
	ctx, span := telemetry.StartSpan(ctx, "hooks.execute",
		attribute.String("hook.id", def.ID),
		attribute.Bool("hook.blocking", def.IsBlocking()),
	)
	defer span.End()

	outcome := d.execute(ctx, def, payload, env)
	span.SetAttributes(
		attribute.String("hook.status", string(outcome.Status)),
		attribute.Int("hook.exit_code", outcome.ExitCode),
		attribute.Int64("hook.duration_ms", outcome.Duration.Milliseconds()),
	)
	if !outcome.Succeeded() {
		telemetry.RecordError(ctx, errors.New(outcome.Describe()))
	}
	return outcome
}
