// Package activation is the host-facing facade over rule resolution and hook
// dispatch. A Service owns the currently active snapshot of rule documents
// and hook definitions, replaces it atomically on reload and terminates
// running hooks on shutdown.
package activation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jingkaihe/activator/pkg/hooks"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/osutil"
	"github.com/jingkaihe/activator/pkg/rules"
	"github.com/jingkaihe/activator/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// ErrClosed is returned by operations on a service that has been shut down
var ErrClosed = errors.New("activation service is shut down")

// Service resolves rules and dispatches hooks against the active snapshot.
// All methods are safe for concurrent use.
type Service struct {
	current atomic.Pointer[Snapshot]
	loadMu  sync.Mutex

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	active   atomic.Int64

	root   context.Context
	cancel context.CancelFunc

	grace            time.Duration
	workDir          string
	env              []string
	staticValidation bool
}

// Option configures a Service
type Option func(*Service)

// WithGracePeriod sets how long a terminated hook gets before it is killed
func WithGracePeriod(grace time.Duration) Option {
	return func(s *Service) {
		s.grace = grace
	}
}

// WithStaticValidation makes Load reject hooks whose executable cannot be
// found on PATH.
func WithStaticValidation() Option {
	return func(s *Service) {
		s.staticValidation = true
	}
}

// WithWorkDir sets the directory hooks run in
func WithWorkDir(dir string) Option {
	return func(s *Service) {
		s.workDir = dir
	}
}

// WithEnv adds KEY=VALUE pairs to every hook's environment
func WithEnv(kv ...string) Option {
	return func(s *Service) {
		s.env = append(s.env, kv...)
	}
}

// New creates a service with an empty snapshot: no rules apply and every
// tool call is allowed until the first successful Load.
func New(opts ...Option) *Service {
	s := &Service{grace: osutil.GracefulShutdownDelay}
	for _, opt := range opts {
		opt(s)
	}
	s.root, s.cancel = context.WithCancel(context.Background())

	resolver, _ := rules.NewResolver(context.Background(), nil)
	registry := hooks.NewRegistry()
	s.current.Store(&Snapshot{
		resolver:   resolver,
		registry:   registry,
		dispatcher: s.newDispatcher(registry),
		loadedAt:   time.Now(),
	})
	return s
}

func (s *Service) newDispatcher(registry *hooks.Registry) *hooks.Dispatcher {
	opts := []hooks.DispatcherOption{hooks.WithGracePeriod(s.grace)}
	if s.workDir != "" {
		opts = append(opts, hooks.WithWorkDir(s.workDir))
	}
	if len(s.env) > 0 {
		opts = append(opts, hooks.WithEnv(s.env...))
	}
	return hooks.NewDispatcher(registry, opts...)
}

// Load reads every source into a new snapshot and makes it active. Loading
// is all or nothing: on any failure the previous snapshot stays active and a
// *LoadError lists every offending source.
func (s *Service) Load(ctx context.Context, src Sources) error {
	return telemetry.WithSpan(ctx, "activation.load", func(ctx context.Context) error {
		return s.load(ctx, src)
	},
		attribute.Int("sources.rule_dirs", len(src.RuleDirs)),
		attribute.Int("sources.rule_files", len(src.RuleFiles)),
		attribute.Int("sources.hook_files", len(src.HookFiles)),
		attribute.Int("sources.hook_dirs", len(src.HookDirs)),
	)
}

func (s *Service) load(ctx context.Context, src Sources) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	snap, err := s.build(ctx, src)
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to load activation sources, keeping previous snapshot")
		return err
	}

	snap.generation = s.current.Load().generation + 1
	s.current.Store(snap)

	stats := snap.stats()
	telemetry.SetAttributes(ctx,
		attribute.Int64("snapshot.generation", int64(snap.generation)),
		attribute.Int("snapshot.rules", stats.CommonRules+stats.ScopedRules),
		attribute.Int("snapshot.hooks", stats.PreToolUseHooks+stats.PostToolUseHooks),
	)
	logger.G(ctx).WithFields(map[string]interface{}{
		"generation":   snap.generation,
		"common_rules": stats.CommonRules,
		"scoped_rules": stats.ScopedRules,
		"hooks":        stats.PreToolUseHooks + stats.PostToolUseHooks,
	}).Info("activation snapshot loaded")

	return nil
}

// ResolveRules returns the payloads of the rule documents that apply to path
// in application order.
func (s *Service) ResolveRules(path string) []string {
	return s.current.Load().resolver.Payloads(path)
}

// ResolveDocuments is like ResolveRules but returns copies of the documents
func (s *Service) ResolveDocuments(path string) []*rules.Document {
	return s.current.Load().resolver.Resolve(path)
}

// DispatchHook runs the hooks bound to event for toolName against the
// snapshot active when the call starts. A concurrent Load does not affect a
// dispatch already in progress. Shutdown cancels running hooks; once the
// service is shut down PreToolUse events are denied.
func (s *Service) DispatchHook(ctx context.Context, event hooks.Event, toolName string, hctx hooks.Context) hooks.Decision {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return closedDecision(event)
	}
	s.inflight.Add(1)
	s.mu.RUnlock()
	defer s.inflight.Done()

	s.active.Add(1)
	defer s.active.Add(-1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.root, cancel)
	defer stop()

	return s.current.Load().dispatcher.Dispatch(ctx, event, toolName, hctx)
}

func closedDecision(event hooks.Event) hooks.Decision {
	d := hooks.Decision{Allow: true, Outcomes: []hooks.Outcome{}}
	if event == hooks.PreToolUse {
		d.Allow = false
		d.Reason = ErrClosed.Error()
	}
	return d
}

// Shutdown stops accepting dispatches, cancels every running hook and waits
// until all in-flight dispatches have returned or ctx is done. It is safe to
// call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.G(ctx).Debug("activation service shut down")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "timed out waiting for in-flight hooks")
	}
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Snapshot returns the active snapshot
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Stats summarises the active snapshot and the service state
func (s *Service) Stats() Stats {
	stats := s.current.Load().stats()
	stats.InFlight = s.active.Load()
	stats.Closed = s.isClosed()
	return stats
}
