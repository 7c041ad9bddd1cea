package hooks

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"time"

	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/osutil"
	"github.com/pkg/errors"
)

// maxStderr bounds how much hook stderr is kept on an Outcome
const maxStderr = 4096

// exitCommandNotFound is the shell's exit status for an unknown command
const exitCommandNotFound = 127

// execute runs a single hook to completion. It never returns an error: every
// way a hook can end is folded into the Outcome.
func (d *Dispatcher) execute(ctx context.Context, def *Definition, payload []byte, env []string) Outcome {
	log := logger.G(ctx).WithField("hook", def.ID)
	outcome := Outcome{HookID: def.ID, Timeout: def.Timeout}
	log.Debug("hook pending")

	if ctx.Err() != nil {
		outcome.Status = StatusFailedTimeout
		outcome.Cancelled = true
		outcome.Error = ctx.Err().Error()
		return outcome
	}

	hookCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, def.Command[0], def.Command[1:]...)
	cmd.Dir = d.workDir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	osutil.SetProcessGroup(cmd)
	release := osutil.SetProcessGroupTerminate(cmd, d.grace)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		outcome.Duration = time.Since(start)
		outcome.Error = err.Error()
		outcome.ExitCode = -1
		if isNotFound(err) {
			outcome.Status = StatusFailedNotFound
		} else {
			outcome.Status = StatusFailedNonZero
		}
		log.WithError(err).WithField("status", outcome.Status).Debug("hook failed to start")
		return outcome
	}
	log.WithField("pid", cmd.Process.Pid).Debug("hook running")

	err := cmd.Wait()
	release()
	outcome.Duration = time.Since(start)
	outcome.Stderr = tail(stderr.String(), maxStderr)

	switch {
	case err == nil:
		outcome.Status = StatusSucceeded
	case hookCtx.Err() != nil:
		outcome.Status = StatusFailedTimeout
		outcome.ExitCode = -1
		outcome.Cancelled = ctx.Err() != nil
		outcome.Error = hookCtx.Err().Error()
	default:
		outcome.Error = err.Error()
		outcome.ExitCode = -1
		outcome.Status = StatusFailedNonZero

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			if outcome.ExitCode == exitCommandNotFound {
				outcome.Status = StatusFailedNotFound
			}
		}
	}

	log.WithFields(map[string]interface{}{
		"status":      outcome.Status,
		"exit_code":   outcome.ExitCode,
		"duration_ms": outcome.Duration.Milliseconds(),
		"stdout":      tail(stdout.String(), maxStderr),
	}).Debug("hook finished")

	return outcome
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
