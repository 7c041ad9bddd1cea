//go:build unix

package osutil

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// GracefulShutdownDelay is how long a terminated process group gets to exit
// after SIGTERM before it is sent SIGKILL.
const GracefulShutdownDelay = 2 * time.Second

// SetProcessGroup configures the command to run in its own process group.
// This allows killing the entire process tree on timeout.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// SetProcessGroupTerminate installs a cancel function that sends SIGTERM to
// the whole process group and SIGKILL once grace has elapsed. It also bounds
// how long Wait blocks on inherited stdio after cancellation.
// Must be called after SetProcessGroup and before cmd.Start().
//
// The returned release func must be called after cmd.Wait returns. If the
// group has already exited it stops the pending SIGKILL, so that a recycled
// process group ID is never signalled, and reports whether it did.
func SetProcessGroupTerminate(cmd *exec.Cmd, grace time.Duration) (release func() bool) {
	if grace <= 0 {
		grace = GracefulShutdownDelay
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return os.ErrProcessDone
			}
			return err
		}
		mu.Lock()
		timer = time.AfterFunc(grace, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		mu.Unlock()
		return nil
	}
	cmd.WaitDelay = grace + 100*time.Millisecond

	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		if timer == nil || cmd.Process == nil {
			return false
		}
		// Stragglers keep the group ID reserved and still need the SIGKILL.
		if err := syscall.Kill(-cmd.Process.Pid, 0); !errors.Is(err, syscall.ESRCH) {
			return false
		}
		return timer.Stop()
	}
}
