//go:build windows

package osutil

import (
	"os"
	"os/exec"
	"time"
)

// GracefulShutdownDelay bounds how long Wait blocks after cancellation.
// Windows has no SIGTERM equivalent for console processes, so the process is
// killed immediately.
const GracefulShutdownDelay = 2 * time.Second

// SetProcessGroup is a no-op on Windows.
func SetProcessGroup(_ *exec.Cmd) {}

// SetProcessGroupTerminate kills the process directly when the command's
// context is cancelled; child processes may outlive it. There is never a
// pending kill, so release always reports false.
func SetProcessGroupTerminate(cmd *exec.Cmd, grace time.Duration) (release func() bool) {
	if grace <= 0 {
		grace = GracefulShutdownDelay
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
	cmd.WaitDelay = grace
	return func() bool { return false }
}
