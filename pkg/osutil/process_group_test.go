//go:build unix

package osutil

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetProcessGroup(t *testing.T) {
	cmd := exec.Command("echo", "test")
	SetProcessGroup(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid, "Setpgid should be true")
}

func TestSetProcessGroupTerminate_DefaultsGrace(t *testing.T) {
	cmd := exec.Command("true")
	SetProcessGroupTerminate(cmd, 0)

	assert.NotNil(t, cmd.Cancel)
	assert.Equal(t, GracefulShutdownDelay+100*time.Millisecond, cmd.WaitDelay)
}

func TestSetProcessGroupTerminate_GracefulShutdown(t *testing.T) {
	script := `trap 'exit 0' TERM; while true; do sleep 0.1; done`

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	SetProcessGroup(cmd)
	release := SetProcessGroupTerminate(cmd, 2*time.Second)
	require.NoError(t, cmd.Start())

	// Give the process time to set up its trap handler
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	cancel()
	_ = cmd.Wait()

	assert.Less(t, time.Since(start), time.Second, "SIGTERM should be enough")
	assert.True(t, release(), "the pending SIGKILL is stopped once the group is gone")
}

func TestSetProcessGroupTerminate_ReleaseWithoutCancel(t *testing.T) {
	cmd := exec.Command("true")
	SetProcessGroup(cmd)
	release := SetProcessGroupTerminate(cmd, time.Second)

	require.NoError(t, cmd.Run())
	assert.False(t, release(), "nothing is pending when the command was never cancelled")
}

func TestSetProcessGroupTerminate_ForceKillsGroupAfterGrace(t *testing.T) {
	grace := 300 * time.Millisecond
	script := `
		(trap '' TERM; while true; do sleep 0.1; done) &
		echo "CHILD:$!"
		trap '' TERM
		while true; do sleep 0.1; done
	`

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	SetProcessGroup(cmd)
	release := SetProcessGroupTerminate(cmd, grace)

	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	childPid, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(line), "CHILD:"))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, syscall.Kill(childPid, 0), "child should be running")

	start := time.Now()
	cancel()
	_ = cmd.Wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, grace-50*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)

	assert.False(t, release(), "the SIGKILL has already fired")

	assert.Eventually(t, func() bool {
		return processGone(childPid)
	}, 2*time.Second, 50*time.Millisecond, "child should be killed with the group")
}

func TestSetProcessGroupTerminate_ProcessAlreadyDead(t *testing.T) {
	cmd := exec.Command("true")
	SetProcessGroup(cmd)
	SetProcessGroupTerminate(cmd, time.Second)

	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	err := cmd.Cancel()
	assert.ErrorIs(t, err, os.ErrProcessDone)
}

// processGone reports whether pid has exited. Unreaped zombies count as gone.
func processGone(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat))
	return len(fields) > 2 && fields[2] == "Z"
}
