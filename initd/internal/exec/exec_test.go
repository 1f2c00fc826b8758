package exec

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reapPID(t *testing.T, pid int) ExitStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, status := range Reap() {
			if status.PID == pid {
				return status
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("pid %d was never reaped", pid)
	return ExitStatus{}
}

func TestStartProcess(t *testing.T) {
	t.Run("exit code", func(t *testing.T) {
		pid, err := StartProcess([]string{"/bin/sh", "-c", "exit 3"})
		require.NoError(t, err)

		status := reapPID(t, pid)
		assert.Equal(t, 3, status.Code)
	})

	t.Run("command not found", func(t *testing.T) {
		// The interpreter starts fine and reports the failure itself.
		pid, err := StartProcess([]string{"/bin/sh", "-c", "/nonexistent/initd-test"})
		require.NoError(t, err)

		status := reapPID(t, pid)
		assert.NotEqual(t, 0, status.Code)
	})

	t.Run("missing interpreter", func(t *testing.T) {
		_, err := StartProcess([]string{"/nonexistent/sh", "-c", "true"})
		assert.Error(t, err)
	})

	t.Run("empty argv", func(t *testing.T) {
		_, err := StartProcess(nil)
		assert.Error(t, err)
	})
}

func TestSignal(t *testing.T) {
	pid, err := StartProcess([]string{"/bin/sh", "-c", "sleep 30"})
	require.NoError(t, err)

	assert.True(t, Alive(pid))
	require.NoError(t, Signal(pid, syscall.SIGTERM))

	status := reapPID(t, pid)
	assert.Equal(t, -1, status.Code)

	assert.Error(t, Signal(0, syscall.SIGTERM))
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}
