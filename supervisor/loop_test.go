package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wine-bar/log-capturing-runner/internal/constants"
	"github.com/wine-bar/log-capturing-runner/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.LevelError, Output: os.Stderr})
}

// writeWaiterScript writes a no-op shell script that exits 0 regardless
// of arguments, standing in for a real --wait/--kill cleanup tool.
func writeWaiterScript(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "waiter.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

// TestChildSupervisorWaiterPath drives the S5 transition (target exits
// normally, waiter spawned and reaped) through the real handleChildExit
// dispatch and real persistence, without going through the racy
// signalfd/OS-thread delivery path.
func TestChildSupervisorWaiterPath(t *testing.T) {
	dir := t.TempDir()
	waiter := writeWaiterScript(t, dir)

	cfg := Config{
		OutDir:     dir,
		WaiterExec: waiter,
		TargetArgv: []string{"/bin/sh", "-c", "echo hello; exit 3"},
	}
	cs, err := New(cfg, testLogger())
	require.NoError(t, err)

	targetPid := cs.state.TargetPid

	var status unix.WaitStatus
	_, err = unix.Wait4(targetPid, &status, 0, nil)
	require.NoError(t, err)
	cs.handleChildExit(targetPid, status)

	require.Equal(t, -1, cs.state.TargetPid)
	require.Equal(t, 3, cs.state.TargetExit)
	require.NotEqual(t, -1, cs.state.WaiterPid)
	require.False(t, cs.state.Exiting)

	// Drain the target's stdout pipe directly and mark the stream dirty,
	// as the poll loop would.
	for {
		s, err := cs.state.Stdout.Buffer.AppendFromFd(cs.stdoutFd)
		require.NoError(t, err)
		cs.state.Stdout.Dirty = true
		if s.String() == "EOF" {
			break
		}
	}

	waiterPid := cs.state.WaiterPid
	_, err = unix.Wait4(waiterPid, &status, 0, nil)
	require.NoError(t, err)
	cs.handleChildExit(waiterPid, status)

	assert.Equal(t, -1, cs.state.WaiterPid)
	assert.True(t, cs.state.Exiting)

	got := cs.finish()
	assert.Equal(t, 3, got)

	statusData, err := os.ReadFile(filepath.Join(dir, constants.StatusFileName))
	require.NoError(t, err)
	assert.Equal(t, "3", string(statusData))

	stdoutData, err := os.ReadFile(filepath.Join(dir, constants.StdoutFileName))
	require.NoError(t, err)
	assert.Contains(t, string(stdoutData), "hello")
}

// TestOnTerminationRequestedForwardsAndSpawnsKiller drives the S6
// transition: a termination request while a waiter is already running
// forwards SIGTERM to the target and spawns a killer.
func TestOnTerminationRequestedForwardsAndSpawnsKiller(t *testing.T) {
	dir := t.TempDir()
	waiter := writeWaiterScript(t, dir)

	cfg := Config{
		OutDir:            dir,
		WaiterExec:        waiter,
		DisableLogCapture: true,
		TargetArgv:        []string{"/bin/sh", "-c", "sleep 5"},
	}
	cs, err := New(cfg, testLogger())
	require.NoError(t, err)
	targetPid := cs.state.TargetPid

	fakeWaiter, err := New(Config{
		OutDir:            dir,
		WaiterExec:        waiter,
		DisableLogCapture: true,
		TargetArgv:        []string{"/bin/sh", "-c", "sleep 5"},
	}, testLogger())
	require.NoError(t, err)
	cs.state.WaiterPid = fakeWaiter.state.TargetPid
	defer unix.Kill(fakeWaiter.state.TargetPid, unix.SIGKILL)
	defer fakeWaiter.signals.Close()

	cs.onTerminationRequested()

	assert.True(t, cs.state.TerminationRequested)
	assert.NotEqual(t, -1, cs.state.KillerPid)

	var status unix.WaitStatus
	_, err = unix.Wait4(targetPid, &status, 0, nil)
	require.NoError(t, err)
	assert.True(t, status.Signaled())
	assert.Equal(t, unix.SIGTERM, status.Signal())

	unix.Kill(cs.state.KillerPid, unix.SIGKILL)
	unix.Wait4(cs.state.KillerPid, &status, 0, nil)
	unix.Kill(fakeWaiter.state.TargetPid, unix.SIGKILL)
	unix.Wait4(fakeWaiter.state.TargetPid, &status, 0, nil)

	cs.signals.Close()
}
