// Command log-capturing-runner spawns a target process, captures a
// bounded head/tail window of its stdout and stderr, waits out a
// dependent cleanup process, forwards termination signals, and
// persists the result to a directory.
//
// Usage: log-capturing-runner <outDir> <cmd> [args...]
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wine-bar/log-capturing-runner/internal/constants"
	"github.com/wine-bar/log-capturing-runner/internal/logging"
	"github.com/wine-bar/log-capturing-runner/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	// argv mirrors the original C program's argv[1]/argv[2:] layout
	// exactly; there are no flags or subcommands to parse.
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <outDir> <cmd> [args...]\n", filepath.Base(os.Args[0]))
		return 1
	}
	outDir := os.Args[1]
	targetArgv := os.Args[2:]

	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "%s: output directory does not exist: %s\n", os.Args[0], outDir)
		return 1
	}

	log, logErr := openSupervisorLog(outDir)
	logging.SetDefault(log)

	waiterExec := os.Getenv("WAITER_EXEC")
	waiterContext := os.Getenv("WAITER_CONTEXT")
	if waiterExec == "" {
		log.Error("WAITER_EXEC is required")
		return 1
	}
	if waiterContext == "" {
		log.Error("WAITER_CONTEXT is required")
		return 1
	}

	if logErr != nil {
		log.Warn("failed to open supervisor log file, continuing without it", "error", logErr)
	}

	cfg := supervisor.Config{
		OutDir:            outDir,
		WaiterExec:        waiterExec,
		DisableLogCapture: os.Getenv("DISABLE_LOG_CAPTURE") == "1",
		TargetArgv:        targetArgv,
	}

	// supervisor.New arms a signalfd for SIGTERM/SIGCHLD, which blocks
	// them in this OS thread's mask. This must happen this early, before
	// anything spins up a goroutine that could end up on a different OS
	// thread with a mismatched mask: those two signals must be claimed
	// exclusively by the signalfd, never delivered through Go's runtime
	// signal channel.
	sv, err := supervisor.New(cfg, log)
	if err != nil {
		log.Error("failed to start supervisor", "error", err)
		return 1
	}

	return sv.Run()
}

// openSupervisorLog honors the original program's separate
// SUPERVISOR_DISABLE_LOGGING knob (distinct from DISABLE_LOG_CAPTURE,
// which only disables stdout/stderr stream capture) and its
// non-fatal-log-open-failure policy.
func openSupervisorLog(outDir string) (*logging.Logger, error) {
	if os.Getenv("SUPERVISOR_DISABLE_LOGGING") == "1" {
		return logging.NewLogger(&logging.Config{Level: logging.LevelError, Output: io.Discard}), nil
	}
	path := filepath.Join(outDir, constants.SupervisorLogFileName)
	return logging.OpenFile(path, logging.LevelInfo)
}
