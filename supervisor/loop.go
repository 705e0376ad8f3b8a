// Package supervisor implements the event loop that owns a target
// child, a dependent cleanup ("waiter"/"killer") pair, and the
// throttled persistence of their captured output.
package supervisor

import (
	"time"

	"golang.org/x/sys/unix"

	logrunner "github.com/wine-bar/log-capturing-runner"
	"github.com/wine-bar/log-capturing-runner/internal/clock"
	"github.com/wine-bar/log-capturing-runner/internal/constants"
	"github.com/wine-bar/log-capturing-runner/internal/logging"
	"github.com/wine-bar/log-capturing-runner/internal/signalfd"
	"github.com/wine-bar/log-capturing-runner/internal/spawn"
	"github.com/wine-bar/log-capturing-runner/ringbuf"
)

// slot indices into the fixed three-descriptor polled set.
const (
	slotSignal = 0
	slotStdout = 1
	slotStderr = 2
)

// Config configures a single supervised run.
type Config struct {
	OutDir            string
	WaiterExec        string
	DisableLogCapture bool
	TargetArgv        []string
}

// ChildSupervisor drives the poll loop described by the event-loop
// module: one signal descriptor, two stream descriptors, three
// possible children.
type ChildSupervisor struct {
	cfg     Config
	state   *SupervisorState
	signals *signalfd.Source
	log     *logging.Logger

	stdoutFd int
	stderrFd int
}

// New spawns the target and arms signal delivery, returning a
// supervisor ready for Run. On any setup failure, everything opened so
// far is torn down and the target, if already spawned, is left to be
// reaped by the caller's own process tree (setup failures here are a
// kind-5 "supervisor setup failure": exit 1 after logging, per the
// error-handling design).
func New(cfg Config, log *logging.Logger) (*ChildSupervisor, error) {
	if len(cfg.TargetArgv) == 0 {
		return nil, logrunner.NewError("spawn_target", logrunner.ErrCodeInvalidConfig, "empty target argv")
	}

	src, err := signalfd.Open(unix.SIGTERM, unix.SIGCHLD)
	if err != nil {
		return nil, logrunner.WrapError("arm_signals", err)
	}

	stdoutMode := spawn.StdioDefault
	stderrMode := spawn.StdioDefault
	if !cfg.DisableLogCapture {
		stdoutMode = spawn.StdioPipe
		stderrMode = spawn.StdioPipe
	}

	sp, err := spawn.Process(cfg.TargetArgv, spawn.StdioDefault, stdoutMode, stderrMode, nil, log)
	if err != nil {
		src.Close()
		return nil, logrunner.WrapError("spawn_target", err)
	}

	state := NewSupervisorState(cfg.OutDir, []string{cfg.WaiterExec}, cfg.DisableLogCapture)
	state.TargetPid = sp.Pid

	if !cfg.DisableLogCapture {
		stdout, err := NewStdioStream(constants.StdoutFileName, constants.PerChannelHeadCapacity, constants.PerChannelTailCapacity)
		if err != nil {
			src.Close()
			unix.Close(sp.StdoutFd)
			unix.Close(sp.StderrFd)
			return nil, logrunner.WrapError("setup_capture", err)
		}
		stderr, err := NewStdioStream(constants.StderrFileName, constants.PerChannelHeadCapacity, constants.PerChannelTailCapacity)
		if err != nil {
			src.Close()
			unix.Close(sp.StdoutFd)
			unix.Close(sp.StderrFd)
			return nil, logrunner.WrapError("setup_capture", err)
		}
		state.Stdout = stdout
		state.Stderr = stderr
	}

	return &ChildSupervisor{
		cfg:      cfg,
		state:    state,
		signals:  src,
		log:      log,
		stdoutFd: sp.StdoutFd,
		stderrFd: sp.StderrFd,
	}, nil
}

// Run drives the loop until exiting is set, then performs final
// persistence and returns the target's recorded exit status.
func (cs *ChildSupervisor) Run() int {
	defer cs.signals.Close()

	for !cs.state.Exiting {
		now := clock.Now()
		timeoutMs := cs.computeTimeoutMs(now)

		fds := []unix.PollFd{
			{Fd: int32(cs.signals.Fd()), Events: unix.POLLIN},
			{Fd: int32(cs.stdoutFd), Events: unix.POLLIN},
			{Fd: int32(cs.stderrFd), Events: unix.POLLIN},
		}

		n, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if ringbuf.IsTransient(err) {
				continue
			}
			cs.log.Errorf("poll failed, terminating loop: %v", err)
			break
		}

		if n > 0 {
			if !cs.state.CaptureDisabled {
				cs.processStreamEvent(&cs.stdoutFd, cs.state.Stdout, fds[slotStdout].Revents)
				cs.processStreamEvent(&cs.stderrFd, cs.state.Stderr, fds[slotStderr].Revents)
			}
			cs.processSignalEvent(fds[slotSignal].Revents)
		}

		now = clock.Now()
		cs.maybeFlush(cs.state.Stdout, now, true)
		cs.maybeFlush(cs.state.Stderr, now, true)
	}

	return cs.finish()
}

// computeTimeoutMs implements the "compute timeout" step: the minimum
// across streams of time-until-next-flush, or -1 (block indefinitely)
// when capture is disabled or nothing is dirty.
func (cs *ChildSupervisor) computeTimeoutMs(now time.Time) int {
	if cs.state.CaptureDisabled {
		return -1
	}

	best := -1 // -1 doubles as "+infinity so far", matching poll's own "block forever" value
	for _, stream := range cs.state.streams() {
		if stream == nil || !stream.Dirty {
			continue
		}

		var untilMs int64
		if stream.LastFlushTime.IsZero() {
			untilMs = 0
		} else {
			untilMs = clock.MsBetween(now, clock.AddMs(stream.LastFlushTime, constants.FlushIntervalMs))
			if untilMs < 0 {
				untilMs = 0
			}
		}

		if best == -1 || untilMs < int64(best) {
			best = int(untilMs)
		}
	}

	return best
}

// processStreamEvent implements "stream event handling" for a single
// descriptor slot.
func (cs *ChildSupervisor) processStreamEvent(fd *int, stream *StdioStream, revents int16) {
	if *fd < 0 || stream == nil || revents == 0 {
		return
	}

	if revents&unix.POLLIN != 0 {
		status, err := stream.Buffer.AppendFromFd(*fd)
		stream.Dirty = true

		if status == ringbuf.StreamError && !ringbuf.IsTransient(err) {
			cs.log.Warnf("stream %s read error: %v", stream.FileName, err)
			cs.disableFd(fd)
			return
		}
		if status == ringbuf.StreamEOF {
			cs.disableFd(fd)
			return
		}
	}

	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		cs.disableFd(fd)
	}
}

// disableFd closes the descriptor and stores a negative sentinel so
// the next poll ignores this slot, per the "disabled descriptors" rule.
func (cs *ChildSupervisor) disableFd(fd *int) {
	if *fd < 0 {
		return
	}
	unix.Close(*fd)
	*fd = -1
}

// processSignalEvent implements "signal event handling" plus the
// "signal-descriptor error" rule for the signal slot.
func (cs *ChildSupervisor) processSignalEvent(revents int16) {
	if revents == 0 {
		return
	}

	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		if cs.state.TargetPid != -1 {
			unix.Kill(cs.state.TargetPid, unix.SIGTERM)
		}
		cs.state.Exiting = true
		return
	}

	if revents&unix.POLLIN == 0 {
		return
	}

	for {
		info, err := cs.signals.Read()
		if err != nil {
			if !ringbuf.IsTransient(err) {
				cs.log.Warnf("signal read failed: %v", err)
			}
			return
		}
		cs.dispatchSignal(unix.Signal(info.Signo))
	}
}

func (cs *ChildSupervisor) dispatchSignal(sig unix.Signal) {
	switch sig {
	case unix.SIGTERM:
		cs.onTerminationRequested()
	case unix.SIGCHLD:
		cs.onChildExited()
	default:
		cs.log.Infof("ignoring signal %d", sig)
	}
}

// onTerminationRequested implements the "Termination requested" branch.
func (cs *ChildSupervisor) onTerminationRequested() {
	cs.state.TerminationRequested = true

	if cs.state.TargetPid != -1 {
		unix.Kill(cs.state.TargetPid, unix.SIGTERM)
	}

	if cs.state.WaiterPid != -1 && cs.state.KillerPid == -1 {
		argv := append([]string{cs.cfg.WaiterExec}, "--kill")
		sp, err := spawn.Process(argv, spawn.StdioDefault, spawn.StdioDefault, spawn.StdioDefault, nil, cs.log)
		if err != nil {
			cs.log.Errorf("failed to spawn killer: %v", err)
			cs.state.Exiting = true
			return
		}
		cs.state.KillerPid = sp.Pid
	}
}

// onChildExited implements the "Child exited" branch: drain every
// exited descendant via non-blocking waitpid(-1, ...) before
// dispatching, since a single SIGCHLD can coalesce more than one exit.
func (cs *ChildSupervisor) onChildExited() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil {
			if err != unix.ECHILD {
				cs.log.Warnf("wait4 failed: %v", err)
			}
			return
		}
		if pid <= 0 {
			return
		}
		cs.handleChildExit(pid, status)
	}
}

func (cs *ChildSupervisor) handleChildExit(pid int, status unix.WaitStatus) {
	switch pid {
	case cs.state.TargetPid:
		cs.state.TargetExit = exitStatusFromWaitStatus(status)
		cs.state.TargetPid = -1

		if cs.state.TerminationRequested {
			cs.state.Exiting = true
			return
		}

		argv := append([]string{cs.cfg.WaiterExec}, "--wait")
		sp, err := spawn.Process(argv, spawn.StdioDefault, spawn.StdioDefault, spawn.StdioDefault, nil, cs.log)
		if err != nil {
			cs.log.Errorf("failed to spawn waiter: %v", err)
			cs.state.Exiting = true
			return
		}
		cs.state.WaiterPid = sp.Pid

	case cs.state.WaiterPid:
		cs.state.WaiterPid = -1
		cs.state.Exiting = true

	default:
		// The killer, or an unrelated descendant; neither blocks shutdown.
	}
}

// exitStatusFromWaitStatus turns a wait4 status into the decimal exit
// status recorded in status.txt: the kernel-reported exit code when
// the child exited normally, or the raw signal number when it was
// killed by one, mirroring the signalfd siginfo's ssi_status verbatim
// rather than applying the 128+signal shell convention.
func exitStatusFromWaitStatus(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return int(status.Signal())
	default:
		return constants.GenericFailureExitCode
	}
}

// maybeFlush implements the throttled-flush helper. When throttled is
// false this is the "no-time variant" used by final persistence: it
// ignores the interval and does not update LastFlushTime.
func (cs *ChildSupervisor) maybeFlush(stream *StdioStream, now time.Time, throttled bool) {
	if stream == nil || !stream.Dirty {
		return
	}

	if throttled && !stream.LastFlushTime.IsZero() && now.Before(clock.AddMs(stream.LastFlushTime, constants.FlushIntervalMs)) {
		return
	}

	if err := persistStream(cs.state.OutDir, stream); err != nil {
		cs.log.Warnf("failed to flush %s: %v", stream.FileName, err)
		return
	}

	stream.Dirty = false
	if throttled {
		stream.LastFlushTime = now
	}
}

// finish implements "final persistence": unconditional status.txt,
// then one forced final flush per stream.
func (cs *ChildSupervisor) finish() int {
	if err := persistStatus(cs.state.OutDir, cs.state.TargetExit); err != nil {
		cs.log.Errorf("failed to write %s: %v", constants.StatusFileName, err)
	}

	if !cs.state.CaptureDisabled {
		now := clock.Now()
		cs.maybeFlush(cs.state.Stdout, now, false)
		cs.maybeFlush(cs.state.Stderr, now, false)
	}

	return cs.state.TargetExit
}
