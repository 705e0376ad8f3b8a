package supervisor

import (
	"time"

	"github.com/wine-bar/log-capturing-runner/internal/constants"
	"github.com/wine-bar/log-capturing-runner/ringbuf"
)

// ChildState is the tagged-variant view of a SupervisorState's three pid
// fields, derived rather than stored: callers that want the clearer enum
// can ask for it, while the event loop keeps mutating the literal fields
// the invariants below are written against.
type ChildState int

const (
	StateRunningTarget ChildState = iota
	StateWaitingForCleanup
	StateKillingCleanup
	StateExiting
)

func (s ChildState) String() string {
	switch s {
	case StateRunningTarget:
		return "RUNNING_TARGET"
	case StateWaitingForCleanup:
		return "WAITING_FOR_CLEANUP"
	case StateKillingCleanup:
		return "KILLING_CLEANUP"
	case StateExiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// StdioStream is a per-capture record: where it will be written, the
// buffer accumulating it, and the throttled-flush bookkeeping.
type StdioStream struct {
	FileName      string
	Buffer        *ringbuf.HeadTailBuffer
	LastFlushTime time.Time
	Dirty         bool
}

// NewStdioStream allocates a stream record backed by a fresh
// HeadTailBuffer of the given capacities.
func NewStdioStream(fileName string, headCapacity, tailCapacity int) (*StdioStream, error) {
	buf, err := ringbuf.NewHeadTailBuffer(headCapacity, tailCapacity)
	if err != nil {
		return nil, err
	}
	return &StdioStream{
		FileName: fileName,
		Buffer:   buf,
	}, nil
}

// SupervisorState holds everything the event loop mutates across
// iterations: child identities, termination bookkeeping, and the two
// optional capture streams.
//
// Invariants (see spec's data model): targetPid == -1 implies
// targetExit is final; waiterPid != -1 implies targetPid == -1;
// killerPid != -1 implies waiterPid != -1.
type SupervisorState struct {
	Exiting              bool
	TerminationRequested bool

	OutDir    string
	WaiterCmd []string

	TargetPid int
	WaiterPid int
	KillerPid int

	TargetExit int

	Stdout *StdioStream
	Stderr *StdioStream

	CaptureDisabled bool
}

// NewSupervisorState returns a state with no children yet spawned and
// the target's exit status defaulted to the generic-failure code, per
// the data model's "defaulting to a non-zero generic failure code until
// known" rule.
func NewSupervisorState(outDir string, waiterCmd []string, captureDisabled bool) *SupervisorState {
	return &SupervisorState{
		OutDir:          outDir,
		WaiterCmd:       waiterCmd,
		TargetPid:       -1,
		WaiterPid:       -1,
		KillerPid:       -1,
		TargetExit:      constants.GenericFailureExitCode,
		CaptureDisabled: captureDisabled,
	}
}

// State derives the tagged-variant view from the literal pid fields.
func (s *SupervisorState) State() ChildState {
	switch {
	case s.Exiting:
		return StateExiting
	case s.KillerPid != -1:
		return StateKillingCleanup
	case s.WaiterPid != -1:
		return StateWaitingForCleanup
	default:
		return StateRunningTarget
	}
}

// streams returns the two stream slots (possibly nil entries when
// capture is disabled), for callers that want to iterate both
// uniformly.
func (s *SupervisorState) streams() [2]*StdioStream {
	return [2]*StdioStream{s.Stdout, s.Stderr}
}
