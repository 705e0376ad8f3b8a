// Package constants holds shared tuning knobs for the supervisor and its
// ring buffers.
package constants

import "time"

const (
	// PerChannelHeadCapacity is the default number of leading bytes kept
	// per captured stream.
	PerChannelHeadCapacity = 8 * 1024

	// PerChannelTailCapacity is the default number of trailing bytes kept
	// per captured stream.
	PerChannelTailCapacity = 8 * 1024

	// FlushIntervalMs bounds how often a dirty stream is written to disk.
	FlushIntervalMs = 500

	// ScratchReadSize is the size of the scratch buffer used when the
	// kernel reports zero bytes immediately readable.
	ScratchReadSize = 4096
)

// FlushInterval is FlushIntervalMs as a time.Duration, for callers that
// work in durations rather than raw milliseconds.
const FlushInterval = FlushIntervalMs * time.Millisecond

const (
	// StatusFileName is the file holding the target's decimal exit status.
	StatusFileName = "status.txt"

	// StdoutFileName is the file holding the captured stdout head/tail.
	StdoutFileName = "stdout.txt"

	// StderrFileName is the file holding the captured stderr head/tail.
	StderrFileName = "stderr.txt"

	// SupervisorLogFileName is the supervisor's own diagnostic log.
	SupervisorLogFileName = "supervisor.log"
)

// CutMarker is the fixed ASCII separator written between the head and
// tail of a capture file whenever bytes were discarded between them.
// The exact bytes matter: anything that parses these files downstream
// greps for this literal marker.
const CutMarker = "\n\n------------------- cut ----------------------\n\n"

// GenericFailureExitCode is the placeholder target exit status recorded
// until the target's real exit status is known.
const GenericFailureExitCode = 1
