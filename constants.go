package logrunner

import "github.com/wine-bar/log-capturing-runner/internal/constants"

// Re-export tuning knobs for the public API
const (
	PerChannelHeadCapacity = constants.PerChannelHeadCapacity
	PerChannelTailCapacity = constants.PerChannelTailCapacity
	FlushIntervalMs        = constants.FlushIntervalMs
	ScratchReadSize        = constants.ScratchReadSize

	StatusFileName        = constants.StatusFileName
	StdoutFileName        = constants.StdoutFileName
	StderrFileName        = constants.StderrFileName
	SupervisorLogFileName = constants.SupervisorLogFileName

	CutMarker             = constants.CutMarker
	GenericFailureExitCode = constants.GenericFailureExitCode
)

// FlushInterval is FlushIntervalMs as a time.Duration.
const FlushInterval = constants.FlushInterval
