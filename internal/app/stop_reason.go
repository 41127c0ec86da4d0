package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopEOF        StopReason = "eof"
	StopFatalError StopReason = "fatal_error"
)
