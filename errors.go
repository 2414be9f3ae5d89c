package scanrig

import "fmt"

// ConfigurationError indicates bad channel, assignment, or rate data. These
// are caught before any hardware is touched, wherever possible.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

func configErrorf(format string, a ...interface{}) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, a...)}
}

// SynchronizationError indicates a violation of the clock/trigger wiring
// invariants, e.g. configuring a secondary device's timing before the
// primary's sample clock export is active.
type SynchronizationError struct {
	msg string
}

func (e *SynchronizationError) Error() string { return e.msg }

func syncErrorf(format string, a ...interface{}) error {
	return &SynchronizationError{msg: fmt.Sprintf(format, a...)}
}

// HardwareIOError indicates that a configure/verify/start/stop/write/read
// call failed at the hardware capability layer. It wraps the underlying
// device error.
type HardwareIOError struct {
	Op  string // which hardware call failed, e.g. "write AO block"
	Err error
}

func (e *HardwareIOError) Error() string {
	return fmt.Sprintf("hardware I/O error in %s: %v", e.Op, e.Err)
}

func (e *HardwareIOError) Unwrap() error { return e.Err }

func hwError(op string, err error) error {
	return &HardwareIOError{Op: op, Err: err}
}

// CallbackError indicates that a consumer-supplied acquisition callback
// panicked during dispatch. One failed block is recoverable: the error is
// surfaced, but acquisition continues.
type CallbackError struct {
	Value interface{} // the recovered panic value
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("acquisition callback panicked: %v", e.Value)
}
