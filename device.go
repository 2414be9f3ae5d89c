package scanrig

import "gonum.org/v1/gonum/mat"

// RawType holds raw signal data.
type RawType uint16

// TriggerEdge selects which edge of the digital start-trigger source arms
// a task.
type TriggerEdge int

// Names for the possible values of TriggerEdge
const (
	RisingEdge TriggerEdge = iota
	FallingEdge
)

func (e TriggerEdge) String() string {
	if e == FallingEdge {
		return "falling"
	}
	return "rising"
}

// TimingMode selects finite or continuous sample timing for a task.
type TimingMode int

// Names for the possible values of TimingMode
const (
	FiniteSamples TimingMode = iota
	ContinuousSamples
)

// SignalKind identifies an internal hardware signal that a device can route
// to a physical terminal with ExportSignal.
type SignalKind int

// Names for the possible values of SignalKind
const (
	SampleClockSignal SignalKind = iota
	StartTriggerSignal
)

// Task is the capability surface common to every hardware task: analog
// input, analog output, digital line, and counter. The engine depends only
// on this surface, never on a vendor's task/channel object model.
//
// ConfigureTiming takes a clock source terminal (empty string means the
// device generates its own sample clock), a rate in Hz, a timing mode, and
// a per-buffer sample count. Verify performs a dry-run configuration check
// without starting. Unreserve releases the device's exclusive hardware
// claim so another task can use it.
type Task interface {
	ConfigureTiming(source string, rate float64, mode TimingMode, count int) error
	ConfigureStartTrigger(source string, edge TriggerEdge) error
	Verify() error
	Start() error
	Stop() error
	Unreserve() error
}

// AnalogInputDevice is the capability surface of one analog input card.
// NotifyEveryN arranges for fn to run on the driver's event context once
// per n newly acquired samples; the returned function unregisters it.
// ReadRaw returns the next n unscaled samples at the driver's read cursor
// and advances the cursor, wrapping at the configured buffer capacity.
type AnalogInputDevice interface {
	Task
	ConfigureChannels(paths []string) error
	ReadRaw(n int) ([]RawType, error)
	NotifyEveryN(n int, fn func()) (cancel func(), err error)
	ExportSignal(kind SignalKind, destination string) error
}

// AnalogOutputDevice is the capability surface of one analog output card.
// WriteBlock loads one block (rows = time samples, cols = channels); with
// startImmediately false the task stays armed until its start trigger
// fires. With regeneration enabled the hardware re-emits the last loaded
// block continuously, so a gap between writes repeats the previous block
// instead of underrunning.
type AnalogOutputDevice interface {
	Task
	ConfigureChannels(paths []string) error
	WriteBlock(block *mat.Dense, startImmediately bool) error
	ExportSignal(kind SignalKind, destination string) error
	EnableRegeneration(enable bool) error
}

// DigitalLine is the capability surface of a single digital output line,
// written synchronously.
type DigitalLine interface {
	Task
	WriteSingleLine(enable, level bool) error
}

// PulseCounter is the capability surface of a counter/timer configured for
// a one-shot pulse. WaitUntilDone blocks, with no timeout, until the
// hardware acknowledges pulse completion.
type PulseCounter interface {
	Task
	WaitUntilDone() error
}

// Hardware constructs capability objects for physical devices, identified
// by bus/slot address strings (e.g. "Dev1") or channel path strings (e.g.
// "Dev1/port0/line2"). Implementations reserve hardware lazily; errors from
// these constructors mean the device could not be found or claimed.
type Hardware interface {
	AnalogInput(device string) (AnalogInputDevice, error)
	AnalogOutput(device string) (AnalogOutputDevice, error)
	DigitalLine(path string) (DigitalLine, error)
	PulseCounter(path string) (PulseCounter, error)
}
