package scanrig

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Simulated hardware capability set. It stands in for the vendor driver in
// tests and in hardware-free demo runs: every configuration call is
// recorded, block notifications are delivered on demand, and tasks can be
// told to refuse verification or arming so that rollback and partial-start
// paths can be exercised.

// SimHardware implements Hardware. Devices are created on first use and
// cached, so a test can obtain a device before handing the SimHardware to
// NewRig and inject failures on it.
type SimHardware struct {
	inputs   map[string]*SimAnalogInput
	outputs  map[string]*SimAnalogOutput
	lines    map[string]*SimDigitalLine
	counters map[string]*SimPulseCounter
}

// NewSimHardware creates an empty simulated device pool.
func NewSimHardware() *SimHardware {
	return &SimHardware{
		inputs:   make(map[string]*SimAnalogInput),
		outputs:  make(map[string]*SimAnalogOutput),
		lines:    make(map[string]*SimDigitalLine),
		counters: make(map[string]*SimPulseCounter),
	}
}

// AnalogInput returns the simulated input card with the given address.
func (sh *SimHardware) AnalogInput(device string) (AnalogInputDevice, error) {
	if d, ok := sh.inputs[device]; ok {
		return d, nil
	}
	d := &SimAnalogInput{SimTask: SimTask{Name: "AI " + device}}
	sh.inputs[device] = d
	return d, nil
}

// AnalogOutput returns the simulated output card with the given address.
func (sh *SimHardware) AnalogOutput(device string) (AnalogOutputDevice, error) {
	if d, ok := sh.outputs[device]; ok {
		return d, nil
	}
	d := &SimAnalogOutput{SimTask: SimTask{Name: "AO " + device}}
	sh.outputs[device] = d
	return d, nil
}

// DigitalLine returns the simulated line with the given path.
func (sh *SimHardware) DigitalLine(path string) (DigitalLine, error) {
	if d, ok := sh.lines[path]; ok {
		return d, nil
	}
	d := &SimDigitalLine{SimTask: SimTask{Name: "line " + path}}
	sh.lines[path] = d
	return d, nil
}

// PulseCounter returns the simulated counter with the given path.
func (sh *SimHardware) PulseCounter(path string) (PulseCounter, error) {
	if d, ok := sh.counters[path]; ok {
		return d, nil
	}
	d := &SimPulseCounter{SimTask: SimTask{Name: "counter " + path}}
	sh.counters[path] = d
	return d, nil
}

// SimTask records the capability calls common to every simulated task.
type SimTask struct {
	Name        string
	ClockSource string
	Rate        float64
	Mode        TimingMode
	Count       int
	TrigSource  string
	TrigEdge    TriggerEdge

	Verified   bool
	Running    bool
	Unreserved bool
	Calls      []string // call names in arrival order

	FailVerify bool // refuse Verify, for rollback tests
	FailStart  bool // refuse Start, for partial-start tests
	FailStop   bool // refuse Stop, for best-effort teardown tests
}

// ConfigureTiming records the timing configuration.
func (t *SimTask) ConfigureTiming(source string, rate float64, mode TimingMode, count int) error {
	t.Calls = append(t.Calls, "timing")
	t.ClockSource = source
	t.Rate = rate
	t.Mode = mode
	t.Count = count
	return nil
}

// ConfigureStartTrigger records the trigger configuration.
func (t *SimTask) ConfigureStartTrigger(source string, edge TriggerEdge) error {
	t.Calls = append(t.Calls, "trigger")
	t.TrigSource = source
	t.TrigEdge = edge
	return nil
}

// Verify performs the dry-run configuration check.
func (t *SimTask) Verify() error {
	t.Calls = append(t.Calls, "verify")
	if t.FailVerify {
		return fmt.Errorf("%s refuses to verify", t.Name)
	}
	t.Verified = true
	return nil
}

// Start arms the task.
func (t *SimTask) Start() error {
	t.Calls = append(t.Calls, "start")
	if t.FailStart {
		return fmt.Errorf("%s refuses to arm", t.Name)
	}
	t.Running = true
	t.Unreserved = false
	return nil
}

// Stop halts the task. Stopping a task that never started is allowed.
func (t *SimTask) Stop() error {
	t.Calls = append(t.Calls, "stop")
	if t.FailStop {
		return fmt.Errorf("%s refuses to stop", t.Name)
	}
	t.Running = false
	return nil
}

// Unreserve releases the simulated hardware claim.
func (t *SimTask) Unreserve() error {
	t.Calls = append(t.Calls, "unreserve")
	t.Running = false
	t.Unreserved = true
	return nil
}

// SimAnalogInput simulates the acquisition card. ReadRaw produces a ramp
// so tests can check block contents and cursor wraparound; DeliverBlocks
// plays the role of the driver's event mechanism.
type SimAnalogInput struct {
	SimTask
	Channels []string
	Exports  map[SignalKind]string

	notifyMu sync.Mutex
	notifyN  int
	notifyFn func()

	readCursor int
}

// ConfigureChannels records the channel paths.
func (d *SimAnalogInput) ConfigureChannels(paths []string) error {
	d.Calls = append(d.Calls, "channels")
	d.Channels = append([]string(nil), paths...)
	return nil
}

// ReadRaw returns n ramp samples and advances the read cursor, wrapping at
// the configured buffer capacity.
func (d *SimAnalogInput) ReadRaw(n int) ([]RawType, error) {
	if d.Count > 0 && n > d.Count {
		return nil, fmt.Errorf("read of %d samples exceeds buffer capacity %d", n, d.Count)
	}
	block := make([]RawType, n)
	for i := range block {
		block[i] = RawType(d.readCursor % 65536)
		d.readCursor++
		if d.Count > 0 && d.readCursor >= d.Count {
			d.readCursor = 0
		}
	}
	return block, nil
}

// NotifyEveryN registers the per-block notification.
func (d *SimAnalogInput) NotifyEveryN(n int, fn func()) (func(), error) {
	d.notifyMu.Lock()
	d.notifyN = n
	d.notifyFn = fn
	d.notifyMu.Unlock()
	cancel := func() {
		d.notifyMu.Lock()
		d.notifyFn = nil
		d.notifyMu.Unlock()
	}
	return cancel, nil
}

// ExportSignal records a signal export.
func (d *SimAnalogInput) ExportSignal(kind SignalKind, destination string) error {
	d.Calls = append(d.Calls, "export")
	if d.Exports == nil {
		d.Exports = make(map[SignalKind]string)
	}
	d.Exports[kind] = destination
	return nil
}

// DeliverBlocks synchronously fires the registered block notification n
// times, as the driver's event mechanism would when data arrives.
func (d *SimAnalogInput) DeliverBlocks(n int) {
	for i := 0; i < n; i++ {
		d.notifyMu.Lock()
		fn := d.notifyFn
		d.notifyMu.Unlock()
		if fn == nil {
			return
		}
		fn()
	}
}

// SimAnalogOutput simulates one output card.
type SimAnalogOutput struct {
	SimTask
	Channels []string
	Exports  map[SignalKind]string
	Regen    bool

	NumWrites    int
	LastRows     int
	LastCols     int
	LastBlock    *mat.Dense
	LastStartNow bool
	WriteErr     error // injected write failure
}

// ConfigureChannels records the channel paths.
func (d *SimAnalogOutput) ConfigureChannels(paths []string) error {
	d.Calls = append(d.Calls, "channels")
	d.Channels = append([]string(nil), paths...)
	return nil
}

// WriteBlock records the block dimensions and start mode.
func (d *SimAnalogOutput) WriteBlock(block *mat.Dense, startImmediately bool) error {
	d.Calls = append(d.Calls, "write")
	if d.WriteErr != nil {
		return d.WriteErr
	}
	d.NumWrites++
	d.LastRows, d.LastCols = block.Dims()
	d.LastBlock = mat.DenseCopyOf(block)
	d.LastStartNow = startImmediately
	return nil
}

// ExportSignal records a signal export.
func (d *SimAnalogOutput) ExportSignal(kind SignalKind, destination string) error {
	d.Calls = append(d.Calls, "export")
	if d.Exports == nil {
		d.Exports = make(map[SignalKind]string)
	}
	d.Exports[kind] = destination
	return nil
}

// EnableRegeneration records the regeneration mode.
func (d *SimAnalogOutput) EnableRegeneration(enable bool) error {
	d.Calls = append(d.Calls, "regen")
	d.Regen = enable
	return nil
}

// SimLineWrite is one recorded digital line write.
type SimLineWrite struct {
	Enable bool
	Level  bool
}

// SimDigitalLine simulates the shutter line.
type SimDigitalLine struct {
	SimTask
	Writes []SimLineWrite
}

// WriteSingleLine records one synchronous line write.
func (d *SimDigitalLine) WriteSingleLine(enable, level bool) error {
	d.Calls = append(d.Calls, "writeline")
	d.Writes = append(d.Writes, SimLineWrite{Enable: enable, Level: level})
	return nil
}

// SimPulseCounter simulates the one-shot trigger pulse counter. The pulse
// completes immediately.
type SimPulseCounter struct {
	SimTask
}

// WaitUntilDone returns as soon as the simulated pulse completes.
func (d *SimPulseCounter) WaitUntilDone() error {
	d.Calls = append(d.Calls, "wait")
	return nil
}
