package scanrig

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// RigState is the lifecycle state of the whole assembly. It is owned by
// the Rig and mutated only by construction, Start, and Stop. Callers must
// serialize Start/Stop/Queue; concurrent control calls are not supported
// and not internally locked.
type RigState int

// Names for the possible values of RigState
const (
	RigUnconfigured RigState = iota // construction incomplete or failed
	RigVerified                     // all tasks verified, ready to start
	RigRunning                      // tasks armed/running
	RigStopped                      // stopped and unreserved
)

func (s RigState) String() string {
	switch s {
	case RigVerified:
		return "Verified"
	case RigRunning:
		return "Running"
	case RigStopped:
		return "Stopped"
	}
	return "Unconfigured"
}

// ProgressFunc receives bring-up milestones: a fraction in 0..1 and a
// human-readable message. Purely observational.
type ProgressFunc func(fraction float64, message string)

// initialSampleCount is the placeholder buffer length configured at
// construction; the first Queue call retimes each card for the real block
// length, and the first RegisterCallback retimes the input.
const initialSampleCount = 1000

type namedTask struct {
	name string
	task Task
}

// Rig is the top-level lifecycle controller. It constructs the fabric,
// the output streamers, the input streamer, the shutter, and the trigger
// pulse generator in dependency order, verifies every task before first
// use, and exposes Start/Stop acting on the whole assembly.
//
// All hardware handles live in this one owned struct; there is no ambient
// or global hardware state.
type Rig struct {
	cfg    RigConfig
	fabric *SyncFabric

	aiDev   AnalogInputDevice
	aoDevs  []AnalogOutputDevice
	input   *InputStreamer
	outputs []*OutputStreamer
	shutter *Shutter
	pulse   *TriggerPulse
	stage   *Positioner // nil when no stage is configured

	recorder *BlockRecorder // nil unless RecordPath is set

	tasks    []namedTask // every reserved task, in construction order
	state    RigState
	progress ProgressFunc
}

// NewRig builds and verifies the whole assembly. Any failure releases all
// already-reserved tasks before the error propagates, so a half-built rig
// never leaves hardware reserved.
func NewRig(cfg RigConfig, hw Hardware, progress ProgressFunc) (*Rig, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	r := &Rig{cfg: cfg, state: RigUnconfigured, progress: progress}

	progress(0.0, "validating configuration")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fabric, err := NewSyncFabric(cfg.ClockExportLine, cfg.TriggerSpec())
	if err != nil {
		return nil, err
	}
	r.fabric = fabric

	if err := r.build(hw); err != nil {
		r.releaseAll()
		return nil, err
	}
	r.state = RigVerified
	progress(1.0, "rig verified")
	return r, nil
}

func (r *Rig) build(hw Hardware) error {
	cfg := &r.cfg
	primary := cfg.PrimaryOutput()
	inputRole := ClockSecondary
	if primary < 0 {
		inputRole = ClockPrimary
	}

	r.progress(0.15, "reserving analog input "+cfg.Input.Device)
	aiDev, err := hw.AnalogInput(cfg.Input.Device)
	if err != nil {
		return hwError("reserve AI device "+cfg.Input.Device, err)
	}
	r.aiDev = aiDev
	r.tasks = append(r.tasks, namedTask{"AI " + cfg.Input.Device, aiDev})
	r.input, err = NewInputStreamer(aiDev, cfg.Input.Device, inputRole, r.fabric,
		cfg.Input.Channels, cfg.InputRate, cfg.BufferFloor)
	if err != nil {
		return err
	}

	r.progress(0.35, fmt.Sprintf("reserving %d analog output group(s)", len(cfg.Outputs)))
	for i := range cfg.Outputs {
		g := &cfg.Outputs[i]
		role := ClockSecondary
		if i == primary {
			role = ClockPrimary
		}
		aoDev, err := hw.AnalogOutput(g.Device)
		if err != nil {
			return hwError("reserve AO device "+g.Device, err)
		}
		r.aoDevs = append(r.aoDevs, aoDev)
		r.tasks = append(r.tasks, namedTask{"AO " + g.Device, aoDev})
		out, err := NewOutputStreamer(aoDev, g.Device, role, r.fabric,
			g.Channels, g.Assignment, cfg.OutputRate)
		if err != nil {
			return err
		}
		r.outputs = append(r.outputs, out)
	}

	// The primary's timing must be configured, and its clock export active,
	// before any secondary references the exported line.
	r.progress(0.55, "configuring timing")
	if primary >= 0 {
		if err := r.outputs[primary].ConfigureTiming(initialSampleCount); err != nil {
			return err
		}
	} else {
		if err := r.input.ConfigureTiming(initialSampleCount); err != nil {
			return err
		}
	}
	for i, out := range r.outputs {
		if i == primary {
			continue
		}
		if err := out.ConfigureTiming(initialSampleCount); err != nil {
			return err
		}
	}
	if primary >= 0 {
		if err := r.input.ConfigureTiming(initialSampleCount); err != nil {
			return err
		}
	}

	r.progress(0.65, "reserving shutter and trigger pulse")
	line, err := hw.DigitalLine(cfg.ShutterLine)
	if err != nil {
		return hwError("reserve shutter line "+cfg.ShutterLine, err)
	}
	r.tasks = append(r.tasks, namedTask{"shutter " + cfg.ShutterLine, line})
	r.shutter = NewShutter(line, cfg.ShutterLine)
	ctr, err := hw.PulseCounter(cfg.PulseCounter)
	if err != nil {
		return hwError("reserve pulse counter "+cfg.PulseCounter, err)
	}
	r.tasks = append(r.tasks, namedTask{"pulse " + cfg.PulseCounter, ctr})
	r.pulse = NewTriggerPulse(ctr, cfg.PulseCounter)

	// Trigger configuration strictly precedes verification. The shutter is
	// a synchronous write and the counter generates the trigger, so only
	// the streaming tasks arm on it.
	r.progress(0.7, "configuring start triggers")
	if err := r.fabric.armTask(r.aiDev); err != nil {
		return err
	}
	for _, dev := range r.aoDevs {
		if err := r.fabric.armTask(dev); err != nil {
			return err
		}
	}

	r.progress(0.85, "verifying tasks")
	for _, nt := range r.tasks {
		if err := nt.task.Verify(); err != nil {
			return hwError("verify "+nt.name, err)
		}
	}

	if cfg.Stage.Port != "" {
		r.progress(0.95, "connecting stage on "+cfg.Stage.Port)
		stage, err := ConnectPositioner(cfg.Stage.Port, cfg.Stage.StepsPerMicron)
		if err != nil {
			return err
		}
		r.stage = stage
	}
	if cfg.RecordPath != "" {
		r.recorder = NewBlockRecorder(cfg.RecordPath)
	}
	return nil
}

// releaseAll unreserves every constructed task, best effort, and closes
// the stage port. Used for construction rollback and by Stop.
func (r *Rig) releaseAll() []error {
	var errs []error
	for _, nt := range r.tasks {
		if err := nt.task.Unreserve(); err != nil {
			errs = append(errs, hwError("unreserve "+nt.name, err))
		}
	}
	if r.stage != nil {
		if err := r.stage.Close(); err != nil {
			errs = append(errs, err)
		}
		r.stage = nil
	}
	return errs
}

// Queue loads one sample matrix (rows = time samples, cols = logical
// signals) into every output group, each taking its own columns per its
// assignment. Valid once the rig is verified; does not require a
// stop/start cycle between calls with different row counts.
func (r *Rig) Queue(samples *mat.Dense) error {
	if r.state != RigVerified && r.state != RigRunning {
		return configErrorf("cannot Queue a rig that is %v", r.state)
	}
	for _, out := range r.outputs {
		if err := out.Queue(samples); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCallback registers the acquisition consumer. When a record path
// is configured, every delivered block is also appended to the recorder.
func (r *Rig) RegisterCallback(fn func([]RawType), blockSize int) (*Subscription, error) {
	wrapped := fn
	if r.recorder != nil {
		rec := r.recorder
		wrapped = func(block []RawType) {
			rec.Append(block)
			fn(block)
		}
	}
	return r.input.RegisterCallback(wrapped, blockSize)
}

// Start arms the whole assembly: every output task first, then the input
// task. The outputs must be armed before the input that shares their start
// trigger, or the trigger could fire before an output is ready.
//
// On partial failure the rig stays in its prior state; the caller is
// expected to call Stop to guarantee release.
func (r *Rig) Start() error {
	if r.state != RigVerified && r.state != RigStopped {
		return configErrorf("cannot Start a rig that is %v", r.state)
	}
	for i, out := range r.aoDevs {
		if err := out.Start(); err != nil {
			return hwError("start AO "+r.cfg.Outputs[i].Device, err)
		}
	}
	if err := r.aiDev.Start(); err != nil {
		return hwError("start AI "+r.cfg.Input.Device, err)
	}
	r.state = RigRunning
	return nil
}

// Stop unwinds the whole assembly from any state: close the shutter
// (fail-safe), cancel the input subscription, stop the input then every
// output, flush the recorder, and unreserve all hardware. Every step is
// attempted even if an earlier one fails; the failures are aggregated into
// the returned error. Stop is idempotent and must be safe after a
// partially failed Start, so it never assumes a task reached Running.
func (r *Rig) Stop() error {
	if r.state == RigStopped {
		return nil
	}
	var errs []error
	if r.shutter != nil {
		if err := r.shutter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.input != nil {
		r.input.CancelActive()
	}
	if r.aiDev != nil {
		if err := r.aiDev.Stop(); err != nil {
			errs = append(errs, hwError("stop AI "+r.cfg.Input.Device, err))
		}
	}
	for i, dev := range r.aoDevs {
		if err := dev.Stop(); err != nil {
			errs = append(errs, hwError("stop AO "+r.cfg.Outputs[i].Device, err))
		}
	}
	if r.recorder != nil {
		if err := r.recorder.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, r.releaseAll()...)
	r.state = RigStopped
	return errors.Join(errs...)
}

// State returns the rig's lifecycle state.
func (r *Rig) State() RigState { return r.state }

// Config returns a copy of the rig's configuration.
func (r *Rig) Config() RigConfig { return r.cfg }

// Input returns the input streamer.
func (r *Rig) Input() *InputStreamer { return r.input }

// Shutter returns the shutter line wrapper.
func (r *Rig) Shutter() *Shutter { return r.shutter }

// Pulse returns the one-shot trigger pulse generator.
func (r *Rig) Pulse() *TriggerPulse { return r.pulse }

// Stage returns the positioner handle, or nil if no stage is configured.
// The engine holds the handle; it never commands the stage itself.
func (r *Rig) Stage() *Positioner { return r.stage }
