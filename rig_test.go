package scanrig

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func simRigConfig() RigConfig {
	return RigConfig{
		InputRate:  1250000,
		OutputRate: 250000,
		Input:      InputGroupConfig{Device: "Dev1", Channels: []string{"Dev1/ai0", "Dev1/ai1"}},
		Outputs: []OutputGroupConfig{
			{Device: "Dev2", Channels: []string{"Dev2/ao0", "Dev2/ao1"}, Assignment: []int{1, 2}, Primary: true},
			{Device: "Dev3", Channels: []string{"Dev3/ao0"}, Assignment: []int{3}},
		},
		ClockExportLine: "/Dev2/PFI5",
		TriggerSource:   "/Dev2/PFI0",
		ShutterLine:     "Dev1/port0/line0",
		PulseCounter:    "Dev1/ctr0",
		BufferFloor:     10000, // keep test buffers small
	}
}

// simDevices obtains the simulated devices before they are handed to
// NewRig, so tests can inspect them and inject failures.
type simDevices struct {
	ai      *SimAnalogInput
	primary *SimAnalogOutput
	second  *SimAnalogOutput
	line    *SimDigitalLine
	ctr     *SimPulseCounter
}

func newSimDevices(hw *SimHardware) simDevices {
	ai, _ := hw.AnalogInput("Dev1")
	primary, _ := hw.AnalogOutput("Dev2")
	second, _ := hw.AnalogOutput("Dev3")
	line, _ := hw.DigitalLine("Dev1/port0/line0")
	ctr, _ := hw.PulseCounter("Dev1/ctr0")
	return simDevices{
		ai:      ai.(*SimAnalogInput),
		primary: primary.(*SimAnalogOutput),
		second:  second.(*SimAnalogOutput),
		line:    line.(*SimDigitalLine),
		ctr:     ctr.(*SimPulseCounter),
	}
}

func (d simDevices) allTasks() []*SimTask {
	return []*SimTask{&d.ai.SimTask, &d.primary.SimTask, &d.second.SimTask,
		&d.line.SimTask, &d.ctr.SimTask}
}

func TestRigConstruction(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	var milestones []string
	rig, err := NewRig(simRigConfig(), hw, func(fraction float64, message string) {
		if fraction < 0 || fraction > 1 {
			t.Errorf("progress fraction %v outside 0..1", fraction)
		}
		milestones = append(milestones, message)
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, RigVerified, rig.State())
	assert.True(t, len(milestones) >= 2, "expected several bring-up milestones")

	// Every task is verified, and the trigger was configured before Verify
	// on the streaming tasks.
	for _, task := range devs.allTasks() {
		assert.True(t, task.Verified, "%s not verified", task.Name)
	}
	for _, task := range []*SimTask{&devs.ai.SimTask, &devs.primary.SimTask, &devs.second.SimTask} {
		trigAt, verifyAt := -1, -1
		for i, call := range task.Calls {
			if call == "trigger" && trigAt < 0 {
				trigAt = i
			}
			if call == "verify" && verifyAt < 0 {
				verifyAt = i
			}
		}
		if trigAt < 0 || verifyAt < 0 || trigAt > verifyAt {
			t.Errorf("%s: trigger at call %d, verify at call %d; trigger must come first (%v)",
				task.Name, trigAt, verifyAt, task.Calls)
		}
		assert.Equal(t, "/Dev2/PFI0", task.TrigSource, task.Name)
	}

	// Clock fabric: the primary exports, the others derive.
	assert.Equal(t, "", devs.primary.ClockSource)
	assert.Equal(t, "/Dev2/PFI5", devs.primary.Exports[SampleClockSignal])
	assert.Equal(t, "/Dev2/PFI5", devs.second.ClockSource)
	assert.Equal(t, "/Dev2/PFI5", devs.ai.ClockSource)

	// Regeneration mode is on for every output card.
	assert.True(t, devs.primary.Regen)
	assert.True(t, devs.second.Regen)
}

func TestRigQueueRetimes(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}

	samples := mat.NewDense(10000, 3, nil)
	for r := 0; r < 10000; r++ {
		samples.Set(r, 0, float64(r))     // X
		samples.Set(r, 1, float64(-r))    // Y
		samples.Set(r, 2, float64(2*r+1)) // Z
	}
	if err := rig.Queue(samples); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 10000, devs.primary.Count, "primary sampleCount follows the loaded block")
	assert.Equal(t, float64(250000), devs.primary.Rate)
	assert.Equal(t, 10000, devs.primary.LastRows)
	assert.Equal(t, 2, devs.primary.LastCols)
	assert.False(t, devs.primary.LastStartNow, "writes must not start the task")
	assert.Equal(t, 10000, devs.second.LastRows)
	assert.Equal(t, 1, devs.second.LastCols)
	// Group Dev3 takes logical column 3 (Z).
	assert.Equal(t, float64(2*42+1), devs.second.LastBlock.At(42, 0))

	if err := rig.Start(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, RigRunning, rig.State())

	// A shorter block retimes the cards without a stop/start cycle.
	shorter := mat.NewDense(5000, 3, nil)
	if err := rig.Queue(shorter); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 5000, devs.primary.Count)
	assert.Equal(t, 5000, devs.second.Count)
	assert.Equal(t, 2, devs.primary.NumWrites)
}

func TestRigStartOrder(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.Start(); err != nil {
		t.Fatal(err)
	}
	// The input task shares the outputs' start trigger, so the outputs must
	// be armed first: the input's "start" cannot precede an output's.
	if !devs.primary.Running || !devs.second.Running || !devs.ai.Running {
		t.Fatalf("not all streaming tasks running after Start")
	}
	lastCall := func(t *SimTask) string { return t.Calls[len(t.Calls)-1] }
	if lastCall(&devs.ai.SimTask) != "start" {
		t.Errorf("input's last call = %q, want start", lastCall(&devs.ai.SimTask))
	}
}

func TestRigStopIsIdempotent(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.Start(); err != nil {
		t.Fatal(err)
	}
	if err := rig.Stop(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, RigStopped, rig.State())
	for _, task := range devs.allTasks() {
		assert.True(t, task.Unreserved, "%s still reserved after Stop", task.Name)
	}
	// The shutter closes before anything is unreserved.
	if len(devs.line.Writes) == 0 || devs.line.Writes[len(devs.line.Writes)-1].Level {
		t.Errorf("Stop did not close the shutter: writes %v", devs.line.Writes)
	}

	nUnreserves := len(devs.ai.Calls)
	if err := rig.Stop(); err != nil {
		t.Errorf("second Stop returned %v, want nil", err)
	}
	assert.Equal(t, RigStopped, rig.State())
	assert.Equal(t, nUnreserves, len(devs.ai.Calls), "second Stop must be a no-op")
}

func TestStopAfterFailedStart(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	devs.second.FailStart = true
	if err := rig.Start(); err == nil {
		t.Fatal("Start should fail when an output task refuses to arm")
	}
	assert.NotEqual(t, RigRunning, rig.State())

	// Stop must still unwind everything, even though not every task
	// reached Running.
	if err := rig.Stop(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, RigStopped, rig.State())
	for _, task := range devs.allTasks() {
		assert.True(t, task.Unreserved, "%s still reserved after Stop", task.Name)
	}
}

func TestStopAggregatesFailures(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.Start(); err != nil {
		t.Fatal(err)
	}
	devs.primary.FailStop = true
	err = rig.Stop()
	if err == nil {
		t.Fatal("Stop should report the failed stop call")
	}
	var hwe *HardwareIOError
	if !errors.As(err, &hwe) {
		t.Errorf("Stop error = %T, want to contain *HardwareIOError", err)
	}
	// The failure must not prevent the remaining teardown steps.
	assert.Equal(t, RigStopped, rig.State())
	for _, task := range devs.allTasks() {
		assert.True(t, task.Unreserved, "%s still reserved after failing Stop", task.Name)
	}
}

func TestConstructionRollsBackOnVerifyFailure(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	devs.line.FailVerify = true
	_, err := NewRig(simRigConfig(), hw, nil)
	if err == nil {
		t.Fatal("NewRig should fail when a task refuses to verify")
	}
	var hwe *HardwareIOError
	if !errors.As(err, &hwe) {
		t.Errorf("NewRig error = %T, want *HardwareIOError", err)
	}
	for _, task := range devs.allTasks() {
		assert.True(t, task.Unreserved, "%s left reserved after aborted construction", task.Name)
	}
}

func TestQueueRequiresVerifiedRig(t *testing.T) {
	hw := NewSimHardware()
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.Stop(); err != nil {
		t.Fatal(err)
	}
	samples := mat.NewDense(100, 3, nil)
	if err := rig.Queue(samples); err == nil {
		t.Errorf("Queue on a stopped rig should fail")
	}
	if err := rig.Start(); err != nil {
		t.Fatal(err)
	}
	if err := rig.Queue(samples); err != nil {
		t.Errorf("Queue on a restarted rig: %v", err)
	}
}

func TestInputIsPrimaryWhenNoOutputIs(t *testing.T) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	cfg := simRigConfig()
	cfg.Outputs[0].Primary = false
	_, err := NewRig(cfg, hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "", devs.ai.ClockSource, "input generates its own clock")
	assert.Equal(t, "/Dev2/PFI5", devs.ai.Exports[SampleClockSignal])
	assert.Equal(t, "/Dev2/PFI5", devs.primary.ClockSource, "outputs derive from the input's clock")
	assert.Equal(t, "/Dev2/PFI5", devs.second.ClockSource)
}
