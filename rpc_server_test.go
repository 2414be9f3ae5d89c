package scanrig

import (
	"encoding/base64"
	"testing"

	"github.com/usnistgov/scanrig/internal/rigdb"
	"gonum.org/v1/gonum/mat"
)

func newTestRigControl(t *testing.T) (*RigControl, simDevices) {
	hw := NewSimHardware()
	devs := newSimDevices(hw)
	rig, err := NewRig(simRigConfig(), hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	updates := make(chan StatusUpdate, 10)
	return &RigControl{rig: rig, statusUpdates: updates, db: rigdb.DummyDBConnection()}, devs
}

func encodeSamples(t *testing.T, samples *mat.Dense) string {
	raw, err := samples.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestRPCQueue(t *testing.T) {
	rc, devs := newTestRigControl(t)
	samples := mat.NewDense(2000, 3, nil)
	for r := 0; r < 2000; r++ {
		samples.Set(r, 2, float64(r))
	}
	var reply bool
	if err := rc.Queue(&QueueObject{SamplesBase64: encodeSamples(t, samples)}, &reply); err != nil {
		t.Fatal(err)
	}
	if !reply {
		t.Errorf("Queue reply = false")
	}
	if devs.primary.LastRows != 2000 || devs.second.LastRows != 2000 {
		t.Errorf("queued block did not reach the cards: %d/%d rows",
			devs.primary.LastRows, devs.second.LastRows)
	}
	if devs.second.LastBlock.At(7, 0) != 7 {
		t.Errorf("column routing through the RPC layer is wrong")
	}
	if rc.status.Nqueued != 1 {
		t.Errorf("Nqueued = %d, want 1", rc.status.Nqueued)
	}

	if err := rc.Queue(&QueueObject{SamplesBase64: "not base64!"}, &reply); err == nil {
		t.Errorf("Queue accepted undecodable samples")
	}
}

func TestRPCStartStop(t *testing.T) {
	rc, devs := newTestRigControl(t)
	var reply bool
	dummy := "dummy"
	if err := rc.Start(&dummy, &reply); err != nil {
		t.Fatal(err)
	}
	if rc.rig.State() != RigRunning {
		t.Errorf("rig state after Start = %v", rc.rig.State())
	}
	if rc.currentRun == nil || rc.currentRun.ID == "" {
		t.Errorf("Start did not open a run record")
	}
	if err := rc.Stop(&dummy, &reply); err != nil {
		t.Fatal(err)
	}
	if rc.rig.State() != RigStopped {
		t.Errorf("rig state after Stop = %v", rc.rig.State())
	}
	if rc.currentRun != nil {
		t.Errorf("Stop did not close the run record")
	}
	if !devs.primary.Unreserved {
		t.Errorf("Stop over RPC did not release the hardware")
	}
}

func TestRPCShutterAndPulse(t *testing.T) {
	rc, devs := newTestRigControl(t)
	var reply bool
	dummy := "dummy"
	if err := rc.ShutterOpen(&dummy, &reply); err != nil || !reply {
		t.Fatalf("ShutterOpen: %v, reply %v", err, reply)
	}
	if err := rc.ShutterClose(&dummy, &reply); err != nil || !reply {
		t.Fatalf("ShutterClose: %v, reply %v", err, reply)
	}
	last := devs.line.Writes[len(devs.line.Writes)-1]
	if last.Level {
		t.Errorf("shutter left open after ShutterClose")
	}
	if err := rc.FirePulse(&dummy, &reply); err != nil || !reply {
		t.Fatalf("FirePulse: %v, reply %v", err, reply)
	}
	if len(devs.ctr.Calls) == 0 {
		t.Errorf("FirePulse never reached the counter")
	}
}

func TestRPCStatusBroadcast(t *testing.T) {
	rc, _ := newTestRigControl(t)
	updates := make(chan StatusUpdate, 1)
	rc.statusUpdates = updates
	var reply bool
	dummy := "dummy"
	if err := rc.SendAllStatus(&dummy, &reply); err != nil {
		t.Fatal(err)
	}
	update := <-updates
	if update.Tag != "STATUS" {
		t.Errorf("update tag = %q", update.Tag)
	}
	status, ok := update.State.(RigStatus)
	if !ok {
		t.Fatalf("update state is %T", update.State)
	}
	if status.State != "Verified" || status.NoutputCards != 2 {
		t.Errorf("status = %+v", status)
	}
}
