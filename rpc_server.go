package scanrig

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/usnistgov/scanrig/internal/rigdb"
	"gonum.org/v1/gonum/mat"
)

// RigControl is the sub-server that handles operation of one rig over
// JSON-RPC. RPC requests arrive one at a time per connection, which
// satisfies the rig's serialized-control precondition as long as a single
// client drives the scan.
type RigControl struct {
	rig           *Rig
	status        RigStatus
	statusUpdates chan<- StatusUpdate
	db            *rigdb.RigDBConnection
	currentRun    *rigdb.ScanRunMessage
}

// RigStatus is the status that RigControl reports to clients.
type RigStatus struct {
	State        string
	NoutputCards int
	Nqueued      int // blocks queued since startup
}

// QueueObject is the RPC-usable structure for Queue. SamplesBase64 must be
// a base64-encoded string with binary data matching mat.Dense.MarshalBinary
// (rows = time samples, columns = logical signals).
type QueueObject struct {
	SamplesBase64 string
}

// Queue decodes the sample matrix and loads it into every output group.
func (rc *RigControl) Queue(qo *QueueObject, reply *bool) error {
	raw, err := base64.StdEncoding.DecodeString(qo.SamplesBase64)
	if err != nil {
		return err
	}
	var samples mat.Dense
	if err := samples.UnmarshalBinary(raw); err != nil {
		return err
	}
	if err := rc.rig.Queue(&samples); err != nil {
		return err
	}
	rc.status.Nqueued++
	*reply = true
	return nil
}

// Start arms the whole assembly and records the run in the database.
func (rc *RigControl) Start(dummy *string, reply *bool) error {
	UpdateLogger.Printf("Starting rig")
	if err := rc.rig.Start(); err != nil {
		return err
	}
	cfg := rc.rig.Config()
	nchan := len(cfg.Input.Channels)
	for _, g := range cfg.Outputs {
		nchan += len(g.Channels)
	}
	rc.currentRun = &rigdb.ScanRunMessage{
		ID:           rigdb.NewRunID(),
		OutputRate:   cfg.OutputRate,
		InputRate:    cfg.InputRate,
		NoutputCards: len(cfg.Outputs),
		Nchannels:    nchan,
		Start:        time.Now(),
	}
	rc.db.RecordScanRun(rc.currentRun)
	rc.broadcastUpdate()
	*reply = true
	return nil
}

// Stop unwinds the whole assembly. Idempotent.
func (rc *RigControl) Stop(dummy *string, reply *bool) error {
	UpdateLogger.Printf("Stopping rig")
	err := rc.rig.Stop()
	if rc.currentRun != nil {
		rc.db.FinishScanRun(rc.currentRun)
		rc.currentRun = nil
	}
	if err != nil {
		return err
	}
	rc.broadcastUpdate()
	*reply = true
	return nil
}

// ShutterOpen opens the shutter line.
func (rc *RigControl) ShutterOpen(dummy *string, reply *bool) error {
	err := rc.rig.Shutter().Open()
	*reply = (err == nil)
	return err
}

// ShutterClose closes the shutter line.
func (rc *RigControl) ShutterClose(dummy *string, reply *bool) error {
	err := rc.rig.Shutter().Close()
	*reply = (err == nil)
	return err
}

// FirePulse emits the one-shot start-trigger pulse. Blocks until the
// hardware acknowledges pulse completion.
func (rc *RigControl) FirePulse(dummy *string, reply *bool) error {
	err := rc.rig.Pulse().Fire()
	*reply = (err == nil)
	return err
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (rc *RigControl) SendAllStatus(dummy *string, reply *bool) error {
	rc.broadcastUpdate()
	*reply = true
	return nil
}

func (rc *RigControl) broadcastUpdate() {
	rc.status.State = rc.rig.State().String()
	rc.status.NoutputCards = len(rc.rig.outputs)
	if rc.statusUpdates != nil {
		rc.statusUpdates <- StatusUpdate{Tag: "STATUS", State: rc.status}
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server controlling
// the given rig.
func RunRPCServer(rig *Rig, messageChan chan<- StatusUpdate, db *rigdb.RigDBConnection, portrpc int) {
	if db == nil {
		db = rigdb.DummyDBConnection()
	}
	rigControl := &RigControl{rig: rig, statusUpdates: messageChan, db: db}
	rigControl.broadcastUpdate()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	server.Register(rigControl)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		ProblemLogger.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			ProblemLogger.Fatal("accept error: " + err.Error())
		} else {
			UpdateLogger.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
