// Package rigdb records scan-rig activity and acquisition runs in a
// ClickHouse database. The database is optional: all Record* calls are
// no-ops when no connection could be made, so the streaming engine runs
// unchanged on rigs without a database server.
package rigdb

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "scanrig" // official SQL name of the database

// RigDBConnection wraps one ClickHouse connection plus the channels that
// serialize run messages onto it.
type RigDBConnection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	runmsg        chan *ScanRunMessage
	sync.WaitGroup
}

// NewRunID returns a fresh ULID for a scan run. ULIDs sort by creation
// time, which keeps the runs table naturally ordered.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsConnected says whether the database is usable.
func (db *RigDBConnection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer verifies that a ClickHouse server is reachable with the
// configured credentials.
func PingServer() error {
	db := createDBConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// StartDBConnection opens the connection, logs the activity entry, and
// launches the goroutine that serializes run messages.
func StartDBConnection(activity *ActivityMessage, abort <-chan struct{}) *RigDBConnection {
	db := createDBConnection()
	db.activityEntry = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// DummyDBConnection returns a connection object that records nothing, for
// rigs without a database server.
func DummyDBConnection() *RigDBConnection {
	db := &RigDBConnection{}
	db.Add(1)
	return db
}

func createDBConnection() *RigDBConnection {
	db := &RigDBConnection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("SCANRIG_DB_USER"),
		Password: os.Getenv("SCANRIG_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "scanrig", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	ctx := context.Background()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.runmsg = make(chan *ScanRunMessage)
	return db
}

func (db *RigDBConnection) logActivity() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	formattedStart := ae.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := ae.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO scanrigactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into scanrigactivity ", err)
		db.err = err
	}
}

func (db *RigDBConnection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.runmsg:
			db.handleRunMessage(rmsg)
		}
	}
}

// Disconnect stamps the activity entry's end time.
func (db *RigDBConnection) Disconnect() {
	if db.IsConnected() {
		db.activityEntry.End = time.Now()
		db.logActivity()
	}
}

// RecordScanRun stores a run entry in the DB (if it's open). It blocks
// until handleConnection accepts the message, so a run is entered before
// any later updates that reference its ID.
func (db *RigDBConnection) RecordScanRun(msg *ScanRunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishScanRun stamps the run's end time and re-records it.
func (db *RigDBConnection) FinishScanRun(msg *ScanRunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

func (db *RigDBConnection) handleRunMessage(m *ScanRunMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO scanruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.activityEntry.ID, m.Intention, m.OutputRate, m.InputRate,
		m.NoutputCards, m.Nchannels, m.BlockSize, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into scanruns ", err)
		db.err = err
	}
}
