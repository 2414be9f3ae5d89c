package rigdb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the scanrigactivity table: one
// row per scanrig process.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// ScanRunMessage is the information required to make an entry in the
// scanruns table: one row per acquisition run.
type ScanRunMessage struct {
	ID           string
	RigID        string
	Intention    string
	OutputRate   float64
	InputRate    float64
	NoutputCards int
	Nchannels    int
	BlockSize    int
	Start        time.Time
	End          time.Time
}
