package scanrig

// The clock & trigger fabric is the fixed wiring diagram that makes all
// cards advance sample-for-sample together: one task owns the sample clock
// and exports it to a well-known terminal, every other task derives its
// timing from that terminal, and every task arms on one shared digital
// edge. The fabric is validated once at construction and exposes no
// runtime operations after setup.

// ClockRole says whether a task owns the master sample clock (primary) or
// derives its timing from the exported clock line (secondary).
type ClockRole int

// Names for the possible values of ClockRole
const (
	ClockPrimary ClockRole = iota
	ClockSecondary
)

func (r ClockRole) String() string {
	if r == ClockPrimary {
		return "primary"
	}
	return "secondary"
}

// TriggerSpec identifies the shared digital edge that starts every task
// simultaneously. All tasks are configured with an identical TriggerSpec;
// that single edge is what gives sample-accurate phase alignment between
// the input stream and every output card.
type TriggerSpec struct {
	Source string
	Edge   TriggerEdge
}

// SyncFabric holds the clock-export terminal and the shared start trigger.
// Secondary tasks must not reference the export line before the primary's
// export is active; ClockSource enforces that ordering.
type SyncFabric struct {
	clockExportLine string
	trigger         TriggerSpec
	exportActive    bool
}

// NewSyncFabric validates and builds the wiring diagram.
func NewSyncFabric(clockExportLine string, trigger TriggerSpec) (*SyncFabric, error) {
	if clockExportLine == "" {
		return nil, configErrorf("fabric requires a clock export line")
	}
	if trigger.Source == "" {
		return nil, configErrorf("fabric requires a start-trigger source")
	}
	return &SyncFabric{clockExportLine: clockExportLine, trigger: trigger}, nil
}

// ClockExportLine returns the terminal the primary exports its sample
// clock to.
func (f *SyncFabric) ClockExportLine() string { return f.clockExportLine }

// Trigger returns the shared start-trigger spec.
func (f *SyncFabric) Trigger() TriggerSpec { return f.trigger }

// ClockSource returns the timing source terminal for a task with the given
// role: the empty string for the primary (it generates its own clock), or
// the export line for a secondary. A secondary asking before the primary's
// export is active is a wiring-order violation.
func (f *SyncFabric) ClockSource(role ClockRole) (string, error) {
	if role == ClockPrimary {
		return "", nil
	}
	if !f.exportActive {
		return "", syncErrorf("secondary timing requested before the primary exported its sample clock to %s",
			f.clockExportLine)
	}
	return f.clockExportLine, nil
}

// markExportActive records that the primary's sample clock is now present
// on the export line. Idempotent: the primary re-exports on every queue.
func (f *SyncFabric) markExportActive() {
	f.exportActive = true
}

// armTask applies the shared start trigger to one task. This must happen
// strictly before the task is verified or armed.
func (f *SyncFabric) armTask(t Task) error {
	if err := t.ConfigureStartTrigger(f.trigger.Source, f.trigger.Edge); err != nil {
		return hwError("configure start trigger", err)
	}
	return nil
}
