package scanrig

import "gonum.org/v1/gonum/mat"

// OutputStreamer owns the continuous-regeneration write stream of one
// analog output card. Each Queue call reconfigures its timing for the new
// block length and loads the block without starting, so the card stays
// armed until the shared trigger fires.
type OutputStreamer struct {
	dev        AnalogOutputDevice
	device     string // bus/slot address, for error messages
	role       ClockRole
	fabric     *SyncFabric
	assignment ChannelAssignment
	rate       float64
	scratch    *mat.Dense // reused sub-matrix; Queue is a real-time-sensitive path
}

// NewOutputStreamer binds one output card to the fabric. The assignment
// must have one entry per physical channel of the group.
func NewOutputStreamer(dev AnalogOutputDevice, device string, role ClockRole,
	fabric *SyncFabric, channels []string, assignment ChannelAssignment, rate float64) (*OutputStreamer, error) {
	if len(channels) == 0 {
		return nil, configErrorf("output group %s has no channels", device)
	}
	if len(assignment) != len(channels) {
		return nil, configErrorf("output group %s: assignment length %d != channel count %d",
			device, len(assignment), len(channels))
	}
	if rate <= 0 {
		return nil, configErrorf("output group %s: sample rate %v must be positive", device, rate)
	}
	os := &OutputStreamer{dev: dev, device: device, role: role, fabric: fabric,
		assignment: assignment, rate: rate}
	if err := dev.ConfigureChannels(channels); err != nil {
		return nil, hwError("configure AO channels on "+device, err)
	}
	// Regeneration: a gap between Queue calls repeats the previous block
	// instead of underrunning.
	if err := dev.EnableRegeneration(true); err != nil {
		return nil, hwError("enable regeneration on "+device, err)
	}
	return os, nil
}

// ConfigureTiming sets continuous-mode timing for sampleCount samples per
// buffer at the streamer's rate, sourced from the fabric-assigned clock.
// The primary generates its own clock and (re-)exports it; a secondary
// derives from the export line and must not be configured before the
// export is active.
func (os *OutputStreamer) ConfigureTiming(sampleCount int) error {
	source, err := os.fabric.ClockSource(os.role)
	if err != nil {
		return err
	}
	if err := os.dev.ConfigureTiming(source, os.rate, ContinuousSamples, sampleCount); err != nil {
		return hwError("configure AO timing on "+os.device, err)
	}
	if os.role == ClockPrimary {
		if err := os.dev.ExportSignal(SampleClockSignal, os.fabric.ClockExportLine()); err != nil {
			return hwError("export sample clock from "+os.device, err)
		}
		os.fabric.markExportActive()
	}
	return nil
}

// Queue resolves this group's sub-matrix from the caller's sample matrix,
// retimes the card for the block's row count, and loads the block in
// do-not-start mode. The card's output length is driven by how much data
// is loaded: a 10,000-row matrix means 10,000 samples per channel per
// regeneration cycle.
func (os *OutputStreamer) Queue(samples *mat.Dense) error {
	sub, err := Resolve(os.scratch, samples, os.assignment)
	if err != nil {
		return err
	}
	os.scratch = sub
	nrows, _ := sub.Dims()
	if err := os.ConfigureTiming(nrows); err != nil {
		return err
	}
	if err := os.dev.WriteBlock(sub, false); err != nil {
		return hwError("write AO block on "+os.device, err)
	}
	return nil
}

// Role returns the streamer's clock role.
func (os *OutputStreamer) Role() ClockRole { return os.role }
