package scanrig

// Shutter is a single digital output line with two logical states, written
// synchronously. Closed is the fail-safe state: Stop always closes the
// shutter before touching anything else.
type Shutter struct {
	line DigitalLine
	path string
}

// NewShutter wraps a digital line as a shutter.
func NewShutter(line DigitalLine, path string) *Shutter {
	return &Shutter{line: line, path: path}
}

// Open drives the line high. The enable argument of the underlying write
// is always true; the call shape is preserved from the hardware API and
// enable=false has no known meaning.
func (s *Shutter) Open() error { return s.write(true) }

// Close drives the line low.
func (s *Shutter) Close() error { return s.write(false) }

func (s *Shutter) write(level bool) error {
	if err := s.line.WriteSingleLine(true, level); err != nil {
		return hwError("write shutter line "+s.path, err)
	}
	return nil
}

// TriggerPulse is a one-shot counter/timer pulse used to fire the shared
// start trigger from software when no external trigger source is present.
type TriggerPulse struct {
	ctr  PulseCounter
	path string
}

// NewTriggerPulse wraps a counter as a one-shot pulse generator.
func NewTriggerPulse(ctr PulseCounter, path string) *TriggerPulse {
	return &TriggerPulse{ctr: ctr, path: path}
}

// Fire emits the pulse: start, block until the hardware acknowledges
// completion, stop. The wait has no timeout; callers needing cancellation
// must wrap Fire with an external timeout.
func (tp *TriggerPulse) Fire() error {
	if err := tp.ctr.Start(); err != nil {
		return hwError("start pulse counter "+tp.path, err)
	}
	if err := tp.ctr.WaitUntilDone(); err != nil {
		return hwError("wait for pulse on "+tp.path, err)
	}
	if err := tp.ctr.Stop(); err != nil {
		return hwError("stop pulse counter "+tp.path, err)
	}
	return nil
}
