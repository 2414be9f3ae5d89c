package scanrig

import (
	"math"
	"strings"

	"github.com/spf13/viper"
)

// RigConfig is the closed configuration surface of a rig. Every recognized
// option is an explicit field, validated at construction; there is no
// runtime-extensible property bag and no hot reload.
type RigConfig struct {
	InputRate  float64 // AI sample rate in Hz
	OutputRate float64 // AO sample rate in Hz; must evenly divide InputRate

	Input   InputGroupConfig
	Outputs []OutputGroupConfig

	ClockExportLine string // terminal the primary's sample clock is exported to
	TriggerSource   string // shared digital start-trigger source
	TriggerEdge     string // "rising" (default) or "falling"

	ShutterLine  string
	PulseCounter string

	BufferFloor int    // minimum AI circular buffer size in samples; 0 means the default
	RecordPath  string // if set, raw AI blocks are recorded to this .npy file

	Stage StageConfig
}

// InputGroupConfig describes the analog input channel group.
type InputGroupConfig struct {
	Device   string
	Channels []string
}

// OutputGroupConfig describes one analog output card: its channel paths
// and the 1-based logical-column assignment per channel. Each group's
// channel paths are configured independently from its own entry. At most
// one group may be Primary; if none is, the input group owns the clock.
type OutputGroupConfig struct {
	Device     string
	Channels   []string
	Assignment []int
	Primary    bool
}

// StageConfig describes the motorized-stage serial collaborator. An empty
// Port means no stage is connected.
type StageConfig struct {
	Port           string
	StepsPerMicron [3]float64
}

// TriggerSpec converts the configured trigger strings to a TriggerSpec.
func (c *RigConfig) TriggerSpec() TriggerSpec {
	edge := RisingEdge
	if strings.EqualFold(c.TriggerEdge, "falling") {
		edge = FallingEdge
	}
	return TriggerSpec{Source: c.TriggerSource, Edge: edge}
}

// PrimaryOutput returns the index of the primary output group, or -1 if
// the input group owns the clock.
func (c *RigConfig) PrimaryOutput() int {
	for i, g := range c.Outputs {
		if g.Primary {
			return i
		}
	}
	return -1
}

// Validate checks the whole configuration before any hardware is touched.
func (c *RigConfig) Validate() error {
	if c.InputRate <= 0 || c.OutputRate <= 0 {
		return configErrorf("sample rates must be positive (input %v, output %v)", c.InputRate, c.OutputRate)
	}
	// Output and input advance in a fixed integer ratio for phase coherence.
	ratio := c.InputRate / c.OutputRate
	if math.Abs(ratio-math.Round(ratio)) > 1e-9 {
		return configErrorf("output rate %v Hz must evenly divide input rate %v Hz", c.OutputRate, c.InputRate)
	}
	if c.Input.Device == "" || len(c.Input.Channels) == 0 {
		return configErrorf("input group requires a device and at least one channel")
	}
	if len(c.Outputs) == 0 {
		return configErrorf("at least one output group is required")
	}
	nprimary := 0
	for i := range c.Outputs {
		g := &c.Outputs[i]
		if g.Device == "" || len(g.Channels) == 0 {
			return configErrorf("output group %d requires a device and at least one channel", i)
		}
		if err := checkDistinct(g.Channels); err != nil {
			return configErrorf("output group %d (%s): %v", i, g.Device, err)
		}
		if len(g.Assignment) != len(g.Channels) {
			return configErrorf("output group %d (%s): assignment length %d != channel count %d",
				i, g.Device, len(g.Assignment), len(g.Channels))
		}
		seen := make(map[int]bool)
		for j, col := range g.Assignment {
			if col < 1 {
				return configErrorf("output group %d (%s): assignment[%d]=%d is not a 1-based column index",
					i, g.Device, j, col)
			}
			if seen[col] {
				return configErrorf("output group %d (%s): logical column %d assigned twice", i, g.Device, col)
			}
			seen[col] = true
		}
		if g.Primary {
			nprimary++
		}
	}
	if nprimary > 1 {
		return configErrorf("%d output groups marked primary, want at most 1", nprimary)
	}
	if c.ClockExportLine == "" {
		return configErrorf("a clock export line is required")
	}
	if c.TriggerSource == "" {
		return configErrorf("a start-trigger source is required")
	}
	if c.TriggerEdge != "" && !strings.EqualFold(c.TriggerEdge, "rising") && !strings.EqualFold(c.TriggerEdge, "falling") {
		return configErrorf("trigger edge %q must be \"rising\" or \"falling\"", c.TriggerEdge)
	}
	if c.ShutterLine == "" {
		return configErrorf("a shutter line is required")
	}
	if c.PulseCounter == "" {
		return configErrorf("a pulse counter is required")
	}
	if c.BufferFloor < 0 {
		return configErrorf("buffer floor %d must not be negative", c.BufferFloor)
	}
	return nil
}

func checkDistinct(paths []string) error {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			return configErrorf("empty channel path")
		}
		if seen[p] {
			return configErrorf("channel path %s listed twice", p)
		}
		seen[p] = true
	}
	return nil
}

// LoadRigConfig reads the "rig" section of the viper configuration.
func LoadRigConfig() (RigConfig, error) {
	var cfg RigConfig
	if err := viper.UnmarshalKey("rig", &cfg); err != nil {
		return cfg, configErrorf("could not read rig configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
