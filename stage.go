package scanrig

import (
	"go.bug.st/serial"
)

// Positioner is the motorized-stage collaborator: a serial-port
// positioning device, held as an opaque handle. The streaming engine never
// commands it; it only connects at startup and closes at teardown.
type Positioner struct {
	port           serial.Port
	portName       string
	stepsPerMicron [3]float64
}

// ConnectPositioner opens the stage's serial port. stepsPerMicron gives
// the controller's microstep calibration per axis (X, Y, Z).
func ConnectPositioner(portName string, stepsPerMicron [3]float64) (*Positioner, error) {
	for axis, s := range stepsPerMicron {
		if s <= 0 {
			return nil, configErrorf("stage axis %d has steps-per-micron %v, want positive", axis, s)
		}
	}
	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, hwError("open stage port "+portName, err)
	}
	return &Positioner{port: port, portName: portName, stepsPerMicron: stepsPerMicron}, nil
}

// Port exposes the open serial port for whoever drives the stage.
func (p *Positioner) Port() serial.Port { return p.port }

// StepsPerMicron returns the per-axis microstep calibration.
func (p *Positioner) StepsPerMicron() [3]float64 { return p.stepsPerMicron }

// Close releases the serial port.
func (p *Positioner) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return hwError("close stage port "+p.portName, err)
	}
	return nil
}
