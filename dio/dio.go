// Package dio is the digital I/O capability used to drive the dome: motor and
// relay outputs, the home switch input and the azimuth encoder counter.
package dio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Output channels.
const (
	OpenShutter  = 0
	CloseShutter = 1
	MoveLeft     = 2
	MoveRight    = 3
	// Relay0 is the first of the Relays auxiliary relay outputs.
	Relay0 = 4
	Relays = 4

	Outputs = Relay0 + Relays
)

// Input channels and counters.
const (
	HomeSwitch = 0
	Encoder    = 0
)

// Board is a digital I/O board.
type Board interface {
	SetDigitalChannel(n int) error
	ClearDigitalChannel(n int) error
	ClearAllDigital() error
	ReadDigitalChannel(n int) (bool, error)
	ReadCounter(id int) (int, error)
	ResetCounter(id int) error
}

// Config selects and parameterizes a board.
type Config struct {
	// Simulate runs an in-process simulated dome instead of hardware.
	Simulate bool
	// Port, Address or URL select a Modbus board; see internal/modbus.
	Port     string
	Baud     int
	Address  string
	URL      string
	Password string
	SlaveID  byte
	Timeout  time.Duration
}

// Open connects to the board described by cfg. Simulated boards are stepped
// in real time until ctx is done.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (Board, error) {
	if cfg.Simulate {
		sim := NewSim(DefaultSimParams())
		go func() {
			if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("dome simulator: %v", err)
			}
		}()
		return sim, nil
	}
	return ConnectModbus(ctx, cfg, logger)
}

func checkOutput(n int) error {
	if n < 0 || n >= Outputs {
		return errors.New("dio: output channel out of range")
	}
	return nil
}
