package dome

import (
	"fmt"

	"github.com/w1xm/dome_interface/dio"
	"github.com/w1xm/dome_interface/telescope"
)

// MotionState is the state of the rotation state machine.
type MotionState int

const (
	Idle MotionState = iota
	Stopping
	Aiming
	Stepping
	Running
)

func (m MotionState) String() string {
	switch m {
	case Idle:
		return "IDLE"
	case Stopping:
		return "STOPPING"
	case Aiming:
		return "AIMING"
	case Stepping:
		return "STEPPING"
	case Running:
		return "RUNNING"
	}
	return "UNKNOWN"
}

func (m MotionState) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MotionState) UnmarshalText(text []byte) error {
	for v := Idle; v <= Running; v++ {
		if v.String() == string(text) {
			*m = v
			return nil
		}
	}
	return fmt.Errorf("unknown motion state %q", text)
}

// Direction of rotation. Right is clockwise, increasing azimuth.
type Direction int

const (
	Left    Direction = -1
	Stopped Direction = 0
	Right   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	}
	return "IDLE"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	for _, v := range []Direction{Left, Stopped, Right} {
		if v.String() == string(text) {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("unknown direction %q", text)
}

func (d Direction) output() int {
	if d == Left {
		return dio.MoveLeft
	}
	return dio.MoveRight
}

// ShutterState values match the Alpaca ShutterStatus enumeration.
type ShutterState int

const (
	ShutterOpen ShutterState = iota
	ShutterClosed
	ShutterOpening
	ShutterClosing
	ShutterError
)

func (s ShutterState) String() string {
	switch s {
	case ShutterOpen:
		return "OPEN"
	case ShutterClosed:
		return "CLOSED"
	case ShutterOpening:
		return "OPENING"
	case ShutterClosing:
		return "CLOSING"
	}
	return "ERROR"
}

func (s ShutterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ShutterState) UnmarshalText(text []byte) error {
	for v := ShutterOpen; v <= ShutterError; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown shutter state %q", text)
}

type StatusCallback func(status Status)

// Status is a snapshot of the dome.
type Status struct {
	Connected bool
	// Closed is set once the controller has shut down.
	Closed bool
	// Azimuth and Target are in degrees. Target is -1 when there is none.
	Azimuth float64
	Target  float64
	MovStat MotionState
	Direct  Direction
	Slaved  bool
	Homing  bool
	AtHome  bool
	AtPark  bool
	// ParkAz is in degrees.
	ParkAz   float64
	Shutter  ShutterState
	Switches [dio.Relays]bool
	// Fault describes the last hardware problem, if any.
	Fault string
}

// Slewing reports whether the dome is rotating or has a target to reach, or
// the shutter is moving.
func (s Status) Slewing() bool {
	return s.MovStat != Idle || s.Target >= 0 || s.Shutter == ShutterOpening || s.Shutter == ShutterClosing
}

// ExtStatus adds the raw counts and the telescope reading to Status.
type ExtStatus struct {
	Status
	DomeAz   int
	StartAz  int
	TargetAz int
	Counter  int
	StopCn   int
	MovDir   Direction
	Events   int
	// ETA is the estimated time to reach the target, in seconds.
	ETA float64
	// TelescopeAz is the dome azimuth the telescope needs, -1 if unknown.
	TelescopeAz float64
	Telescope   *telescope.Sample `json:",omitempty"`
}
