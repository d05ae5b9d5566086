package dio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SimParams describe the mechanics of a simulated dome.
type SimParams struct {
	// N360 is the encoder counts per revolution.
	N360 int
	// MaxVel is the full speed in counts/second.
	MaxVel float64
	// Accel is the motor acceleration in counts/second^2.
	Accel float64
	// Drag is the deceleration when no motor is driven, in counts/second^2.
	Drag float64
	// HomeAz and HomeWidth place the home switch, in counts.
	HomeAz    float64
	HomeWidth float64
	// ShutterTime is how long the shutter motor runs to fully open or close.
	ShutterTime time.Duration
}

// DefaultSimParams is a dome doing one revolution in about 36 seconds.
func DefaultSimParams() SimParams {
	return SimParams{
		N360:        3600,
		MaxVel:      100,
		Accel:       400,
		Drag:        400,
		HomeAz:      125,
		HomeWidth:   3,
		ShutterTime: 20 * time.Second,
	}
}

// Sim is a Board attached to a simulated dome. Motor outputs accelerate the
// dome, the encoder counts every crossed step regardless of direction and the
// dome coasts to a stop under drag once the motors are released.
type Sim struct {
	p SimParams

	mu       sync.Mutex
	outputs  [Outputs]bool
	az       float64 // true azimuth, counts
	vel      float64 // counts/second, positive clockwise
	travel   float64 // distance accumulated into the counter
	counter  int
	shutter  float64 // 0 closed, 1 open
	stuck    bool
	failNext int
}

// simStep is the integration step.
const simStep = time.Millisecond

func NewSim(p SimParams) *Sim {
	return &Sim{p: p}
}

// Run advances the simulation in real time until ctx is done.
func (s *Sim) Run(ctx context.Context) error {
	const period = 10 * time.Millisecond
	t := time.NewTicker(period)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.Step(period)
		}
	})
	return g.Wait()
}

// velServo returns the velocity after one step towards target.
func velServo(v, target, accel float64) float64 {
	delta := target - v
	max := accel * simStep.Seconds()
	if delta > max {
		delta = max
	} else if delta < -max {
		delta = -max
	}
	return v + delta
}

func drag(v, dragAccel float64) float64 {
	a := math.Abs(v) - dragAccel*simStep.Seconds()
	if a < 0 {
		a = 0
	}
	if v < 0 {
		return -a
	}
	return a
}

// Step advances the simulation by d.
func (s *Sim) Step(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ; d > 0; d -= simStep {
		s.step()
	}
}

func (s *Sim) step() {
	left, right := s.outputs[MoveLeft], s.outputs[MoveRight]
	switch {
	case s.stuck:
		s.vel = 0
	case right && !left:
		s.vel = velServo(s.vel, s.p.MaxVel, s.p.Accel)
	case left && !right:
		s.vel = velServo(s.vel, -s.p.MaxVel, s.p.Accel)
	default:
		s.vel = drag(s.vel, s.p.Drag)
	}
	move := s.vel * simStep.Seconds()
	n := float64(s.p.N360)
	s.az = math.Mod(s.az+move+n, n)
	s.travel += math.Abs(move)
	s.counter = int(s.travel)

	if s.p.ShutterTime > 0 {
		rate := simStep.Seconds() / s.p.ShutterTime.Seconds()
		if s.outputs[OpenShutter] {
			s.shutter = math.Min(1, s.shutter+rate)
		}
		if s.outputs[CloseShutter] {
			s.shutter = math.Max(0, s.shutter-rate)
		}
	}
}

func (s *Sim) fail() error {
	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("dio: simulated I/O failure")
	}
	return nil
}

func (s *Sim) SetDigitalChannel(n int) error {
	if err := checkOutput(n); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.outputs[n] = true
	return nil
}

func (s *Sim) ClearDigitalChannel(n int) error {
	if err := checkOutput(n); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.outputs[n] = false
	return nil
}

func (s *Sim) ClearAllDigital() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.outputs = [Outputs]bool{}
	return nil
}

func (s *Sim) ReadDigitalChannel(n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	if n != HomeSwitch {
		return false, fmt.Errorf("dio: input channel %d out of range", n)
	}
	n360 := float64(s.p.N360)
	d := math.Abs(math.Remainder(s.az-s.p.HomeAz, n360))
	return d <= s.p.HomeWidth, nil
}

func (s *Sim) ReadCounter(id int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	if id != Encoder {
		return 0, fmt.Errorf("dio: counter %d out of range", id)
	}
	return s.counter, nil
}

func (s *Sim) ResetCounter(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if id != Encoder {
		return fmt.Errorf("dio: counter %d out of range", id)
	}
	s.travel, s.counter = 0, 0
	return nil
}

// SetAzimuth places the simulated dome at az counts, at rest.
func (s *Sim) SetAzimuth(az float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.az, s.vel = az, 0
}

// Azimuth returns the true simulated azimuth in counts.
func (s *Sim) Azimuth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.az
}

// Moving reports whether the dome is still turning.
func (s *Sim) Moving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vel != 0
}

// Output reports the state of output channel n.
func (s *Sim) Output(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[n]
}

// Shutter returns how far open the shutter is, from 0 to 1.
func (s *Sim) Shutter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutter
}

// SetStuck jams the dome mechanically while stuck is true.
func (s *Sim) SetStuck(stuck bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck = stuck
}

// FailNext makes the next n board calls return an error.
func (s *Sim) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}
