// Package dome drives the dome rotation and shutter and keeps the slit in
// front of the telescope.
//
// A Controller runs a control loop that alone decides motor outputs. Commands
// post requests that the loop picks up on its next tick.
package dome

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/w1xm/dome_interface/calib"
	"github.com/w1xm/dome_interface/dio"
	"github.com/w1xm/dome_interface/telescope"
)

// AzimuthSource supplies the dome azimuth the telescope needs, in degrees, or
// a negative value when it is not known.
type AzimuthSource interface {
	Azimuth() float64
}

type sampleSource interface {
	Sample() telescope.Sample
}

type Config struct {
	Params *calib.Params
	// CalibrationPath is where the dome and park azimuths are saved at
	// shutdown. Empty disables saving.
	CalibrationPath string
	Board           dio.Board
	// Telescope is used for slaving; nil disables it.
	Telescope      AzimuthSource
	Clock          clock.Clock
	StatusCallback StatusCallback
}

type requestKind int

const (
	noRequest requestKind = iota
	runRequest
	stepRequest
	homeRequest
	syncRequest
	stopRequest
)

// request is a motion command waiting for the next tick.
type request struct {
	kind requestKind
	dir  Direction
	dur  time.Duration
	az   int
}

type Controller struct {
	p              *calib.Params
	calibPath      string
	board          dio.Board
	tel            AzimuthSource
	clock          clock.Clock
	logger         *zap.SugaredLogger
	statusCallback StatusCallback

	// cmd serializes commands. It is taken before mu.
	cmd *semaphore.Weighted
	// closing is closed when Shutdown begins.
	closing     chan struct{}
	closingOnce sync.Once

	mu        sync.Mutex
	connected bool
	closed    bool
	halted    bool

	// Azimuths are in encoder counts.
	domeaz   int
	startaz  int
	targetaz int
	parkaz   int
	// counter is the last encoder reading and base its value when the
	// current motion started.
	counter int
	base    int
	direct  Direction
	movdir  Direction
	movstat MotionState
	isslave bool
	stopcn  int
	stopAt  time.Time
	stalled bool

	homing       bool
	homeDeadline time.Time

	pending  request
	events   schedule
	shutter  ShutterState
	switches [dio.Relays]bool
	fault    string

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, logger *zap.SugaredLogger) (*Controller, error) {
	if cfg.Params == nil {
		return nil, errors.New("dome: no calibration parameters")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("dome: %w", err)
	}
	if cfg.Board == nil {
		return nil, errors.New("dome: no I/O board")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	p := cfg.Params
	c := &Controller{
		p:              p,
		calibPath:      cfg.CalibrationPath,
		board:          cfg.Board,
		tel:            cfg.Telescope,
		clock:          cfg.Clock,
		logger:         logger,
		statusCallback: cfg.StatusCallback,
		cmd:            semaphore.NewWeighted(1),
		closing:        make(chan struct{}),
		domeaz:         p.DegToCounts(p.DomeAz),
		parkaz:         p.DegToCounts(p.ParkAz),
		targetaz:       -1,
		shutter:        ShutterClosed,
	}
	c.startaz = c.domeaz
	return c, nil
}

// Start launches the control loop. It runs until Shutdown.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := c.clock.Ticker(calib.Seconds(c.p.TPoll))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		c.tick()
	}
}

// CanSlave reports whether a telescope is configured for slaving.
func (c *Controller) CanSlave() bool {
	return c.tel != nil
}

// Params returns the calibration parameters with the current dome and park
// azimuths.
func (c *Controller) Params() calib.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := *c.p
	p.PTable = append([]float64(nil), c.p.PTable...)
	p.DomeAz = c.p.CountsToDeg(c.domeaz)
	p.ParkAz = c.p.CountsToDeg(c.parkaz)
	return p
}

func (c *Controller) setFault(what string, err error) {
	msg := fmt.Sprintf("%s: %v", what, err)
	if msg != c.fault {
		c.logger.Warn(msg)
	}
	c.fault = msg
}

func (c *Controller) nearCounts(az int) bool {
	d := c.p.Distance(c.domeaz, az)
	if d < 0 {
		d = -d
	}
	return c.movstat == Idle && d <= c.p.MaxErr
}

func (c *Controller) statusLocked() Status {
	s := Status{
		Connected: c.connected,
		Closed:    c.closed,
		Azimuth:   c.p.CountsToDeg(c.domeaz),
		Target:    -1,
		MovStat:   c.movstat,
		Direct:    c.direct,
		Slaved:    c.isslave,
		Homing:    c.homing,
		AtHome:    c.nearCounts(c.p.DegToCounts(c.p.HOffset)),
		AtPark:    c.nearCounts(c.parkaz),
		ParkAz:    c.p.CountsToDeg(c.parkaz),
		Shutter:   c.shutter,
		Switches:  c.switches,
		Fault:     c.fault,
	}
	if c.targetaz >= 0 {
		s.Target = c.p.CountsToDeg(c.targetaz)
	}
	return s
}

// Status returns a snapshot of the dome.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// ExtStatus returns the dome snapshot with raw counts and the telescope
// reading.
func (c *Controller) ExtStatus() ExtStatus {
	c.mu.Lock()
	s := ExtStatus{
		Status:      c.statusLocked(),
		DomeAz:      c.domeaz,
		StartAz:     c.startaz,
		TargetAz:    c.targetaz,
		Counter:     c.counter,
		StopCn:      c.stopcn,
		MovDir:      c.movdir,
		Events:      c.events.len(),
		ETA:         c.eta(),
		TelescopeAz: -1,
	}
	c.mu.Unlock()
	if c.tel != nil {
		s.TelescopeAz = c.tel.Azimuth()
		if ss, ok := c.tel.(sampleSource); ok {
			smp := ss.Sample()
			s.Telescope = &smp
		}
	}
	return s
}

// eta estimates the seconds left to reach the target.
func (c *Controller) eta() float64 {
	if c.targetaz < 0 || c.p.VMax <= 0 {
		return 0
	}
	d := math.Abs(float64(c.p.Distance(c.domeaz, c.targetaz)))
	eta := d/c.p.VMax + c.p.TStop
	if c.movstat == Idle {
		eta += c.p.TStart
	}
	return eta
}
