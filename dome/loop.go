package dome

import (
	"errors"
	"time"

	"github.com/w1xm/dome_interface/calib"
	"github.com/w1xm/dome_interface/dio"
)

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func dirOf(d int) Direction {
	if d > 0 {
		return Right
	}
	return Left
}

// tick is one pass of the control loop.
func (c *Controller) tick() {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	c.readEncoder()
	for {
		ev, ok := c.events.due(now)
		if !ok {
			break
		}
		c.fire(ev, now)
	}
	c.consume(now)
	if c.isslave && c.tel != nil {
		// Keep the last target when the telescope is unavailable.
		if az := c.tel.Azimuth(); az >= 0 {
			c.targetaz = c.p.DegToCounts(az)
		}
	}
	c.act(now)

	cb := c.statusCallback
	var status Status
	if cb != nil {
		status = c.statusLocked()
	}
	c.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

func (c *Controller) travelled() int {
	return c.counter - c.base
}

func (c *Controller) readEncoder() {
	n, err := c.board.ReadCounter(dio.Encoder)
	if err != nil {
		c.setFault("reading encoder", err)
		return
	}
	c.counter = n
	if c.movstat != Idle {
		c.domeaz = c.p.Wrap(c.startaz + int(c.movdir)*c.travelled())
	}
}

func (c *Controller) fire(ev event, now time.Time) {
	switch ev.Kind {
	case EndPulse:
		if c.movstat == Stepping {
			c.beginStop(now)
		}
	case StopRecheck:
		c.recheckStop(now)
	case ShutterDone:
		if err := c.board.ClearDigitalChannel(ev.Arg); err != nil {
			c.setFault("stopping shutter", err)
			c.shutter = ShutterError
			return
		}
		if ev.Arg == dio.OpenShutter {
			c.shutter = ShutterOpen
		} else {
			c.shutter = ShutterClosed
		}
	case RelayTimeout:
		if err := c.board.ClearDigitalChannel(dio.Relay0 + ev.Arg); err != nil {
			c.setFault("releasing relay", err)
			return
		}
		c.switches[ev.Arg] = false
	}
}

// consume applies the pending motion request.
func (c *Controller) consume(now time.Time) {
	req := c.pending
	c.pending = request{}
	if req.kind == noRequest {
		return
	}
	if req.kind == stopRequest {
		c.targetaz = -1
		c.homing = false
		switch c.movstat {
		case Aiming, Stepping, Running:
			c.beginStop(now)
		}
		return
	}
	if c.movstat != Idle {
		c.logger.Warnf("dropping request %d while %v", req.kind, c.movstat)
		return
	}
	switch req.kind {
	case runRequest:
		c.targetaz = -1
		c.startMotion(req.dir, Running, now)
	case stepRequest:
		c.targetaz = -1
		if c.startMotion(req.dir, Stepping, now) {
			c.events.add(now.Add(req.dur), EndPulse, 0)
		}
	case homeRequest:
		c.targetaz = -1
		dir := dirOf(c.p.Distance(c.domeaz, c.p.DegToCounts(c.p.HOffset)))
		if c.startMotion(dir, Running, now) {
			c.homing = true
			c.homeDeadline = now.Add(calib.Seconds(c.p.T360 + c.p.TStart + c.p.TStop))
		}
	case syncRequest:
		c.domeaz = req.az
		c.startaz = req.az
		c.base = c.counter
	}
}

// act moves the state machine on from the current state.
func (c *Controller) act(now time.Time) {
	switch c.movstat {
	case Idle:
		if c.targetaz < 0 {
			return
		}
		d := c.p.Distance(c.domeaz, c.targetaz)
		switch ad := abs(d); {
		case ad <= c.p.MaxErr:
			c.targetaz = -1
		case ad > c.p.NStop:
			c.startMotion(dirOf(d), Aiming, now)
		default:
			if c.startMotion(dirOf(d), Stepping, now) {
				c.events.add(now.Add(c.p.PulseDuration(ad)), EndPulse, 0)
			}
		}
	case Aiming:
		if c.targetaz < 0 {
			c.beginStop(now)
			return
		}
		d := c.p.Distance(c.domeaz, c.targetaz)
		if d == 0 || dirOf(d) != c.movdir {
			// Overshot or the target moved behind us. Stop and start
			// over from IDLE rather than reversing under power.
			c.beginStop(now)
			return
		}
		if abs(d) < c.stopThreshold() {
			c.beginStop(now)
		}
	case Running:
		if c.homing {
			c.checkHome(now)
		}
	}
}

// stopThreshold is the remaining distance at which an aimed run must be
// released. It is nstop once the run has covered nstart counts. Before that
// it is nstop scaled by travelled/nstart, floored at maxerr, since a run that
// has not yet reached full speed coasts less.
func (c *Controller) stopThreshold() int {
	t := c.p.NStop
	if tr := c.travelled(); c.p.NStart > 0 && tr < c.p.NStart {
		t = c.p.NStop * tr / c.p.NStart
		if t < c.p.MaxErr {
			t = c.p.MaxErr
		}
	}
	return t
}

func (c *Controller) checkHome(now time.Time) {
	home, err := c.board.ReadDigitalChannel(dio.HomeSwitch)
	if err != nil {
		c.setFault("reading home switch", err)
	} else if home {
		hoff := c.p.DegToCounts(c.p.HOffset)
		c.startaz = c.p.Wrap(hoff - int(c.movdir)*c.travelled())
		c.domeaz = hoff
		c.homing = false
		c.logger.Infof("found home at %d counts", hoff)
		c.beginStop(now)
		return
	}
	if now.After(c.homeDeadline) {
		c.setFault("finding home", errors.New("home switch not found"))
		c.homing = false
		c.beginStop(now)
	}
}

// startMotion energizes the motor for dir. It reports whether the motor
// was started.
func (c *Controller) startMotion(dir Direction, state MotionState, now time.Time) bool {
	if err := c.board.SetDigitalChannel(dir.output()); err != nil {
		c.setFault("starting motor", err)
		return false
	}
	c.startaz = c.domeaz
	c.base = c.counter
	c.direct = dir
	c.movdir = dir
	c.movstat = state
	c.logger.Debugf("%v %v from %d to %d", state, dir, c.domeaz, c.targetaz)
	return true
}

func (c *Controller) releaseMotors() {
	for _, ch := range []int{dio.MoveLeft, dio.MoveRight} {
		if err := c.board.ClearDigitalChannel(ch); err != nil {
			c.setFault("stopping motor", err)
		}
	}
}

// beginStop releases the motors and waits for the encoder to settle.
func (c *Controller) beginStop(now time.Time) {
	c.releaseMotors()
	c.events.cancel(EndPulse, 0)
	c.direct = Stopped
	c.movstat = Stopping
	c.stopcn = c.counter
	c.stopAt = now
	c.stalled = false
	c.events.add(now.Add(calib.Seconds(c.p.TSafe)), StopRecheck, 0)
}

var errStillTurning = errors.New("dome still turning")

// recheckStop finishes the stop once the encoder reads the same twice in a
// row. A dome that never settles stays in STOPPING with a fault.
func (c *Controller) recheckStop(now time.Time) {
	if c.movstat != Stopping {
		return
	}
	if c.counter == c.stopcn {
		c.finishStop()
		return
	}
	c.releaseMotors()
	c.stopcn = c.counter
	limit := calib.Seconds(c.p.TStop + 20*c.p.TSafe)
	if now.Sub(c.stopAt) > limit {
		c.stalled = true
	}
	if c.stalled {
		c.setFault("stopping", errStillTurning)
	}
	c.events.add(now.Add(calib.Seconds(c.p.TSafe)), StopRecheck, 0)
}

func (c *Controller) finishStop() {
	c.domeaz = c.p.Wrap(c.startaz + int(c.movdir)*c.travelled())
	c.startaz = c.domeaz
	if err := c.board.ResetCounter(dio.Encoder); err != nil {
		c.setFault("resetting encoder", err)
		c.base = c.counter
	} else {
		c.counter, c.base = 0, 0
	}
	c.movstat = Idle
	c.homing = false
	c.stalled = false
	c.logger.Debugf("stopped at %d counts", c.domeaz)
}
