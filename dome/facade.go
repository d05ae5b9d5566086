package dome

import (
	"context"
	"math"
	"time"

	"github.com/w1xm/dome_interface/calib"
	"github.com/w1xm/dome_interface/dio"
)

// command runs f holding the command lock and the state lock. Once Shutdown
// has begun it fails without waiting for the lock.
func (c *Controller) command(ctx context.Context, op string, f func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := c.cmd.Acquire(ctx, 1); err != nil {
		select {
		case <-c.closing:
			return newError(CantExecute, op, "dome server is shutting down")
		default:
		}
		return err
	}
	defer c.cmd.Release(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newError(CantExecute, op, "dome server has shut down")
	}
	select {
	case <-c.closing:
		return newError(CantExecute, op, "dome server is shutting down")
	default:
	}
	return f()
}

func (c *Controller) checkConnected(op string) error {
	if !c.connected {
		return newError(NotConnected, op, "dome not connected")
	}
	return nil
}

func (c *Controller) busy() bool {
	return c.movstat != Idle || c.pending.kind != noRequest || c.targetaz >= 0
}

func (c *Controller) checkIdle(op string) error {
	if c.busy() {
		return newError(CantExecute, op, "dome is %v", c.movstat)
	}
	return nil
}

// clearSlave disengages slaving and drops the telescope target. A run
// aimed at that target is stopped by the next tick.
func (c *Controller) clearSlave() {
	if c.isslave {
		c.targetaz = -1
	}
	c.isslave = false
}

// motion checks the preconditions shared by every motion command and then
// posts req.
func (c *Controller) motion(ctx context.Context, op string, req request) error {
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		c.clearSlave()
		if err := c.checkIdle(op); err != nil {
			return err
		}
		c.pending = req
		return nil
	})
}

func checkAzimuth(op string, deg float64) error {
	if math.IsNaN(deg) || deg < 0 || deg > 360 {
		return newError(ValueError, op, "azimuth %v out of range [0, 360]", deg)
	}
	return nil
}

// Connect checks the board and accepts commands.
func (c *Controller) Connect(ctx context.Context) error {
	const op = "connect"
	return c.command(ctx, op, func() error {
		if _, err := c.board.ReadCounter(dio.Encoder); err != nil {
			return newError(NotConnected, op, "board not responding: %v", err)
		}
		c.connected = true
		if !c.stalled {
			c.fault = ""
		}
		return nil
	})
}

// Disconnect stops any motion and refuses further commands until Connect.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.command(ctx, "disconnect", func() error {
		c.isslave = false
		if c.busy() {
			c.pending = request{kind: stopRequest}
		}
		c.connected = false
		return nil
	})
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Controller) StartLeft(ctx context.Context) error {
	return c.motion(ctx, "start_left", request{kind: runRequest, dir: Left})
}

func (c *Controller) StartRight(ctx context.Context) error {
	return c.motion(ctx, "start_right", request{kind: runRequest, dir: Right})
}

// Stop aborts any motion and slaving. It succeeds in every state.
func (c *Controller) Stop(ctx context.Context) error {
	return c.command(ctx, "stop", func() error {
		c.isslave = false
		if c.busy() {
			c.pending = request{kind: stopRequest}
		}
		return nil
	})
}

func (c *Controller) step(ctx context.Context, op string, dir Direction, d time.Duration) error {
	if max := calib.Seconds(c.p.T360); d <= 0 || (max > 0 && d > max) {
		return newError(ValueError, op, "pulse %v out of range", d)
	}
	return c.motion(ctx, op, request{kind: stepRequest, dir: dir, dur: d})
}

// StepLeft runs the motor counter-clockwise for d.
func (c *Controller) StepLeft(ctx context.Context, d time.Duration) error {
	return c.step(ctx, "step_left", Left, d)
}

// StepRight runs the motor clockwise for d.
func (c *Controller) StepRight(ctx context.Context, d time.Duration) error {
	return c.step(ctx, "step_right", Right, d)
}

func (c *Controller) slew(ctx context.Context, op string, target func() int) error {
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		c.clearSlave()
		if err := c.checkIdle(op); err != nil {
			return err
		}
		c.targetaz = target()
		return nil
	})
}

// SlewToAzimuth turns the dome to deg degrees.
func (c *Controller) SlewToAzimuth(ctx context.Context, deg float64) error {
	const op = "slewtoazimuth"
	if err := checkAzimuth(op, deg); err != nil {
		return err
	}
	return c.slew(ctx, op, func() int { return c.p.DegToCounts(deg) })
}

// Park turns the dome to the park azimuth.
func (c *Controller) Park(ctx context.Context) error {
	return c.slew(ctx, "park", func() int { return c.parkaz })
}

// SyncToAzimuth declares the current position to be deg degrees.
func (c *Controller) SyncToAzimuth(ctx context.Context, deg float64) error {
	const op = "synctoazimuth"
	if err := checkAzimuth(op, deg); err != nil {
		return err
	}
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		if c.isslave {
			return newError(Slaved, op, "dome is slaved")
		}
		if err := c.checkIdle(op); err != nil {
			return err
		}
		c.pending = request{kind: syncRequest, az: c.p.DegToCounts(deg)}
		return nil
	})
}

// SetPark makes the current azimuth the park azimuth.
func (c *Controller) SetPark(ctx context.Context) error {
	const op = "setpark"
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		if err := c.checkIdle(op); err != nil {
			return err
		}
		c.parkaz = c.domeaz
		return nil
	})
}

// FindHome turns towards the home switch and re-references the azimuth
// there.
func (c *Controller) FindHome(ctx context.Context) error {
	return c.motion(ctx, "findhome", request{kind: homeRequest})
}

// SetSlave turns slaving to the telescope on or off.
func (c *Controller) SetSlave(ctx context.Context, on bool) error {
	const op = "slaved"
	return c.command(ctx, op, func() error {
		if !on {
			c.clearSlave()
			return nil
		}
		if err := c.checkConnected(op); err != nil {
			return err
		}
		if c.tel == nil {
			return newError(Unconfigured, op, "no telescope configured")
		}
		if c.isslave {
			return nil
		}
		if err := c.checkIdle(op); err != nil {
			return err
		}
		c.isslave = true
		return nil
	})
}

func (c *Controller) driveShutter(ctx context.Context, op string, out int, moving ShutterState) error {
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		if c.p.ShutTime <= 0 {
			return newError(Unconfigured, op, "shuttime not set")
		}
		other := dio.CloseShutter
		if out == dio.CloseShutter {
			other = dio.OpenShutter
		}
		if err := c.board.ClearDigitalChannel(other); err != nil {
			c.setFault("stopping shutter", err)
			return newError(CantExecute, op, "stopping shutter: %v", err)
		}
		c.events.cancel(ShutterDone, other)
		c.events.cancel(ShutterDone, out)
		if err := c.board.SetDigitalChannel(out); err != nil {
			c.setFault("starting shutter", err)
			c.shutter = ShutterError
			return newError(CantExecute, op, "starting shutter: %v", err)
		}
		c.shutter = moving
		c.events.add(c.clock.Now().Add(calib.Seconds(c.p.ShutTime)), ShutterDone, out)
		return nil
	})
}

func (c *Controller) OpenShutter(ctx context.Context) error {
	return c.driveShutter(ctx, "openshutter", dio.OpenShutter, ShutterOpening)
}

func (c *Controller) CloseShutter(ctx context.Context) error {
	return c.driveShutter(ctx, "closeshutter", dio.CloseShutter, ShutterClosing)
}

// AbortShutter stops the shutter motor. A shutter stopped part way is
// reported as ShutterError.
func (c *Controller) AbortShutter(ctx context.Context) error {
	const op = "abortshutter"
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		for _, out := range []int{dio.OpenShutter, dio.CloseShutter} {
			if err := c.board.ClearDigitalChannel(out); err != nil {
				c.setFault("stopping shutter", err)
				return newError(CantExecute, op, "stopping shutter: %v", err)
			}
			c.events.cancel(ShutterDone, out)
		}
		if c.shutter == ShutterOpening || c.shutter == ShutterClosing {
			c.shutter = ShutterError
		}
		return nil
	})
}

func checkRelay(op string, i int) error {
	if i < 0 || i >= dio.Relays {
		return newError(ValueError, op, "switch %d out of range [0, %d]", i, dio.Relays-1)
	}
	return nil
}

func (c *Controller) setRelay(op string, i int, on bool) error {
	var err error
	if on {
		err = c.board.SetDigitalChannel(dio.Relay0 + i)
	} else {
		err = c.board.ClearDigitalChannel(dio.Relay0 + i)
	}
	if err != nil {
		c.setFault("setting relay", err)
		return newError(CantExecute, op, "switch %d: %v", i, err)
	}
	c.events.cancel(RelayTimeout, i)
	c.switches[i] = on
	return nil
}

// Switch turns relay i on or off.
func (c *Controller) Switch(ctx context.Context, i int, on bool) error {
	const op = "setswitch"
	if err := checkRelay(op, i); err != nil {
		return err
	}
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		return c.setRelay(op, i, on)
	})
}

// PulseSwitch turns relay i on for d.
func (c *Controller) PulseSwitch(ctx context.Context, i int, d time.Duration) error {
	const op = "pulse_switch"
	if err := checkRelay(op, i); err != nil {
		return err
	}
	if d <= 0 {
		return newError(ValueError, op, "pulse %v out of range", d)
	}
	return c.command(ctx, op, func() error {
		if err := c.checkConnected(op); err != nil {
			return err
		}
		if err := c.setRelay(op, i, true); err != nil {
			return err
		}
		c.events.add(c.clock.Now().Add(d), RelayTimeout, i)
		return nil
	})
}

// SwitchState reports whether relay i is on.
func (c *Controller) SwitchState(i int) (bool, error) {
	if err := checkRelay("getswitch", i); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switches[i], nil
}
