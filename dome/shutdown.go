package dome

import (
	"context"

	"github.com/w1xm/dome_interface/calib"
)

func (c *Controller) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.movstat == Idle && c.pending.kind == noRequest
}

// Shutdown stops the dome, calls stopServing, stops the control loop, clears
// every output and saves the dome and park azimuths. The controller refuses
// all commands afterwards and cannot be restarted.
//
// Shutdown holds the command lock throughout, so it waits for a running
// command and no command runs after it. Commands issued once Shutdown has
// begun fail at once with CantExecute, so stopServing never waits on them.
func (c *Controller) Shutdown(ctx context.Context, stopServing func(context.Context) error) error {
	c.closingOnce.Do(func() { close(c.closing) })
	if err := c.cmd.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.cmd.Release(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.isslave = false
	if c.busy() {
		c.pending = request{kind: stopRequest}
	}
	running := c.done != nil
	c.mu.Unlock()

	if running {
		limit := calib.Seconds(c.p.TStop + 20*c.p.TSafe)
		deadline := c.clock.Now().Add(limit)
	wait:
		for !c.idle() {
			if c.clock.Now().After(deadline) {
				c.logger.Warnf("dome still moving after %v, shutting down anyway", limit)
				break
			}
			select {
			case <-ctx.Done():
				c.logger.Warnf("shutting down while moving: %v", ctx.Err())
				break wait
			case <-c.clock.After(calib.Seconds(c.p.TPoll)):
			}
		}
	}

	if stopServing != nil {
		if err := stopServing(ctx); err != nil {
			c.logger.Warnf("stopping server: %v", err)
		}
	}

	c.mu.Lock()
	now := c.clock.Now()
	for _, ev := range c.events.drain() {
		c.fire(ev, now)
	}
	c.halted = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	if running {
		<-c.done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.board.ClearAllDigital(); err != nil {
		c.setFault("clearing outputs", err)
	}
	c.direct = Stopped
	for i := range c.switches {
		c.switches[i] = false
	}
	c.connected = false
	c.closed = true
	if c.calibPath == "" {
		return nil
	}
	domeAz, parkAz := c.p.CountsToDeg(c.domeaz), c.p.CountsToDeg(c.parkaz)
	if err := calib.SavePositions(c.calibPath, domeAz, parkAz); err != nil {
		return err
	}
	c.logger.Infof("saved dome azimuth %.2f and park azimuth %.2f", domeAz, parkAz)
	return nil
}
