package dome

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/w1xm/dome_interface/calib"
	"github.com/w1xm/dome_interface/dio"
)

const tpoll = 10 * time.Millisecond

// testParams describe the dome simulated by testSim: 3600 counts per turn,
// 100 counts/s top speed, 50 counts of coasting.
func testParams() *calib.Params {
	pt := make([]float64, 51)
	for i := range pt {
		pt[i] = math.Sqrt(float64(i) / 1000)
	}
	return &calib.Params{
		N360:     3600,
		HOffset:  12.5,
		MaxErr:   5,
		NStart:   13,
		NStop:    50,
		T360:     36,
		TPoll:    tpoll.Seconds(),
		TSafe:    0.2,
		TShort:   0.01,
		TStart:   0.25,
		TStop:    1,
		ShutTime: 2,
		VMax:     100,
		PTable:   pt,
		ParkAz:   180,
	}
}

func testSim() *dio.Sim {
	p := dio.DefaultSimParams()
	p.Drag = 100
	p.ShutterTime = 2 * time.Second
	return dio.NewSim(p)
}

type fixedAzimuth struct {
	mu sync.Mutex
	az float64
}

func (f *fixedAzimuth) Azimuth() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.az
}

func (f *fixedAzimuth) set(az float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.az = az
}

type harness struct {
	t        *testing.T
	c        *Controller
	sim      *dio.Sim
	mock     *clock.Mock
	statuses []Status
}

type option func(*Config)

func withTelescope(tel AzimuthSource) option {
	return func(cfg *Config) { cfg.Telescope = tel }
}

func withBoard(b dio.Board) option {
	return func(cfg *Config) { cfg.Board = b }
}

func withParams(f func(*calib.Params)) option {
	return func(cfg *Config) { f(cfg.Params) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{t: t, sim: testSim(), mock: clock.NewMock()}
	cfg := Config{
		Params:         testParams(),
		Board:          h.sim,
		Clock:          h.mock,
		StatusCallback: func(s Status) { h.statuses = append(h.statuses, s) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	h.c = c
	require.NoError(t, c.Connect(context.Background()))
	return h
}

// advance steps the simulated dome and the control loop together.
func (h *harness) advance(d time.Duration) {
	for ; d > 0; d -= tpoll {
		h.sim.Step(tpoll)
		h.mock.Add(tpoll)
		h.c.tick()
	}
}

// advanceUntil advances until cond holds, failing the test after max.
func (h *harness) advanceUntil(max time.Duration, cond func(Status) bool) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed < max; elapsed += tpoll {
		h.advance(tpoll)
		if cond(h.c.Status()) {
			return
		}
	}
	h.t.Fatalf("condition not met after %v: %+v", max, h.c.Status())
}

func (h *harness) settle() {
	h.t.Helper()
	h.advanceUntil(20*time.Second, func(s Status) bool {
		return s.MovStat == Idle && s.Target < 0 && h.c.idle()
	})
}

// transitions returns the sequence of distinct motion states seen.
func (h *harness) transitions() []MotionState {
	var out []MotionState
	for _, s := range h.statuses {
		if len(out) == 0 || out[len(out)-1] != s.MovStat {
			out = append(out, s.MovStat)
		}
	}
	return out
}

func TestSlewToAzimuth(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 37.2))
	h.settle()

	want := []MotionState{Aiming, Stopping, Idle}
	if diff := cmp.Diff(want, h.transitions()[:3]); diff != "" {
		t.Errorf("motion states (-want +got):\n%s", diff)
	}
	st := h.c.Status()
	assert.InDelta(t, 37.2, st.Azimuth, 0.5)
	assert.InDelta(t, 372, h.sim.Azimuth(), 5)
	assert.False(t, h.sim.Moving())
}

func TestSlewShortWayRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 340))
	h.advance(tpoll)
	assert.Equal(t, Left, h.c.Status().Direct)
	h.settle()
	assert.InDelta(t, 340, h.c.Status().Azimuth, 0.5)
	assert.InDelta(t, 3400, h.sim.Azimuth(), 5)
}

func TestStepWithinNStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 3))
	h.settle()

	assert.Equal(t, Stepping, h.transitions()[0])
	assert.NotContains(t, h.transitions(), Aiming)
	assert.InDelta(t, 3, h.c.Status().Azimuth, 0.5)
	assert.InDelta(t, 30, h.sim.Azimuth(), 5)
}

func TestSlewWithinMaxErr(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 0.4))
	h.advance(5 * tpoll)
	st := h.c.Status()
	assert.Equal(t, Idle, st.MovStat)
	assert.Equal(t, -1.0, st.Target)
	assert.False(t, h.sim.Moving())
}

func TestStopThreshold(t *testing.T) {
	for _, tc := range []struct {
		nstart, travelled, want int
	}{
		{nstart: 100, travelled: 0, want: 5},
		{nstart: 100, travelled: 20, want: 10},
		{nstart: 100, travelled: 50, want: 25},
		{nstart: 100, travelled: 100, want: 50},
		{nstart: 100, travelled: 400, want: 50},
		{nstart: 13, travelled: 13, want: 50},
		{nstart: 0, travelled: 0, want: 50},
	} {
		h := newHarness(t, withParams(func(p *calib.Params) { p.NStart = tc.nstart }))
		h.c.counter, h.c.base = tc.travelled, 0
		assert.Equal(t, tc.want, h.c.stopThreshold(), "nstart %d travelled %d", tc.nstart, tc.travelled)
	}
}

func TestDirectMatchesMotion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 90))
	h.settle()
	require.NoError(t, h.c.StepLeft(ctx, 100*time.Millisecond))
	h.settle()

	require.NotEmpty(t, h.statuses)
	for i, s := range h.statuses {
		moving := s.MovStat == Aiming || s.MovStat == Stepping || s.MovStat == Running
		assert.Equal(t, moving, s.Direct != Stopped, "status %d: %+v", i, s)
	}
	seen := h.transitions()
	allowed := map[MotionState][]MotionState{
		Idle:     {Aiming, Stepping, Running},
		Aiming:   {Stopping},
		Stepping: {Stopping},
		Running:  {Stopping},
		Stopping: {Idle},
	}
	for i := 1; i < len(seen); i++ {
		assert.Contains(t, allowed[seen[i-1]], seen[i], "%v -> %v", seen[i-1], seen[i])
	}
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Stop on an idle dome does nothing.
	require.NoError(t, h.c.Stop(ctx))
	h.advance(tpoll)
	assert.Equal(t, Idle, h.c.Status().MovStat)
	assert.Empty(t, h.transitions()[1:])

	require.NoError(t, h.c.StartRight(ctx))
	h.advance(time.Second)
	assert.Equal(t, Running, h.c.Status().MovStat)
	assert.True(t, h.sim.Output(dio.MoveRight))

	require.NoError(t, h.c.Stop(ctx))
	h.advance(tpoll)
	assert.Equal(t, Stopping, h.c.Status().MovStat)
	assert.False(t, h.sim.Output(dio.MoveRight))
	require.NoError(t, h.c.Stop(ctx))
	h.settle()
	assert.False(t, h.sim.Moving())
	assert.InDelta(t, h.sim.Azimuth()/10, h.c.Status().Azimuth, 0.5)
}

func TestCommandsWhileMoving(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withTelescope(&fixedAzimuth{az: -1}))

	require.NoError(t, h.c.SlewToAzimuth(ctx, 90))
	// Still pending.
	assert.Equal(t, CantExecute, CodeOf(h.c.StartLeft(ctx)))
	h.advance(tpoll)
	assert.Equal(t, Aiming, h.c.Status().MovStat)
	for name, err := range map[string]error{
		"slew":     h.c.SlewToAzimuth(ctx, 10),
		"step":     h.c.StepRight(ctx, time.Second),
		"home":     h.c.FindHome(ctx),
		"park":     h.c.Park(ctx),
		"setpark":  h.c.SetPark(ctx),
		"sync":     h.c.SyncToAzimuth(ctx, 10),
		"setslave": h.c.SetSlave(ctx, true),
	} {
		assert.Equal(t, CantExecute, CodeOf(err), name)
	}
	assert.NoError(t, h.c.Stop(ctx))
	h.settle()
}

func TestArgumentErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	assert.Equal(t, ValueError, CodeOf(h.c.SlewToAzimuth(ctx, -1)))
	assert.Equal(t, ValueError, CodeOf(h.c.SlewToAzimuth(ctx, math.NaN())))
	assert.Equal(t, ValueError, CodeOf(h.c.SyncToAzimuth(ctx, 361)))
	assert.Equal(t, ValueError, CodeOf(h.c.StepLeft(ctx, 0)))
	assert.Equal(t, ValueError, CodeOf(h.c.StepRight(ctx, time.Hour)))
	assert.Equal(t, ValueError, CodeOf(h.c.Switch(ctx, 4, true)))
	assert.Equal(t, ValueError, CodeOf(h.c.PulseSwitch(ctx, 0, -time.Second)))
	assert.Equal(t, Unconfigured, CodeOf(h.c.SetSlave(ctx, true)))
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.c.Disconnect(ctx))
	assert.False(t, h.c.Connected())

	err := h.c.SlewToAzimuth(ctx, 10)
	assert.Equal(t, NotConnected, CodeOf(err))
	assert.EqualError(t, err, "slewtoazimuth: dome not connected (NOT_CONNECTED)")
	assert.Equal(t, NotConnected, CodeOf(h.c.OpenShutter(ctx)))
	assert.Equal(t, NotConnected, CodeOf(h.c.Switch(ctx, 0, true)))
	// Stop is always allowed.
	assert.NoError(t, h.c.Stop(ctx))

	h.sim.FailNext(1)
	assert.Equal(t, NotConnected, CodeOf(h.c.Connect(ctx)))
	assert.NoError(t, h.c.Connect(ctx))
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.c.SyncToAzimuth(ctx, 123.4))
	h.advance(tpoll)
	assert.InDelta(t, 123.4, h.c.Status().Azimuth, 0.1)
	assert.Equal(t, Idle, h.c.Status().MovStat)
}

func TestParkAndSetPark(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	assert.False(t, h.c.Status().AtPark)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 20))
	h.settle()
	require.NoError(t, h.c.SetPark(ctx))
	st := h.c.Status()
	assert.True(t, st.AtPark)
	assert.InDelta(t, 20, st.ParkAz, 0.5)

	require.NoError(t, h.c.SlewToAzimuth(ctx, 30))
	h.settle()
	assert.False(t, h.c.Status().AtPark)
	require.NoError(t, h.c.Park(ctx))
	h.settle()
	assert.True(t, h.c.Status().AtPark)
	assert.InDelta(t, 20, h.c.Params().ParkAz, 0.5)
}

func TestSlaving(t *testing.T) {
	ctx := context.Background()
	tel := &fixedAzimuth{az: 45}
	h := newHarness(t, withTelescope(tel))

	require.NoError(t, h.c.SetSlave(ctx, true))
	h.advanceUntil(20*time.Second, func(s Status) bool {
		return s.MovStat == Idle && math.Abs(s.Azimuth-45) <= 0.5
	})
	assert.True(t, h.c.Status().Slaved)

	// An unavailable telescope keeps the dome where it is.
	tel.set(-1)
	h.advance(time.Second)
	assert.Equal(t, Idle, h.c.Status().MovStat)

	tel.set(50)
	h.advanceUntil(20*time.Second, func(s Status) bool {
		return s.MovStat == Idle && math.Abs(s.Azimuth-50) <= 0.5
	})

	// Manual commands disengage slaving.
	require.NoError(t, h.c.StepRight(ctx, 50*time.Millisecond))
	assert.False(t, h.c.Status().Slaved)
	h.settle()

	require.NoError(t, h.c.SetSlave(ctx, true))
	require.NoError(t, h.c.Stop(ctx))
	assert.False(t, h.c.Status().Slaved)

	require.NoError(t, h.c.SetSlave(ctx, true))
	require.NoError(t, h.c.SlewToAzimuth(ctx, 10))
	assert.False(t, h.c.Status().Slaved)
	h.settle()
	require.NoError(t, h.c.SetSlave(ctx, true))
	assert.Equal(t, Slaved, CodeOf(h.c.SyncToAzimuth(ctx, 10)))

	require.NoError(t, h.c.Park(ctx))
	assert.False(t, h.c.Status().Slaved)
	h.settle()
	assert.True(t, h.c.Status().AtPark)
}

func TestUnslaveStopsPursuit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withTelescope(&fixedAzimuth{az: 90}))

	require.NoError(t, h.c.SetSlave(ctx, true))
	h.advanceUntil(5*time.Second, func(s Status) bool { return s.MovStat == Aiming })
	h.advance(time.Second)
	require.NoError(t, h.c.SetSlave(ctx, false))
	st := h.c.Status()
	assert.False(t, st.Slaved)
	assert.Equal(t, -1.0, st.Target)

	h.advance(tpoll)
	assert.Equal(t, Stopping, h.c.Status().MovStat)
	h.settle()
	assert.Less(t, h.c.Status().Azimuth, 60.0)
	assert.False(t, h.sim.Moving())
}

func TestSetSlaveWhileMoving(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withTelescope(&fixedAzimuth{az: 45}))
	require.NoError(t, h.c.StartLeft(ctx))
	h.advance(100 * time.Millisecond)
	assert.Equal(t, CantExecute, CodeOf(h.c.SetSlave(ctx, true)))
	assert.False(t, h.c.Status().Slaved)
	require.NoError(t, h.c.Stop(ctx))
	h.settle()
	require.NoError(t, h.c.SetSlave(ctx, true))
}

// creepingBoard is a board whose encoder never stops counting.
type creepingBoard struct {
	*dio.Sim
	n int
}

func (b *creepingBoard) ReadCounter(id int) (int, error) {
	b.n++
	return b.n, nil
}

func TestStallHoldsStopping(t *testing.T) {
	ctx := context.Background()
	board := &creepingBoard{Sim: testSim()}
	h := newHarness(t, withBoard(board))

	require.NoError(t, h.c.StartRight(ctx))
	h.advance(100 * time.Millisecond)
	require.NoError(t, h.c.Stop(ctx))
	h.advance(10 * time.Second)

	st := h.c.Status()
	assert.Equal(t, Stopping, st.MovStat)
	assert.Equal(t, Stopped, st.Direct)
	assert.Contains(t, st.Fault, "still turning")
	assert.False(t, board.Output(dio.MoveRight))
	assert.Equal(t, CantExecute, CodeOf(h.c.StartLeft(ctx)))

	// Reconnecting does not hide the stall.
	require.NoError(t, h.c.Connect(ctx))
	assert.Contains(t, h.c.Status().Fault, "still turning")
	h.advance(10 * time.Second)
	st = h.c.Status()
	assert.Equal(t, Stopping, st.MovStat)
	assert.Contains(t, st.Fault, "still turning")
}

func TestEncoderFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.c.SlewToAzimuth(ctx, 20))
	h.advance(500 * time.Millisecond)
	before := h.c.ExtStatus().Counter
	h.sim.FailNext(1)
	h.c.tick()
	ext := h.c.ExtStatus()
	assert.Equal(t, before, ext.Counter)
	assert.Contains(t, ext.Fault, "reading encoder")
	h.settle()
	assert.InDelta(t, 20, h.c.Status().Azimuth, 0.5)
}

func TestFindHome(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	// The dome is really at 5 degrees but believes it is at 0.
	h.sim.SetAzimuth(50)

	require.NoError(t, h.c.FindHome(ctx))
	h.advance(tpoll)
	assert.True(t, h.c.Status().Homing)
	h.settle()

	st := h.c.Status()
	assert.False(t, st.Homing)
	assert.Empty(t, st.Fault)
	assert.InDelta(t, h.sim.Azimuth()/10, st.Azimuth, 0.5)
}

func TestFindHomeTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withParams(func(p *calib.Params) { p.T360 = 2 }))
	h.sim.SetStuck(true)

	require.NoError(t, h.c.FindHome(ctx))
	h.advanceUntil(10*time.Second, func(s Status) bool { return s.MovStat == Idle && !s.Homing })
	assert.Contains(t, h.c.Status().Fault, "home switch not found")
}

func TestShutter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	assert.Equal(t, ShutterClosed, h.c.Status().Shutter)

	require.NoError(t, h.c.OpenShutter(ctx))
	assert.Equal(t, ShutterOpening, h.c.Status().Shutter)
	assert.True(t, h.c.Status().Slewing())
	h.advance(2*time.Second + tpoll)
	assert.Equal(t, ShutterOpen, h.c.Status().Shutter)
	assert.False(t, h.sim.Output(dio.OpenShutter))
	assert.InDelta(t, 1, h.sim.Shutter(), 0.01)

	require.NoError(t, h.c.CloseShutter(ctx))
	h.advance(time.Second)
	assert.Equal(t, ShutterClosing, h.c.Status().Shutter)
	require.NoError(t, h.c.AbortShutter(ctx))
	assert.Equal(t, ShutterError, h.c.Status().Shutter)
	assert.False(t, h.sim.Output(dio.CloseShutter))
	h.advance(2 * time.Second)
	assert.Equal(t, ShutterError, h.c.Status().Shutter)
	assert.InDelta(t, 0.5, h.sim.Shutter(), 0.05)
}

func TestSwitches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.c.Switch(ctx, 2, true))
	on, err := h.c.SwitchState(2)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, h.sim.Output(dio.Relay0+2))

	require.NoError(t, h.c.PulseSwitch(ctx, 1, 50*time.Millisecond))
	assert.True(t, h.c.Status().Switches[1])
	h.advance(100 * time.Millisecond)
	assert.False(t, h.c.Status().Switches[1])
	assert.False(t, h.sim.Output(dio.Relay0+1))
	assert.Equal(t, [dio.Relays]bool{false, false, true, false}, h.c.Status().Switches)

	// Setting a pulsed relay cancels its timeout.
	require.NoError(t, h.c.PulseSwitch(ctx, 3, 50*time.Millisecond))
	require.NoError(t, h.c.Switch(ctx, 3, true))
	h.advance(100 * time.Millisecond)
	assert.True(t, h.c.Status().Switches[3])

	_, err = h.c.SwitchState(7)
	assert.Equal(t, ValueError, CodeOf(err))
}

func TestExtStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withTelescope(&fixedAzimuth{az: 100}))
	require.NoError(t, h.c.SlewToAzimuth(ctx, 90))
	ext := h.c.ExtStatus()
	assert.Equal(t, 900, ext.TargetAz)
	assert.Equal(t, 100.0, ext.TelescopeAz)
	assert.InDelta(t, 900/100.0+1+0.25, ext.ETA, 1e-9)
	assert.Nil(t, ext.Telescope)
	h.advance(time.Second)
	ext = h.c.ExtStatus()
	assert.Equal(t, Right, ext.MovDir)
	assert.Greater(t, ext.Counter, 0)
	assert.Equal(t, 0, ext.StartAz)
}
