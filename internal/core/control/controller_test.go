package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trailsync/trailsync/internal/core/command"
)

// fakeClock yields a scripted timeline; Now() also advances by stepCost so
// Update calls appear to take real time.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

// fakeStepper counts calls and burns stepCost of fake time per Update.
type fakeStepper struct {
	clock    *fakeClock
	stepCost time.Duration
	frame    command.Frame
	updates  int
	replays  int
}

func (f *fakeStepper) Update() error {
	f.updates++
	f.frame++
	f.clock.advance(f.stepCost)
	return nil
}

func (f *fakeStepper) RunToFrame(target command.Frame) error {
	if target == f.frame {
		f.replays++
	}
	for f.frame < target {
		if err := f.Update(); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStepper) CurrentFrame() command.Frame { return f.frame }

func harness(t *testing.T, cfg Config, stepCost time.Duration) (*Controller, *fakeStepper, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(0, 0)}
	stepper := &fakeStepper{clock: clock, stepCost: stepCost}
	ctrl, err := New(stepper, cfg, clock, nil)
	require.NoError(t, err)
	require.NoError(t, ctrl.Tick()) // arming tick
	return ctrl, stepper, clock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameTime = 10 * time.Millisecond
	cfg.LoadWindow = 4
	return cfg
}

func TestTickBelowBudgetOnlyReplays(t *testing.T) {
	ctrl, stepper, clock := harness(t, testConfig(), 0)

	clock.advance(4 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 0, stepper.updates, "stepped with less than one frame of elapsed time")
	require.Equal(t, 1, stepper.replays, "no-step tick must still resolve pending rollback")
}

func TestTickCarriesLeftoverForward(t *testing.T) {
	ctrl, stepper, clock := harness(t, testConfig(), 0)

	// 6ms + 6ms crosses the 10ms budget on the second tick.
	clock.advance(6 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 0, stepper.updates)

	clock.advance(6 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 1, stepper.updates)
}

func TestTickDrainsBacklog(t *testing.T) {
	ctrl, stepper, clock := harness(t, testConfig(), 0)

	clock.advance(35 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 3, stepper.updates)

	// 5ms remainder carried: 5 + 6 = 11 crosses the budget once more.
	clock.advance(6 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 4, stepper.updates)
}

func TestTickCapsCatchUpSpending(t *testing.T) {
	// Each frame costs 6ms of the 10ms budget, so the hard cap allows two
	// steps per tick no matter how deep the backlog is.
	ctrl, stepper, clock := harness(t, testConfig(), 6*time.Millisecond)

	clock.advance(200 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 2, stepper.updates, "catch-up exceeded one frame budget of real work")
}

func TestTickDropsExcessBacklog(t *testing.T) {
	ctrl, stepper, clock := harness(t, testConfig(), 6*time.Millisecond)

	clock.advance(200 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	before := stepper.updates

	// The capped tick itself burned 12ms of real time, which legitimately
	// buys one more frame. The 18 dropped backlog frames must not resurface.
	clock.advance(time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, before+1, stepper.updates)
}

func TestSpeedMultiplierShrinksBudget(t *testing.T) {
	cfg := testConfig()
	cfg.SpeedMultiplier = 2.0 // 5ms effective budget
	ctrl, stepper, clock := harness(t, cfg, 0)

	clock.advance(11 * time.Millisecond)
	require.NoError(t, ctrl.Tick())
	require.Equal(t, 2, stepper.updates)
}

func TestLoadAndTargetSpeed(t *testing.T) {
	ctrl, _, clock := harness(t, testConfig(), 5*time.Millisecond)
	require.Zero(t, ctrl.CurrentLoad(), "load before any frame must be zero")

	clock.advance(50 * time.Millisecond)
	require.NoError(t, ctrl.Tick())

	// Every sampled frame cost 5ms of a 10ms budget.
	require.InDelta(t, 0.5, ctrl.CurrentLoad(), 1e-9)
	require.InDelta(t, 0.5*testConfig().SafetyFactor, ctrl.TargetSpeed(), 1e-9)
}

func TestLoadWindowEvictsOldSamples(t *testing.T) {
	l := newLoadTracker(2)
	l.record(10*time.Millisecond, 10*time.Millisecond) // 1.0, evicted below
	l.record(5*time.Millisecond, 10*time.Millisecond)
	l.record(5*time.Millisecond, 10*time.Millisecond)
	if got := l.mean(); got != 0.5 {
		t.Fatalf("mean = %v, want 0.5", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   error
	}{
		"zero frame time":  {func(c *Config) { c.FrameTime = 0 }, ErrInvalidFrameTime},
		"negative speed":   {func(c *Config) { c.SpeedMultiplier = -1 }, ErrInvalidSpeed},
		"zero window":      {func(c *Config) { c.LoadWindow = 0 }, ErrInvalidLoadWindow},
		"safety below one": {func(c *Config) { c.SafetyFactor = 0.5 }, ErrInvalidSafetyFactor},
		"no delays":        {func(c *Config) { c.Delays = nil }, ErrInvalidDelayList},
		"unsorted delays":  {func(c *Config) { c.Delays = []command.Frame{0, 20, 10} }, ErrInvalidDelayList},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), tc.want)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}
