package control

import (
	"time"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/observability/log"
)

// Stepper is the slice of the synchronizer the controller drives.
type Stepper interface {
	Update() error
	RunToFrame(target command.Frame) error
	CurrentFrame() command.Frame
}

// Controller paces a Stepper against wall-clock time. Each Tick it decides
// how many frames to run: none when the accumulated time is below one frame
// budget, otherwise as many as the backlog demands — capped at one frame
// budget of real work per tick so a slow machine degrades smoothly instead
// of stalling in a catch-up spiral.
//
// Tick must be called from the simulation goroutine, like every other
// mutation of the underlying synchronizer.
type Controller struct {
	stepper Stepper
	clock   Clock
	cfg     Config
	load    *loadTracker
	logger  log.Log

	started  bool
	lastTick time.Time
	leftover time.Duration
}

// New builds a controller. A nil clock selects the system clock.
func New(stepper Stepper, cfg Config, clock Clock, logger log.Log) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Controller{
		stepper: stepper,
		clock:   clock,
		cfg:     cfg,
		load:    newLoadTracker(cfg.LoadWindow),
		logger:  logger.With(log.String("component", "control")),
	}, nil
}

// SetSpeedMultiplier adjusts the effective frame rate, typically from a
// Synchronize pacing hint. Values <= 0 are ignored.
func (c *Controller) SetSpeedMultiplier(speed float64) {
	if speed <= 0 {
		return
	}
	c.cfg.SpeedMultiplier = speed
}

// budget is the wall-clock time one frame is entitled to at the current
// speed multiplier.
func (c *Controller) budget() time.Duration {
	return time.Duration(float64(c.cfg.FrameTime) / c.cfg.SpeedMultiplier)
}

// Tick runs the pacing decision once. Below one frame budget it performs a
// no-step pass: RunToFrame at the current frame, which resolves any rollback
// queued by commands that arrived between frames, and carries the elapsed
// time into the next tick. At or above the budget it steps frames until the
// backlog is drained or the real time spent reaches one full frame budget;
// backlog beyond the cap is dropped, not deferred.
func (c *Controller) Tick() error {
	now := c.clock.Now()
	if !c.started {
		c.started = true
		c.lastTick = now
		return nil
	}
	elapsed := now.Sub(c.lastTick) + c.leftover
	c.lastTick = now

	budget := c.budget()
	if elapsed < budget {
		c.leftover = elapsed
		return c.stepper.RunToFrame(c.stepper.CurrentFrame())
	}

	var spent time.Duration
	for elapsed >= budget && spent < c.cfg.FrameTime {
		start := c.clock.Now()
		if err := c.stepper.Update(); err != nil {
			return err
		}
		cost := c.clock.Now().Sub(start)
		c.load.record(cost, c.cfg.FrameTime)
		spent += cost
		elapsed -= budget
	}

	if elapsed >= budget {
		dropped := int64(elapsed / budget)
		elapsed %= budget
		c.logger.Debug("dropping simulation backlog",
			log.Int64("frames", dropped),
			log.Int64("frame", int64(c.stepper.CurrentFrame())))
	}
	c.leftover = elapsed
	return nil
}

// CurrentLoad reports the mean fraction of the frame budget recent frames
// consumed. 1.0 means saturation.
func (c *Controller) CurrentLoad() float64 { return c.load.mean() }

// TargetSpeed is the safety-buffered load the server broadcasts as a
// Synchronize pacing hint, so participants slow the shared simulation
// before any one of them saturates.
func (c *Controller) TargetSpeed() float64 {
	return c.load.mean() * c.cfg.SafetyFactor
}
