package control

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trailsync/trailsync/internal/core/command"
)

// Config validation errors
var (
	ErrInvalidFrameTime    = errors.New("frame time must be positive")
	ErrInvalidSpeed        = errors.New("speed multiplier must be positive")
	ErrInvalidLoadWindow   = errors.New("load window must be positive")
	ErrInvalidSafetyFactor = errors.New("safety factor must be at least 1")
	ErrInvalidDelayList    = errors.New("delays must start at 0 and increase")
)

// Config drives the controller's pacing and the synchronizer's trailing
// window.
type Config struct {
	// FrameTime is the real-time budget of one simulation frame.
	FrameTime time.Duration `yaml:"frame_time"`
	// SpeedMultiplier scales the effective frame rate; 2.0 runs the
	// simulation at twice real time. Usually driven by Synchronize hints.
	SpeedMultiplier float64 `yaml:"speed_multiplier"`
	// Delays lists the trailing-state offsets in frames, ascending from 0.
	Delays []command.Frame `yaml:"delays"`
	// LoadWindow is the number of frame-cost samples averaged into
	// CurrentLoad.
	LoadWindow int `yaml:"load_window"`
	// SafetyFactor inflates the reported load so pacing reacts before a
	// participant saturates. Must be >= 1.
	SafetyFactor float64 `yaml:"safety_factor"`
}

// DefaultConfig returns the settings used when no config file is given:
// 20 simulation frames per second with a short and a deep trailing copy.
func DefaultConfig() Config {
	return Config{
		FrameTime:       50 * time.Millisecond,
		SpeedMultiplier: 1.0,
		Delays:          []command.Frame{0, 10, 40},
		LoadWindow:      30,
		SafetyFactor:    1.2,
	}
}

// Validate checks the config for values the controller cannot run with.
func (c Config) Validate() error {
	if c.FrameTime <= 0 {
		return ErrInvalidFrameTime
	}
	if c.SpeedMultiplier <= 0 {
		return ErrInvalidSpeed
	}
	if c.LoadWindow <= 0 {
		return ErrInvalidLoadWindow
	}
	if c.SafetyFactor < 1 {
		return ErrInvalidSafetyFactor
	}
	if len(c.Delays) == 0 || c.Delays[0] != 0 {
		return ErrInvalidDelayList
	}
	for i := 1; i < len(c.Delays); i++ {
		if c.Delays[i] <= c.Delays[i-1] {
			return ErrInvalidDelayList
		}
	}
	return nil
}

// LoadConfig reads a yaml config file, filling unset fields from the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
