package server

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trailsync/trailsync/internal/core/control"
	"github.com/trailsync/trailsync/internal/core/observability/log"
	"github.com/trailsync/trailsync/internal/core/protocol"
)

// Config holds server configuration.
type Config struct {
	// Network settings
	ListenAddr         string `yaml:"listen_addr"`
	SnapshotListenAddr string `yaml:"snapshot_listen_addr"`
	MaxSessions        int    `yaml:"max_sessions"`

	// Consistency protocol
	HashCheckInterval   time.Duration `yaml:"hash_check_interval"`
	SynchronizeInterval time.Duration `yaml:"synchronize_interval"`
	HashHistory         int           `yaml:"hash_history"`

	// Health monitoring
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	SessionTimeout      time.Duration `yaml:"session_timeout"`

	// Pacing of the simulation loop itself
	TickInterval time.Duration `yaml:"tick_interval"`

	// Logging
	LogLevel log.Level `yaml:"log_level"`

	// Nested configs
	Engine    control.Config  `yaml:"engine"`
	Transport protocol.Config `yaml:"transport"`
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          "127.0.0.1:8080",
		SnapshotListenAddr:  "127.0.0.1:8081",
		MaxSessions:         256,
		HashCheckInterval:   2 * time.Second,
		SynchronizeInterval: 5 * time.Second,
		HashHistory:         128,
		HealthCheckInterval: 30 * time.Second,
		SessionTimeout:      2 * time.Minute,
		TickInterval:        5 * time.Millisecond,
		LogLevel:            log.LevelInfo,
		Engine:              control.DefaultConfig(),
		Transport:           protocol.DefaultConfig(),
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Engine.Validate()
}
