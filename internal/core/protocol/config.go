package protocol

import "time"

// Config holds per-connection transport settings shared by the WebSocket
// and QUIC implementations.
type Config struct {
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxEnvelopeSize bounds a single encoded envelope. Snapshot responses
	// are the largest legitimate envelopes, so size this for the world,
	// not for commands.
	MaxEnvelopeSize uint32 `yaml:"max_envelope_size"`
}

// DefaultConfig returns transport settings suitable for LAN and typical
// WAN play.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxEnvelopeSize: 16 << 20,
	}
}
