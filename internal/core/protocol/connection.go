package protocol

import (
	"net"
	"time"
)

// Connection is one participant link, independent of transport. Both the
// WebSocket and QUIC implementations satisfy it; the server hub only ever
// sees this interface.
type Connection interface {
	// ID is the transport-assigned connection id (uuid).
	ID() string
	// SendEnvelope encodes and writes one envelope. Safe for concurrent use.
	SendEnvelope(env *Envelope) error
	// ReceiveEnvelope blocks for the next inbound envelope. Single-reader.
	ReceiveEnvelope() (*Envelope, error)
	// IsClosed reports whether the connection was closed by either side.
	IsClosed() bool
	// Close tears the connection down; repeated calls are no-ops.
	Close() error
	// LastActivity is the time of the most recent successful read or write.
	LastActivity() time.Time
	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}
