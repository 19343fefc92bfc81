package websocket

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/protocol"
)

var _ protocol.Connection = (*Connection)(nil)

// Connection is a WebSocket-backed participant link carrying envelopes as
// binary frames.
type Connection struct {
	id     string
	conn   *websocket.Conn
	config protocol.Config
	codec  protocol.Codec

	lastActivity int64 // unix nanos
	closed       int32

	// Metrics
	envelopesSent     uint64
	envelopesReceived uint64
	bytesSent         uint64
	bytesReceived     uint64

	mu      sync.RWMutex
	onClose func(string)

	// Serializes writes; gorilla connections allow one writer at a time.
	writeMu sync.Mutex
}

// NewConnection wraps an established websocket connection.
func NewConnection(conn *websocket.Conn, config protocol.Config, codec protocol.Codec) *Connection {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if config.MaxEnvelopeSize > 0 {
		conn.SetReadLimit(int64(config.MaxEnvelopeSize))
	}
	return &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		config:       config,
		codec:        codec,
		lastActivity: time.Now().UnixNano(),
	}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SendEnvelope encodes and writes one envelope as a binary frame.
func (c *Connection) SendEnvelope(env *protocol.Envelope) error {
	if c.IsClosed() {
		return protocol.ErrConnectionClosed
	}

	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	if c.config.MaxEnvelopeSize > 0 && uint32(len(data)) > c.config.MaxEnvelopeSize {
		return errors.Wrapf(protocol.ErrEnvelopeTooBig, "%d bytes", len(data))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err = c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to write envelope")
	}

	atomic.AddUint64(&c.envelopesSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(len(data)))
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
	return nil
}

// ReceiveEnvelope blocks for the next inbound envelope. The caller owns
// the returned envelope and should release it back to the pool when done.
func (c *Connection) ReceiveEnvelope() (*protocol.Envelope, error) {
	if c.IsClosed() {
		return nil, protocol.ErrConnectionClosed
	}

	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read envelope")
	}
	if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
		return nil, protocol.ErrInvalidEnvelope
	}

	env, err := c.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	atomic.AddUint64(&c.envelopesReceived, 1)
	atomic.AddUint64(&c.bytesReceived, uint64(len(data)))
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
	return env, nil
}

// IsClosed reports whether the connection was closed by either side.
func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// LastActivity returns the time of the last successful read or write.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.CloseWithReason("connection closed")
}

// CloseWithReason sends a close frame carrying reason, then tears the
// connection down. Repeated calls are no-ops.
func (c *Connection) CloseWithReason(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()

	c.mu.RLock()
	onClose := c.onClose
	c.mu.RUnlock()
	if onClose != nil {
		onClose(reason)
	}
	return err
}

// OnClose sets a callback invoked once when the connection closes.
func (c *Connection) OnClose(callback func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = callback
}

// Metrics returns the connection's traffic counters.
func (c *Connection) Metrics() (envelopesSent, envelopesReceived, bytesSent, bytesReceived uint64) {
	return atomic.LoadUint64(&c.envelopesSent),
		atomic.LoadUint64(&c.envelopesReceived),
		atomic.LoadUint64(&c.bytesSent),
		atomic.LoadUint64(&c.bytesReceived)
}
