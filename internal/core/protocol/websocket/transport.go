package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/protocol"
)

// Upgrader turns inbound HTTP requests into envelope connections.
type Upgrader struct {
	config   protocol.Config
	codec    protocol.Codec
	upgrader websocket.Upgrader
}

// NewUpgrader builds an upgrader. CheckOrigin accepts everything: origin
// policy belongs to the deployment's reverse proxy, not the sync core.
func NewUpgrader(config protocol.Config, codec protocol.Codec) *Upgrader {
	return &Upgrader{
		config: config,
		codec:  codec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// Upgrade performs the websocket handshake and wraps the result.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(protocol.ErrListenFailed, err.Error())
	}
	return NewConnection(conn, u.config, u.codec), nil
}

// Dial connects to a server endpoint (ws:// or wss:// URL).
func Dial(ctx context.Context, url string, config protocol.Config, codec protocol.Codec) (*Connection, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}
	return NewConnection(conn, config, codec), nil
}
