package server

import (
	"sync/atomic"
	"time"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/protocol"
)

// Session is one connected participant.
type Session struct {
	ID          string
	Participant command.ParticipantID
	Connection  protocol.Connection
	ConnectedAt time.Time
	LastSeen    int64 // atomic unix timestamp
	Active      int32 // atomic bool
}

func newSession(conn protocol.Connection, participant command.ParticipantID) *Session {
	return &Session{
		ID:          conn.ID(),
		Participant: participant,
		Connection:  conn,
		ConnectedAt: time.Now(),
		LastSeen:    time.Now().Unix(),
		Active:      1,
	}
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.LastSeen, time.Now().Unix())
}

func (s *Session) deactivate() {
	atomic.StoreInt32(&s.Active, 0)
}

func (s *Session) isActive() bool {
	return atomic.LoadInt32(&s.Active) == 1
}
