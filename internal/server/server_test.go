package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/internal/core/observability/log"
	"github.com/trailsync/trailsync/internal/core/protocol"
	"github.com/trailsync/trailsync/internal/core/state"
	"github.com/trailsync/trailsync/internal/core/systems/motion"
	"github.com/trailsync/trailsync/internal/core/tss"
)

// fakeConn is an in-memory protocol.Connection recording sent envelopes.
type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []protocol.Envelope

	recv   chan *protocol.Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:     id,
		recv:   make(chan *protocol.Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) SendEnvelope(env *protocol.Envelope) error {
	select {
	case <-f.closed:
		return protocol.ErrConnectionClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *env
	cp.Payload = append([]byte(nil), env.Payload...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeConn) ReceiveEnvelope() (*protocol.Envelope, error) {
	select {
	case env := <-f.recv:
		return env, nil
	case <-f.closed:
		return nil, protocol.ErrConnectionClosed
	}
}

func (f *fakeConn) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) LastActivity() time.Time { return time.Now() }

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
}

func (f *fakeConn) sentEnvelopes() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) waitForKind(t *testing.T, kind protocol.Kind) protocol.Envelope {
	t.Helper()
	var found protocol.Envelope
	require.Eventually(t, func() bool {
		for _, env := range f.sentEnvelopes() {
			if env.Kind == kind {
				found = env
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "no %v envelope sent", kind)
	return found
}

func testServer(t *testing.T) *Server {
	t.Helper()
	base := state.New(motion.Dispatch, state.WithSeed(11))
	_, err := base.Store().Add(entity.New(&motion.Transform{VX: motion.FromUnits(1)}))
	require.NoError(t, err)

	sim, err := tss.New(base, []command.Frame{0, 10}, log.Nop())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	cfg.HashHistory = 3
	cfg.LogLevel = log.LevelError

	srv, err := NewServer(cfg, sim)
	require.NoError(t, err)
	return srv
}

func connect(t *testing.T, srv *Server, id string) (*fakeConn, *Session) {
	t.Helper()
	conn := newFakeConn(id)
	srv.register(conn)
	v, ok := srv.sessions.Load(id)
	require.True(t, ok, "session %s not registered", id)
	sess := v.(*Session)
	t.Cleanup(func() {
		sess.deactivate()
		_ = conn.Close()
	})
	return conn, sess
}

func TestRegisterRespectsMaxSessions(t *testing.T) {
	srv := testServer(t)
	connect(t, srv, "a")
	connect(t, srv, "b")
	require.Equal(t, 2, srv.SessionCount())

	rejected := newFakeConn("c")
	srv.register(rejected)
	require.Equal(t, 2, srv.SessionCount())
	require.True(t, rejected.IsClosed(), "over-limit connection must be closed")
}

func TestHandleCommandConfirmsAndBroadcasts(t *testing.T) {
	srv := testServer(t)
	connA, sessA := connect(t, srv, "a")
	connB, _ := connect(t, srv, "b")

	// The client claims a forged issuer and a tentative flag; both must be
	// overwritten by the session identity.
	c := motion.Move(99, 1, 5, 1, motion.FromUnits(2), 0, true)
	env := protocol.CommandEnvelope(c)
	srv.handleEnvelope(sessA, env)
	protocol.ReleaseEnvelope(env)

	for _, conn := range []*fakeConn{connA, connB} {
		out := conn.waitForKind(t, protocol.KindCommand)
		got, err := protocol.DecodeCommand(&out)
		require.NoError(t, err)
		require.Equal(t, sessA.Participant, got.Issuer)
		require.False(t, got.Tentative)
		require.Equal(t, command.Frame(5), got.Frame)
	}
	require.Equal(t, 1, srv.sim.Leading().Pending())
}

func TestHandleCommandRestampsOldFrames(t *testing.T) {
	srv := testServer(t)
	conn, sess := connect(t, srv, "a")
	require.NoError(t, srv.sim.RunToFrame(30)) // confirmed frame 20

	env := protocol.CommandEnvelope(motion.Move(0, 1, 15, 1, motion.FromUnits(1), 0, false))
	srv.handleEnvelope(sess, env)
	protocol.ReleaseEnvelope(env)

	out := conn.waitForKind(t, protocol.KindCommand)
	got, err := protocol.DecodeCommand(&out)
	require.NoError(t, err)
	require.Equal(t, srv.sim.CurrentFrame()+1, got.Frame,
		"frame behind the confirmed horizon must be re-stamped, not dropped")
}

func TestHashCheckMismatchTriggersSnapshot(t *testing.T) {
	srv := testServer(t)
	conn, sess := connect(t, srv, "a")
	require.NoError(t, srv.sim.RunToFrame(30))
	srv.broadcastHashCheck()

	frame := srv.sim.ConfirmedFrame()
	good, err := protocol.HashCheckEnvelope(frame, srv.sim.ConfirmedHash())
	require.NoError(t, err)
	srv.handleEnvelope(sess, good)
	protocol.ReleaseEnvelope(good)

	bad, err := protocol.HashCheckEnvelope(frame, 0xbad)
	require.NoError(t, err)
	srv.handleEnvelope(sess, bad)
	protocol.ReleaseEnvelope(bad)

	snap := conn.waitForKind(t, protocol.KindSnapshotResponse)
	restored, err := state.Depacketize(snap.Payload, motion.Dispatch)
	require.NoError(t, err)
	require.Equal(t, srv.sim.Hash(), restored.Hash())

	// Only the mismatch earns a snapshot.
	count := 0
	for _, env := range conn.sentEnvelopes() {
		if env.Kind == protocol.KindSnapshotResponse {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestBroadcastHashCheckPrunesHistory(t *testing.T) {
	srv := testServer(t)
	for i := 0; i < 6; i++ {
		require.NoError(t, srv.sim.RunToFrame(srv.sim.CurrentFrame()+5))
		srv.broadcastHashCheck()
	}
	require.LessOrEqual(t, srv.recentHashes.Len(), srv.cfg.HashHistory)
}
