package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/control"
	"github.com/trailsync/trailsync/internal/core/observability/log"
	"github.com/trailsync/trailsync/internal/core/protocol"
	quictransport "github.com/trailsync/trailsync/internal/core/protocol/quic"
	wstransport "github.com/trailsync/trailsync/internal/core/protocol/websocket"
	"github.com/trailsync/trailsync/internal/core/tss"
	"github.com/trailsync/trailsync/pkg/sequence"
)

// inboundEnvelope pairs a received envelope with its session so the
// simulation goroutine can attribute it.
type inboundEnvelope struct {
	session *Session
	env     *protocol.Envelope
}

// snapshotReply is what the simulation goroutine hands to a snapshot
// request.
type snapshotReply struct {
	frame command.Frame
	data  []byte
}

// Server is the authoritative session hub. It owns the synchronizer and
// controller, runs them on a single simulation goroutine, and bridges them
// to WebSocket command sessions plus a QUIC snapshot endpoint.
//
// Every synchronizer mutation happens on the simulation goroutine;
// transport goroutines only feed the inbound channel.
type Server struct {
	cfg    Config
	logger log.Log

	sim  *tss.Synchronizer
	ctrl *control.Controller

	// Session management
	sessions        sync.Map // map[string]*Session
	sessionCount    int64    // atomic
	nextParticipant uint32   // atomic; 0 is the server itself

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	// Simulation goroutine plumbing
	inbound      chan inboundEnvelope
	snapshotReqs chan chan snapshotReply

	// Confirmed digests by frame, pruned to cfg.HashHistory.
	recentHashes *sequence.FrameMap[command.Frame, uint64]

	httpServer   *http.Server
	quicListener *quictransport.Listener

	workerGroup sync.WaitGroup
	stopChan    chan struct{}
}

// NewServer builds a server around a synchronizer.
func NewServer(cfg Config, sim *tss.Synchronizer) (*Server, error) {
	logger := log.New(cfg.LogLevel)

	ctrl, err := control.New(sim, cfg.Engine, nil, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger.With(log.String("component", "server")),
		sim:          sim,
		ctrl:         ctrl,
		inbound:      make(chan inboundEnvelope, 1024),
		snapshotReqs: make(chan chan snapshotReply, 16),
		recentHashes: sequence.NewFrameMap[command.Frame, uint64](),
		stopChan:     make(chan struct{}),
	}

	// The server is the authority; if its own window degrades there is no
	// one to resync from, so this firing means an operator problem.
	sim.OnThresholdExceeded(func(req tss.ResyncRequest) {
		s.logger.Error("authoritative synchronizer degraded",
			log.String("reason", req.Reason.String()),
			log.Int64("frame", int64(req.Frame)))
	})

	s.logger.Info("Server created",
		log.String("listen_addr", cfg.ListenAddr),
		log.String("snapshot_addr", cfg.SnapshotListenAddr),
		log.Int("max_sessions", cfg.MaxSessions))
	return s, nil
}

// Start brings up the listeners and the simulation loop.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("Starting server")

	upgrader := wstransport.NewUpgrader(s.cfg.Transport, protocol.JSONCodec{})
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			s.logger.Error("Failed to upgrade connection", log.Error(err))
			return
		}
		s.register(conn)
	})
	s.httpServer = &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}

	quicListener, err := quictransport.Listen(s.cfg.SnapshotListenAddr, nil, s.cfg.Transport, protocol.JSONCodec{}, s.logger)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}
	s.quicListener = quicListener

	s.workerGroup.Add(3)
	go func() {
		defer s.workerGroup.Done()
		s.simulationLoop()
	}()
	go func() {
		defer s.workerGroup.Done()
		s.acceptSnapshotPeers()
	}()
	go func() {
		defer s.workerGroup.Done()
		s.healthMonitor()
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP listener failed", log.Error(err))
		}
	}()

	s.logger.Info("Server started")
	return nil
}

// Stop shuts the server down and disconnects every session.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")
	close(s.stopChan)

	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
	if s.quicListener != nil {
		_ = s.quicListener.Close()
	}

	s.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok {
			session.deactivate()
			_ = session.Connection.Close()
		}
		return true
	})

	s.workerGroup.Wait()
	s.logger.Info("Server stopped")
	return nil
}

// Close releases the server permanently.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}
	return nil
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	return int(atomic.LoadInt64(&s.sessionCount))
}

// register admits a new connection as a session and starts its reader.
func (s *Server) register(conn protocol.Connection) {
	if int(atomic.LoadInt64(&s.sessionCount)) >= s.cfg.MaxSessions {
		s.logger.Warn("Maximum sessions reached, rejecting connection",
			log.String("remote_addr", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}

	participant := command.ParticipantID(atomic.AddUint32(&s.nextParticipant, 1))
	session := newSession(conn, participant)
	s.sessions.Store(session.ID, session)
	atomic.AddInt64(&s.sessionCount, 1)

	s.logger.Info("Session connected",
		log.String("session_id", session.ID),
		log.Uint32("participant", uint32(participant)),
		log.String("remote_addr", conn.RemoteAddr().String()),
		log.Int64("total_sessions", atomic.LoadInt64(&s.sessionCount)))

	go s.readSession(session)
}

// readSession pumps envelopes from one connection into the simulation
// loop until the connection dies.
func (s *Server) readSession(session *Session) {
	defer func() {
		session.deactivate()
		s.sessions.Delete(session.ID)
		atomic.AddInt64(&s.sessionCount, -1)
		_ = session.Connection.Close()
		s.logger.Info("Session disconnected",
			log.String("session_id", session.ID),
			log.Int64("total_sessions", atomic.LoadInt64(&s.sessionCount)))
	}()

	for session.isActive() {
		env, err := session.Connection.ReceiveEnvelope()
		if err != nil {
			if session.isActive() && atomic.LoadInt32(&s.running) == 1 {
				s.logger.Debug("Receive failed",
					log.String("session_id", session.ID), log.Error(err))
			}
			return
		}
		session.touch()

		select {
		case s.inbound <- inboundEnvelope{session: session, env: env}:
		case <-s.stopChan:
			protocol.ReleaseEnvelope(env)
			return
		}
	}
}

// simulationLoop is the only goroutine that touches the synchronizer.
func (s *Server) simulationLoop() {
	s.logger.Debug("Simulation loop started")
	defer s.logger.Debug("Simulation loop stopped")

	tick := time.NewTicker(s.cfg.TickInterval)
	hashCheck := time.NewTicker(s.cfg.HashCheckInterval)
	pacing := time.NewTicker(s.cfg.SynchronizeInterval)
	defer tick.Stop()
	defer hashCheck.Stop()
	defer pacing.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-tick.C:
			if err := s.ctrl.Tick(); err != nil {
				s.logger.Error("Simulation tick failed", log.Error(err))
			}
		case in := <-s.inbound:
			s.handleEnvelope(in.session, in.env)
			protocol.ReleaseEnvelope(in.env)
		case reply := <-s.snapshotReqs:
			reply <- snapshotReply{frame: s.sim.CurrentFrame(), data: s.sim.Snapshot()}
		case <-hashCheck.C:
			s.broadcastHashCheck()
		case <-pacing.C:
			s.broadcastSynchronize()
		}
	}
}

// handleEnvelope routes one inbound envelope. Runs on the simulation
// goroutine.
func (s *Server) handleEnvelope(session *Session, env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindCommand, protocol.KindStructuralChange:
		s.handleCommand(session, env)
	case protocol.KindSnapshotRequest:
		s.sendSnapshot(session)
	case protocol.KindHashCheck:
		s.handleHashCheck(session, env)
	case protocol.KindSynchronize:
		// Clients do not pace the server.
	default:
		s.logger.Warn("Unexpected envelope kind",
			log.String("session_id", session.ID),
			log.String("kind", env.Kind.String()))
	}
}

// handleCommand confirms a client command and fans it out. The server
// re-stamps the issuer from the session (clients cannot speak for each
// other) and clears the tentative flag: whatever the server applies is by
// definition authoritative.
func (s *Server) handleCommand(session *Session, env *protocol.Envelope) {
	c, err := protocol.DecodeCommand(env)
	if err != nil {
		s.logger.Warn("Undecodable command",
			log.String("session_id", session.ID), log.Error(err))
		return
	}
	c.Issuer = session.Participant
	c.Tentative = false

	// A command behind the confirmed horizon cannot be honored anywhere;
	// re-stamp it to the next leading frame so it still takes effect, at
	// the cost of the issuer's intended timing.
	if c.Frame <= s.sim.ConfirmedFrame() {
		restamped := s.sim.CurrentFrame() + 1
		s.logger.Warn("Command behind confirmed horizon, re-stamping",
			log.String("session_id", session.ID),
			log.Int64("frame", int64(c.Frame)),
			log.Int64("restamped", int64(restamped)))
		c.Frame = restamped
	}

	if err := s.sim.PushCommand(c); err != nil {
		s.logger.Error("Failed to push command",
			log.String("session_id", session.ID),
			log.Int64("frame", int64(c.Frame)), log.Error(err))
		return
	}
	s.broadcast(protocol.CommandEnvelope(c))
}

// handleHashCheck compares a client's confirmed digest with the server's
// record for that frame; on mismatch the client gets an unsolicited
// snapshot.
func (s *Server) handleHashCheck(session *Session, env *protocol.Envelope) {
	h, err := protocol.DecodeHashCheck(env)
	if err != nil {
		s.logger.Warn("Undecodable hash check",
			log.String("session_id", session.ID), log.Error(err))
		return
	}
	recorded, ok := s.recentHashes.Get(command.Frame(h.Frame))
	if !ok || len(recorded) == 0 {
		return // frame too old or not yet recorded; nothing to compare
	}
	expected := recorded[0]
	if expected == h.Digest {
		return
	}
	s.logger.Warn("Desync detected",
		log.String("session_id", session.ID),
		log.Int64("frame", h.Frame),
		log.Uint64("expected", expected),
		log.Uint64("got", h.Digest))
	s.sendSnapshot(session)
}

// sendSnapshot ships the current leading state to one session. Runs on
// the simulation goroutine, so taking the snapshot is safe.
func (s *Server) sendSnapshot(session *Session) {
	env := protocol.SnapshotResponseEnvelope(s.sim.CurrentFrame(), s.sim.Snapshot())
	go func() {
		defer protocol.ReleaseEnvelope(env)
		if err := session.Connection.SendEnvelope(env); err != nil {
			s.logger.Error("Failed to send snapshot",
				log.String("session_id", session.ID), log.Error(err))
		}
	}()
}

// broadcastHashCheck records the confirmed digest and announces it.
func (s *Server) broadcastHashCheck() {
	frame := s.sim.ConfirmedFrame()
	digest := s.sim.ConfirmedHash()
	s.recentHashes.Set(frame, []uint64{digest})
	for s.recentHashes.Len() > s.cfg.HashHistory {
		keys := s.recentHashes.Keys()
		s.recentHashes.Delete(keys[0])
	}

	env, err := protocol.HashCheckEnvelope(frame, digest)
	if err != nil {
		s.logger.Error("Failed to build hash check", log.Error(err))
		return
	}
	s.broadcast(env)
}

// broadcastSynchronize announces the safety-buffered load as the shared
// simulation speed hint.
func (s *Server) broadcastSynchronize() {
	speed := s.ctrl.TargetSpeed()
	if speed <= 0 {
		return
	}
	env, err := protocol.SynchronizeEnvelope(speed)
	if err != nil {
		s.logger.Error("Failed to build synchronize", log.Error(err))
		return
	}
	s.broadcast(env)
}

// broadcast sends an envelope to every active session, then releases it.
func (s *Server) broadcast(env *protocol.Envelope) {
	var targets []*Session
	s.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok && session.isActive() {
			targets = append(targets, session)
		}
		return true
	})

	go func() {
		defer protocol.ReleaseEnvelope(env)
		for _, session := range targets {
			if err := session.Connection.SendEnvelope(env); err != nil {
				s.logger.Debug("Broadcast send failed",
					log.String("session_id", session.ID), log.Error(err))
			}
		}
	}()
}

// acceptSnapshotPeers serves full state transfers over QUIC. Each peer
// sends one SnapshotRequest and gets one SnapshotResponse; the bulky
// payload stays off the command channel.
func (s *Server) acceptSnapshotPeers() {
	s.logger.Debug("Snapshot acceptor started")
	defer s.logger.Debug("Snapshot acceptor stopped")

	for atomic.LoadInt32(&s.running) == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := s.quicListener.Accept(ctx)
		cancel()
		if err != nil {
			if atomic.LoadInt32(&s.running) == 0 {
				return
			}
			continue
		}
		go s.serveSnapshotPeer(conn)
	}
}

func (s *Server) serveSnapshotPeer(conn protocol.Connection) {
	defer func() { _ = conn.Close() }()

	env, err := conn.ReceiveEnvelope()
	if err != nil {
		return
	}
	kind := env.Kind
	protocol.ReleaseEnvelope(env)
	if kind != protocol.KindSnapshotRequest {
		s.logger.Warn("Snapshot peer sent unexpected kind",
			log.String("kind", kind.String()))
		return
	}

	reply := make(chan snapshotReply, 1)
	select {
	case s.snapshotReqs <- reply:
	case <-s.stopChan:
		return
	}

	var snap snapshotReply
	select {
	case snap = <-reply:
	case <-s.stopChan:
		return
	}

	out := protocol.SnapshotResponseEnvelope(snap.frame, snap.data)
	defer protocol.ReleaseEnvelope(out)
	if err := conn.SendEnvelope(out); err != nil {
		s.logger.Error("Failed to send snapshot", log.Error(err))
	}
}

// healthMonitor disconnects sessions that have gone quiet.
func (s *Server) healthMonitor() {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.reapIdleSessions()
		}
	}
}

func (s *Server) reapIdleSessions() {
	now := time.Now().Unix()
	timeout := int64(s.cfg.SessionTimeout.Seconds())

	s.sessions.Range(func(_, value any) bool {
		session, ok := value.(*Session)
		if !ok {
			return true
		}
		if now-atomic.LoadInt64(&session.LastSeen) > timeout {
			s.logger.Info("Disconnecting idle session",
				log.String("session_id", session.ID))
			session.deactivate()
			_ = session.Connection.Close()
		}
		return true
	})
}
