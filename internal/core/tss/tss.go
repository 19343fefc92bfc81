package tss

import (
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/internal/core/observability/log"
	"github.com/trailsync/trailsync/internal/core/state"
	"github.com/trailsync/trailsync/pkg/encoding"
)

// ResyncReason classifies why the local history can no longer reconstruct
// a correct state.
type ResyncReason uint8

const (
	// ReasonRollbackDepth: a retroactive command predates the most-delayed
	// retained state.
	ReasonRollbackDepth ResyncReason = iota + 1
	// ReasonHashMismatch: a cross-participant digest comparison disagreed.
	ReasonHashMismatch
	// ReasonReplayFailure: a rollback replay failed mid-flight; the
	// instance's states can no longer be trusted.
	ReasonReplayFailure
)

func (r ResyncReason) String() string {
	switch r {
	case ReasonRollbackDepth:
		return "rollback_depth"
	case ReasonHashMismatch:
		return "hash_mismatch"
	case ReasonReplayFailure:
		return "replay_failure"
	default:
		return "unknown"
	}
}

// ResyncRequest is delivered to threshold observers when the synchronizer
// enters the degraded, waiting-for-snapshot condition.
type ResyncRequest struct {
	Reason ResyncReason
	Frame  command.Frame
}

// Observer receives resync requests. Registration replaces a language
// event mechanism; observers run synchronously on the simulation thread.
type Observer func(ResyncRequest)

// Synchronizer maintains an ordered set of simulation states at fixed
// delays behind the leading copy, giving callers a single simulation in
// which the recent past can still change. Index 0 is the leading (most
// speculative) state; the last index is the most-confirmed one, which is
// never rolled back — commands older than it are unrepresentable and
// trigger resync instead.
//
// All methods must be called from the single simulation goroutine; the
// synchronizer has no internal locking.
type Synchronizer struct {
	states    []*state.State
	delays    []command.Frame
	baseFrame command.Frame
	waiting   bool
	seq       uint32
	observers []Observer
	logger    log.Log
}

// New builds a synchronizer around a base state. delays must start at 0
// and increase strictly; one trailing copy is created per delay. The base
// state becomes the leading copy.
func New(base *state.State, delays []command.Frame, logger log.Log) (*Synchronizer, error) {
	if len(delays) == 0 || delays[0] != 0 {
		return nil, ErrInvalidDelays
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			return nil, ErrInvalidDelays
		}
	}
	if logger == nil {
		logger = log.Provide()
	}

	s := &Synchronizer{
		states:    make([]*state.State, len(delays)),
		delays:    append([]command.Frame(nil), delays...),
		baseFrame: base.CurrentFrame(),
		logger:    logger.With(log.String("component", "tss")),
	}
	s.states[0] = base
	for i := 1; i < len(delays); i++ {
		s.states[i] = base.Clone()
	}
	return s, nil
}

// CurrentFrame returns the leading state's frame.
func (s *Synchronizer) CurrentFrame() command.Frame {
	return s.states[0].CurrentFrame()
}

// ConfirmedFrame returns the most-delayed state's frame, the oldest point
// history can still be rewritten past.
func (s *Synchronizer) ConfirmedFrame() command.Frame {
	return s.states[len(s.states)-1].CurrentFrame()
}

// MaxDelay returns the deepest configured delay in frames.
func (s *Synchronizer) MaxDelay() command.Frame {
	return s.delays[len(s.delays)-1]
}

// Hash digests the leading (speculative) state.
func (s *Synchronizer) Hash() uint64 { return s.states[0].Hash() }

// ConfirmedHash digests the most-delayed state. This is the digest worth
// comparing across participants: it reflects only confirmed history.
func (s *Synchronizer) ConfirmedHash() uint64 {
	return s.states[len(s.states)-1].Hash()
}

// Leading exposes the leading state for read-only inspection.
func (s *Synchronizer) Leading() *state.State { return s.states[0] }

// WaitingForSynchronization reports whether the synchronizer is degraded
// and holding for a snapshot.
func (s *Synchronizer) WaitingForSynchronization() bool { return s.waiting }

// OnThresholdExceeded registers an observer for resync requests.
func (s *Synchronizer) OnThresholdExceeded(fn Observer) {
	s.observers = append(s.observers, fn)
}

// PushCommand inserts a command at its target frame, as far toward the
// confirmed end as causality allows, rolling back and replaying every
// less-delayed copy that already passed the frame. Unlike State.Push it
// may target frames in the leading state's past, down to (but excluding)
// the confirmed frame.
func (s *Synchronizer) PushCommand(c command.Command) error {
	if s.waiting {
		return ErrWaitingForSynchronization
	}
	if s.ConfirmedFrame() >= c.Frame {
		err := &RollbackDepthError{Frame: c.Frame, Horizon: s.ConfirmedFrame()}
		s.degrade(ResyncRequest{Reason: ReasonRollbackDepth, Frame: c.Frame})
		return err
	}

	// Most-delayed first: every rebuild clones its next-more-delayed
	// neighbor, which by then already carries the command (queued or
	// applied).
	for i := len(s.states) - 1; i >= 0; i-- {
		st := s.states[i]
		if st.CurrentFrame() < c.Frame {
			if err := st.Push(c); err != nil {
				return errors.Wrapf(err, "queue at delay %d", s.delays[i])
			}
			continue
		}
		rebuilt, err := s.replay(s.states[i+1], st.CurrentFrame())
		if err != nil {
			s.degrade(ResyncRequest{Reason: ReasonReplayFailure, Frame: c.Frame})
			return err
		}
		s.states[i] = rebuilt
	}
	return nil
}

// replay clones src and steps it forward to target.
func (s *Synchronizer) replay(src *state.State, target command.Frame) (*state.State, error) {
	st := src.Clone()
	for st.CurrentFrame() < target {
		if err := st.Update(); err != nil {
			return nil, errors.Wrap(err, "rollback replay")
		}
	}
	return st, nil
}

// Update advances the leading state one frame and keeps every trailing
// copy at its configured distance. A trailing copy created at baseFrame
// holds still until the leading frame is far enough ahead for its delay.
func (s *Synchronizer) Update() error {
	if s.waiting {
		return ErrWaitingForSynchronization
	}
	if err := s.states[0].Update(); err != nil {
		s.degrade(ResyncRequest{Reason: ReasonReplayFailure, Frame: s.states[0].CurrentFrame()})
		return err
	}
	leading := s.states[0].CurrentFrame()
	for i := 1; i < len(s.states); i++ {
		desired := leading - s.delays[i]
		if desired < s.baseFrame {
			desired = s.baseFrame
		}
		for s.states[i].CurrentFrame() < desired {
			if err := s.states[i].Update(); err != nil {
				s.degrade(ResyncRequest{Reason: ReasonReplayFailure, Frame: s.states[i].CurrentFrame()})
				return err
			}
		}
	}
	return nil
}

// RunToFrame advances the leading state (and transitively every trailing
// copy) until it reaches target. A target at or behind the current frame
// is a no-op: retroactive work happens eagerly in PushCommand, so the
// call still leaves every pending rollback resolved.
func (s *Synchronizer) RunToFrame(target command.Frame) error {
	if s.waiting {
		return ErrWaitingForSynchronization
	}
	for s.states[0].CurrentFrame() < target {
		if err := s.Update(); err != nil {
			return err
		}
	}
	return nil
}

// AddEntity schedules a structural join at the given frame and returns
// the replicable command so the caller can broadcast it. The entity is
// encoded detached; each replica's allocator assigns the same id.
func (s *Synchronizer) AddEntity(e *entity.Entity, frame command.Frame) (command.Command, error) {
	w := encoding.NewWriter()
	entity.Encode(w, e)
	c := command.Command{
		Type:    command.TypeEntityAdd,
		Issuer:  command.ServerParticipant,
		Seq:     s.nextSeq(),
		Frame:   frame,
		Payload: w.Bytes(),
	}
	return c, s.PushCommand(c)
}

// RemoveEntity schedules a structural leave at the given frame. Like any
// retroactive command it can force rollback.
func (s *Synchronizer) RemoveEntity(id entity.ID, frame command.Frame) (command.Command, error) {
	w := encoding.NewWriter()
	w.WriteUvarint(uint64(id))
	c := command.Command{
		Type:    command.TypeEntityRemove,
		Issuer:  command.ServerParticipant,
		Seq:     s.nextSeq(),
		Frame:   frame,
		Payload: w.Bytes(),
	}
	return c, s.PushCommand(c)
}

// Snapshot serializes the leading state for full state transfer.
func (s *Synchronizer) Snapshot() []byte { return s.states[0].Packetize() }

// ApplySnapshot replaces every state with the snapshot contents and clears
// the waiting condition. Trailing copies restart at the snapshot frame and
// fall back to their configured delays as the simulation advances.
func (s *Synchronizer) ApplySnapshot(data []byte) error {
	restored, err := s.states[0].Unpack(data)
	if err != nil {
		return err
	}
	s.states[0] = restored
	for i := 1; i < len(s.states); i++ {
		s.states[i] = restored.Clone()
	}
	s.baseFrame = restored.CurrentFrame()
	s.waiting = false
	s.logger.Info("snapshot applied",
		log.Int64("frame", int64(restored.CurrentFrame())),
		log.Uint64("hash", restored.Hash()))
	return nil
}

// Desync marks the instance degraded because of an externally detected
// condition (hash mismatch). Observers fire once; further simulation is
// refused until a snapshot is applied.
func (s *Synchronizer) Desync(reason ResyncReason) {
	s.degrade(ResyncRequest{Reason: reason, Frame: s.CurrentFrame()})
}

func (s *Synchronizer) degrade(req ResyncRequest) {
	if s.waiting {
		return
	}
	s.waiting = true
	s.logger.Warn("synchronization lost",
		log.String("reason", req.Reason.String()),
		log.Int64("frame", int64(req.Frame)))
	for _, fn := range s.observers {
		fn(req)
	}
}

func (s *Synchronizer) nextSeq() uint32 {
	s.seq++
	return s.seq
}
