package state

import (
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/pkg/encoding"
)

// Handler applies one domain command to the state. It must be a pure
// function of (state, payload): no wall clock, no unseeded randomness —
// any randomness comes from st.Rand(), which replicates with the state.
type Handler func(st *State, c command.Command) error

// State is one deterministic simulation snapshot: current frame, pending
// command queue and entity store. Advancing it one frame with Update is
// the only way time passes; identical states fed identical commands stay
// bit-identical forever.
type State struct {
	frame    command.Frame
	queue    *command.Queue
	store    *entity.Store
	dispatch Handler
	seed     uint64
	rng      *Rand
	workers  int
}

// Option configures a State at construction time.
type Option func(*State)

// WithSeed seeds the per-state generator. The seed must itself be
// replicated (world seed), otherwise determinism across participants breaks.
func WithSeed(seed uint64) Option {
	return func(s *State) {
		s.seed = seed
		s.rng = NewRand(seed)
	}
}

// WithParallelStep steps entities with the given worker count. Only valid
// when every Steppable component touches nothing outside its own entity.
func WithParallelStep(workers int) Option {
	return func(s *State) { s.workers = workers }
}

// New creates an empty state at frame 0.
func New(dispatch Handler, opts ...Option) *State {
	s := &State{
		queue:    command.NewQueue(),
		store:    entity.NewStore(),
		dispatch: dispatch,
		rng:      NewRand(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentFrame returns the state's logical time.
func (s *State) CurrentFrame() command.Frame { return s.frame }

// Store exposes the entity store. Mutating it outside command handlers
// breaks replica agreement; the accessor exists for bootstrap and tests.
func (s *State) Store() *entity.Store { return s.store }

// Rand returns the state's deterministic generator for use by handlers.
func (s *State) Rand() *Rand { return s.rng }

// Pending reports the number of queued commands.
func (s *State) Pending() int { return s.queue.Len() }

// Push queues a command for a future frame. Targets at or before the
// current frame fail with a PastFrameError: this path cannot rewrite
// history — only the synchronizer can.
func (s *State) Push(c command.Command) error {
	return s.queue.Push(s.frame, c)
}

// Update advances exactly one frame: applies every command due at the new
// frame in canonical order, then steps every entity once. After it
// returns, no command with frame <= CurrentFrame remains pending.
func (s *State) Update() error {
	s.frame++
	for _, c := range s.queue.Take(s.frame) {
		if err := s.apply(c); err != nil {
			return errors.Wrapf(err, "frame %d", s.frame)
		}
	}
	if s.workers > 1 {
		s.store.StepAllParallel(int64(s.frame), s.workers)
	} else {
		s.store.StepAll(int64(s.frame))
	}
	return nil
}

func (s *State) apply(c command.Command) error {
	switch c.Type {
	case command.TypeEntityAdd:
		return s.applyEntityAdd(c)
	case command.TypeEntityRemove:
		return s.applyEntityRemove(c)
	default:
		if s.dispatch == nil {
			return ErrUnknownCommand
		}
		return s.dispatch(s, c)
	}
}

func (s *State) applyEntityAdd(c command.Command) error {
	e, id, err := entity.Decode(encoding.NewReader(c.Payload))
	if err != nil {
		return errors.Wrap(err, "entity add payload")
	}
	if id == entity.Unset {
		// Allocator state is replicated, so every replica assigns the
		// same id here.
		_, err = s.store.Add(e)
		return err
	}
	return s.store.Restore(e, id)
}

func (s *State) applyEntityRemove(c command.Command) error {
	raw, err := encoding.NewReader(c.Payload).ReadUvarint()
	if err != nil {
		return errors.Wrap(err, "entity remove payload")
	}
	s.store.Remove(entity.ID(raw)) // absent id is a no-op
	return nil
}

// Clone produces a deep, independent copy: frame, queue, store, generator
// position. Both forks evolve without sharing any mutable state.
func (s *State) Clone() *State {
	return &State{
		frame:    s.frame,
		queue:    s.queue.Clone(),
		store:    s.store.Clone(),
		dispatch: s.dispatch,
		seed:     s.seed,
		rng:      s.rng.clone(),
		workers:  s.workers,
	}
}
