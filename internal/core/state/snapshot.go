package state

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/pkg/encoding"
)

// snapshotMagic guards against feeding arbitrary bytes into Depacketize.
const snapshotMagic uint32 = 0x54535331 // "TSS1"

// Hash folds the semantically relevant simulation state into a digest:
// the frame, then every entity ascending by id with its hashable
// components in attach order. Presentational components never contribute,
// so client-only caches cannot cause false desyncs.
func (s *State) Hash() uint64 {
	w := encoding.NewWriter()
	w.WriteVarint(int64(s.frame))
	s.store.HashInto(w)
	return xxhash.Sum64(w.Bytes())
}

// Packetize serializes the state for full snapshot transfer: frame, seed,
// generator position, the entity store, and only the commands still in the
// snapshot's future.
func (s *State) Packetize() []byte {
	w := encoding.NewWriter()
	w.WriteUint32(snapshotMagic)
	w.WriteVarint(int64(s.frame))
	w.WriteUint64(s.seed)
	w.WriteUint64(s.rng.state())
	s.store.EncodeTo(w)
	s.queue.EncodeTo(w, s.frame)
	return w.Bytes()
}

// Depacketize reconstructs a state from Packetize output. Structural
// failures surface as SnapshotCorruptError; the returned state is nil in
// that case and the caller should request a fresh snapshot.
func Depacketize(data []byte, dispatch Handler, opts ...Option) (*State, error) {
	r := encoding.NewReader(data)

	magic, err := r.ReadUint32()
	if err != nil || magic != snapshotMagic {
		if err == nil {
			err = errors.Errorf("bad magic %#x", magic)
		}
		return nil, &SnapshotCorruptError{Cause: err}
	}
	frame, err := r.ReadVarint()
	if err != nil {
		return nil, &SnapshotCorruptError{Cause: err}
	}
	seed, err := r.ReadUint64()
	if err != nil {
		return nil, &SnapshotCorruptError{Cause: err}
	}
	rngState, err := r.ReadUint64()
	if err != nil {
		return nil, &SnapshotCorruptError{Cause: err}
	}
	store, err := entity.DecodeStore(r)
	if err != nil {
		return nil, &SnapshotCorruptError{Cause: err}
	}
	queue, err := command.DecodeQueue(r, command.Frame(frame))
	if err != nil {
		return nil, &SnapshotCorruptError{Cause: err}
	}

	s := New(dispatch, opts...)
	s.frame = command.Frame(frame)
	s.seed = seed
	s.rng.restore(rngState)
	s.store = store
	s.queue = queue
	return s, nil
}

// Unpack rebuilds a sibling state from snapshot bytes, inheriting this
// state's dispatch handler and stepping configuration. Used by the
// synchronizer to apply resync snapshots without re-threading the domain
// wiring.
func (s *State) Unpack(data []byte) (*State, error) {
	return Depacketize(data, s.dispatch, WithParallelStep(s.workers))
}
