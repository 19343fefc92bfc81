package entity

import (
	"sort"

	"github.com/trailsync/trailsync/pkg/concurrent"
	"github.com/trailsync/trailsync/pkg/encoding"
	"github.com/trailsync/trailsync/pkg/sequence"
)

// Store owns a set of entities keyed by id, with a per-component-type
// index. All iteration is in ascending id order so replicas visit entities
// identically regardless of map layout.
type Store struct {
	alloc    Allocator
	entities map[ID]*Entity
	byType   map[TypeID]map[ID]struct{}
}

func NewStore() *Store {
	return &Store{
		entities: make(map[ID]*Entity),
		byType:   make(map[TypeID]map[ID]struct{}),
	}
}

// Add assigns a fresh id to a detached entity and indexes its components.
func (s *Store) Add(e *Entity) (ID, error) {
	if e.id != Unset {
		return Unset, ErrAlreadyAttached
	}
	id := s.alloc.Acquire()
	e.id = id
	s.entities[id] = e
	s.indexEntity(e)
	return id, nil
}

// Restore attaches a detached entity under a supplied id, advancing the
// allocator past it. Used when applying snapshots and replicated adds.
func (s *Store) Restore(e *Entity, id ID) error {
	if e.id != Unset {
		return ErrAlreadyAttached
	}
	if _, ok := s.entities[id]; ok {
		return ErrIDInUse
	}
	s.alloc.Reserve(id)
	e.id = id
	s.entities[id] = e
	s.indexEntity(e)
	return nil
}

// Remove detaches and returns the entity, releasing its id for reuse.
// Removing an absent id is a no-op and returns nil.
func (s *Store) Remove(id ID) *Entity {
	e, ok := s.entities[id]
	if !ok {
		return nil
	}
	delete(s.entities, id)
	for _, c := range e.components {
		s.unindex(c.TypeID(), id)
	}
	e.id = Unset
	s.alloc.Release(id)
	return e
}

// Get looks up an entity by id.
func (s *Store) Get(id ID) (*Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// Len reports the number of live entities.
func (s *Store) Len() int { return len(s.entities) }

// IDs returns all live ids in ascending order.
func (s *Store) IDs() []ID {
	out := make([]ID, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Each visits every entity in ascending id order.
func (s *Store) Each(fn func(*Entity)) {
	for _, id := range s.IDs() {
		fn(s.entities[id])
	}
}

// EachWith visits entities carrying the given component type, ascending id.
func (s *Store) EachWith(t TypeID, fn func(*Entity)) {
	set, ok := s.byType[t]
	if !ok {
		return
	}
	ids := make([]ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(s.entities[id])
	}
}

// Iter returns a sorted iterator over the live entities.
func (s *Store) Iter() *sequence.Iterator[*Entity] {
	return sequence.FromMap(s.entities).
		Sort(func(a, b *Entity) bool { return a.id < b.id })
}

// StepAll advances every entity exactly one frame, in ascending id order.
func (s *Store) StepAll(frame int64) {
	s.Each(func(e *Entity) { e.Step(frame) })
}

// StepAllParallel advances entities concurrently. Only safe when no
// component reaches across entities during Step; results are identical to
// StepAll in that case because entities do not interact.
func (s *Store) StepAllParallel(frame int64, workers int) {
	if workers <= 1 {
		s.StepAll(frame)
		return
	}
	concurrent.Throttle(s.Iter(), workers, func(e *Entity) {
		e.Step(frame)
	})
}

// Clone produces a fully independent deep copy, allocator state included,
// so both forks keep assigning ids consistently.
func (s *Store) Clone() *Store {
	out := &Store{
		alloc:    s.alloc.Clone(),
		entities: make(map[ID]*Entity, len(s.entities)),
		byType:   make(map[TypeID]map[ID]struct{}, len(s.byType)),
	}
	for id, e := range s.entities {
		out.entities[id] = e.clone()
	}
	for t, set := range s.byType {
		cp := make(map[ID]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		out.byType[t] = cp
	}
	return out
}

// HashInto folds every entity in ascending id order into w.
func (s *Store) HashInto(w *encoding.Writer) {
	w.WriteUvarint(uint64(len(s.entities)))
	s.Each(func(e *Entity) { e.HashInto(w) })
}

// EncodeTo serializes allocator state and every entity in ascending id order.
func (s *Store) EncodeTo(w *encoding.Writer) {
	s.alloc.EncodeTo(w)
	w.WriteUvarint(uint64(len(s.entities)))
	s.Each(func(e *Entity) { Encode(w, e) })
}

// DecodeStore reconstructs a store written by EncodeTo. The restored
// allocator matches the original, so later Add calls cannot collide with
// restored ids.
func DecodeStore(r *encoding.Reader) (*Store, error) {
	s := NewStore()
	if err := s.alloc.DecodeFrom(r); err != nil {
		return nil, err
	}
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		e, id, err := Decode(r)
		if err != nil {
			return nil, err
		}
		// Reserve is already satisfied by the decoded allocator; bypass it
		// to keep the free list exactly as serialized.
		if _, ok := s.entities[id]; ok {
			return nil, ErrIDInUse
		}
		e.id = id
		s.entities[id] = e
		s.indexEntity(e)
	}
	return s, nil
}

func (s *Store) indexEntity(e *Entity) {
	for _, c := range e.components {
		t := c.TypeID()
		if s.byType[t] == nil {
			s.byType[t] = make(map[ID]struct{})
		}
		s.byType[t][e.id] = struct{}{}
	}
}

func (s *Store) unindex(t TypeID, id ID) {
	if set, ok := s.byType[t]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byType, t)
		}
	}
}
