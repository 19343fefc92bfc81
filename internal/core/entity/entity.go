package entity

import (
	"github.com/trailsync/trailsync/pkg/encoding"
)

// Entity is an identified bag of components. Component order is the attach
// order and is significant: stepping, hashing and serialization all walk it
// front to back, so two replicas that attach components in the same order
// stay bit-identical.
type Entity struct {
	id         ID
	components []Component
	index      map[TypeID]int
}

// New creates a detached entity holding the given components.
func New(components ...Component) *Entity {
	e := &Entity{index: make(map[TypeID]int, len(components))}
	for _, c := range components {
		_ = e.Attach(c)
	}
	return e
}

// ID returns the entity's id, or Unset while detached.
func (e *Entity) ID() ID { return e.id }

// Attach adds a component. At most one component per type is allowed.
func (e *Entity) Attach(c Component) error {
	t := c.TypeID()
	if _, ok := e.index[t]; ok {
		return ErrComponentExists
	}
	e.index[t] = len(e.components)
	e.components = append(e.components, c)
	return nil
}

// Detach removes and returns the component of the given type.
func (e *Entity) Detach(t TypeID) (Component, bool) {
	i, ok := e.index[t]
	if !ok {
		return nil, false
	}
	c := e.components[i]
	e.components = append(e.components[:i], e.components[i+1:]...)
	delete(e.index, t)
	for tt, ii := range e.index {
		if ii > i {
			e.index[tt] = ii - 1
		}
	}
	return c, true
}

// Component returns the component of the given type.
func (e *Entity) Component(t TypeID) (Component, bool) {
	i, ok := e.index[t]
	if !ok {
		return nil, false
	}
	return e.components[i], true
}

// Has reports whether a component of the given type is attached.
func (e *Entity) Has(t TypeID) bool {
	_, ok := e.index[t]
	return ok
}

// Components returns the attached components in attach order. The slice is
// shared; callers must not mutate it.
func (e *Entity) Components() []Component { return e.components }

// Clone returns a detached deep copy. The copy's id is Unset so it can be
// added to a store; store-internal cloning preserves ids separately.
func (e *Entity) Clone() *Entity {
	c := e.clone()
	c.id = Unset
	return c
}

// clone deep-copies the entity including its id.
func (e *Entity) clone() *Entity {
	out := &Entity{
		id:         e.id,
		components: make([]Component, len(e.components)),
		index:      make(map[TypeID]int, len(e.index)),
	}
	for i, c := range e.components {
		out.components[i] = c.Clone()
	}
	for t, i := range e.index {
		out.index[t] = i
	}
	return out
}

// Step advances every Steppable component exactly one frame, in attach order.
func (e *Entity) Step(frame int64) {
	for _, c := range e.components {
		if s, ok := c.(Steppable); ok {
			s.Step(frame)
		}
	}
}

// HashInto folds the entity id and every Hashable component into w.
func (e *Entity) HashInto(w *encoding.Writer) {
	w.WriteUvarint(uint64(e.id))
	for _, c := range e.components {
		if h, ok := c.(Hashable); ok {
			w.WriteUint32(uint32(c.TypeID()))
			h.HashInto(w)
		}
	}
}

// Encode serializes the entity's id and every serializable component.
// Components that do not implement encoding.BinaryValue (presentational
// state) are skipped; they must be reconstructible locally.
func Encode(w *encoding.Writer, e *Entity) {
	w.WriteUvarint(uint64(e.id))
	n := 0
	for _, c := range e.components {
		if _, ok := c.(encoding.BinaryValue); ok {
			n++
		}
	}
	w.WriteUvarint(uint64(n))
	for _, c := range e.components {
		bv, ok := c.(encoding.BinaryValue)
		if !ok {
			continue
		}
		w.WriteUint32(uint32(c.TypeID()))
		bv.EncodeTo(w)
	}
}

// Decode reads an entity written by Encode. The returned entity is
// detached; the recorded id is returned separately so the caller can
// restore it into a store without violating attachment rules.
func Decode(r *encoding.Reader) (*Entity, ID, error) {
	rawID, err := r.ReadUvarint()
	if err != nil {
		return nil, Unset, err
	}
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, Unset, err
	}
	e := New()
	for i := uint64(0); i < count; i++ {
		rawType, err := r.ReadUint32()
		if err != nil {
			return nil, Unset, err
		}
		c, ok := NewComponent(TypeID(rawType))
		if !ok {
			return nil, Unset, ErrUnknownComponentType
		}
		bv, ok := c.(encoding.BinaryValue)
		if !ok {
			return nil, Unset, ErrUnknownComponentType
		}
		if err = bv.DecodeFrom(r); err != nil {
			return nil, Unset, err
		}
		if err = e.Attach(c); err != nil {
			return nil, Unset, err
		}
	}
	return e, ID(rawID), nil
}
