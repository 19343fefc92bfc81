package entity

import (
	"github.com/trailsync/trailsync/pkg/encoding"
)

// Allocator hands out entity ids starting at 1. Released ids are recycled
// LIFO, which keeps allocation deterministic: two replicas performing the
// same add/remove sequence assign the same ids.
type Allocator struct {
	next ID
	free []ID
}

// Acquire returns a fresh id, preferring the most recently released one.
func (a *Allocator) Acquire() ID {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}
	if a.next == Unset {
		a.next = 1
	}
	id := a.next
	a.next++
	return id
}

// Release returns an id to the pool for reuse.
func (a *Allocator) Release(id ID) {
	a.free = append(a.free, id)
}

// Reserve marks a supplied id as taken, advancing the allocator past it so
// later Acquire calls cannot collide. Used when restoring snapshots.
func (a *Allocator) Reserve(id ID) {
	if a.next == Unset {
		a.next = 1
	}
	if id >= a.next {
		a.next = id + 1
	}
	for i, f := range a.free {
		if f == id {
			a.free = append(a.free[:i], a.free[i+1:]...)
			break
		}
	}
}

// Clone returns an independent copy.
func (a *Allocator) Clone() Allocator {
	free := make([]ID, len(a.free))
	copy(free, a.free)
	return Allocator{next: a.next, free: free}
}

// EncodeTo writes the allocator state in canonical form.
func (a *Allocator) EncodeTo(w *encoding.Writer) {
	w.WriteUvarint(uint64(a.next))
	w.WriteUvarint(uint64(len(a.free)))
	for _, id := range a.free {
		w.WriteUvarint(uint64(id))
	}
}

// DecodeFrom restores allocator state written by EncodeTo.
func (a *Allocator) DecodeFrom(r *encoding.Reader) error {
	next, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	count, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	free := make([]ID, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := r.ReadUvarint()
		if err != nil {
			return err
		}
		free = append(free, ID(id))
	}
	a.next = ID(next)
	a.free = free
	return nil
}
