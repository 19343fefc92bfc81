package entity

import (
	"reflect"
	"testing"

	"github.com/trailsync/trailsync/pkg/encoding"
)

// counter is the test component: steppable, hashable, serializable.
type counter struct {
	Ticks int64
}

var counterType = Register("entity_test.counter", func() Component { return &counter{} })

func (c *counter) TypeID() TypeID   { return counterType }
func (c *counter) Clone() Component { cp := *c; return &cp }
func (c *counter) Step(frame int64) { c.Ticks++ }
func (c *counter) HashInto(w *encoding.Writer) {
	w.WriteVarint(c.Ticks)
}
func (c *counter) EncodeTo(w *encoding.Writer) {
	w.WriteVarint(c.Ticks)
}
func (c *counter) DecodeFrom(r *encoding.Reader) error {
	v, err := r.ReadVarint()
	if err != nil {
		return err
	}
	c.Ticks = v
	return nil
}

// ghost is presentational: not hashable, not serializable.
type ghost struct {
	Alpha float64
}

var ghostType = Register("entity_test.ghost", func() Component { return &ghost{} })

func (g *ghost) TypeID() TypeID   { return ghostType }
func (g *ghost) Clone() Component { cp := *g; return &cp }

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore()
	e := New(&counter{})

	id, err := s.Add(e)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == Unset || e.ID() != id {
		t.Fatalf("expected assigned id, got %d (entity %d)", id, e.ID())
	}

	got, ok := s.Get(id)
	if !ok || got != e {
		t.Fatalf("Get(%d) = %v, %v", id, got, ok)
	}

	removed := s.Remove(id)
	if removed != e {
		t.Fatalf("Remove returned %v", removed)
	}
	if removed.ID() != Unset {
		t.Fatalf("removed entity keeps id %d", removed.ID())
	}
	if _, ok = s.Get(id); ok {
		t.Fatal("entity still present after Remove")
	}
}

func TestStoreRemoveAbsentIsNoop(t *testing.T) {
	s := NewStore()
	if got := s.Remove(42); got != nil {
		t.Fatalf("Remove(absent) = %v, want nil", got)
	}
	// And again, to make sure it stays idempotent.
	if got := s.Remove(42); got != nil {
		t.Fatalf("second Remove(absent) = %v, want nil", got)
	}
}

func TestStoreDoubleAddRejected(t *testing.T) {
	s1 := NewStore()
	s2 := NewStore()
	e := New(&counter{})

	if _, err := s1.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s2.Add(e); err != ErrAlreadyAttached {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestIDReuseSafety(t *testing.T) {
	s := NewStore()
	a, _ := s.Add(New(&counter{}))
	b, _ := s.Add(New(&counter{}))

	s.Remove(a)
	c, _ := s.Add(New(&counter{}))
	d, _ := s.Add(New(&counter{}))

	if c == d {
		t.Fatalf("new entities share id %d", c)
	}
	if c == b || d == b {
		t.Fatalf("new id collides with live entity: b=%d c=%d d=%d", b, c, d)
	}
}

func TestStoreCloneIndependence(t *testing.T) {
	s := NewStore()
	id, _ := s.Add(New(&counter{Ticks: 5}))

	c := s.Clone()

	// Mutating the clone must not leak into the original.
	ce, _ := c.Get(id)
	comp, _ := ce.Component(counterType)
	comp.(*counter).Ticks = 99
	c.Remove(id)

	oe, ok := s.Get(id)
	if !ok {
		t.Fatal("original lost entity after clone mutation")
	}
	oc, _ := oe.Component(counterType)
	if oc.(*counter).Ticks != 5 {
		t.Fatalf("original component mutated: %d", oc.(*counter).Ticks)
	}

	// Both forks keep allocating without colliding against their own state.
	n1, _ := s.Add(New(&counter{}))
	n2, _ := c.Add(New(&counter{}))
	if n1 == id || n1 == Unset || n2 == Unset {
		t.Fatalf("fork allocation broken: n1=%d n2=%d", n1, n2)
	}
}

func TestStoreDeterministicIteration(t *testing.T) {
	s := NewStore()
	var ids []ID
	for i := 0; i < 16; i++ {
		id, _ := s.Add(New(&counter{Ticks: int64(i)}))
		ids = append(ids, id)
	}

	var first, second []ID
	s.Each(func(e *Entity) { first = append(first, e.ID()) })
	s.Each(func(e *Entity) { second = append(second, e.ID()) })

	if !reflect.DeepEqual(first, second) {
		t.Fatal("iteration order unstable")
	}
	for i := 1; i < len(first); i++ {
		if first[i-1] >= first[i] {
			t.Fatalf("iteration not ascending: %v", first)
		}
	}
	_ = ids
}

func TestStorePerTypeIndex(t *testing.T) {
	s := NewStore()
	s.Add(New(&counter{}))
	withGhost := New(&counter{}, &ghost{})
	gid, _ := s.Add(withGhost)

	var seen []ID
	s.EachWith(ghostType, func(e *Entity) { seen = append(seen, e.ID()) })
	if len(seen) != 1 || seen[0] != gid {
		t.Fatalf("EachWith(ghost) = %v, want [%d]", seen, gid)
	}

	s.Remove(gid)
	seen = nil
	s.EachWith(ghostType, func(e *Entity) { seen = append(seen, e.ID()) })
	if len(seen) != 0 {
		t.Fatalf("index not cleaned after Remove: %v", seen)
	}
}

func TestStoreStepAll(t *testing.T) {
	s := NewStore()
	id, _ := s.Add(New(&counter{}))

	s.StepAll(1)
	s.StepAll(2)

	e, _ := s.Get(id)
	c, _ := e.Component(counterType)
	if c.(*counter).Ticks != 2 {
		t.Fatalf("Ticks = %d, want 2", c.(*counter).Ticks)
	}
}

func TestStoreStepAllParallelMatchesSequential(t *testing.T) {
	build := func() *Store {
		s := NewStore()
		for i := 0; i < 32; i++ {
			s.Add(New(&counter{Ticks: int64(i)}))
		}
		return s
	}

	seq := build()
	par := build()
	for f := int64(1); f <= 8; f++ {
		seq.StepAll(f)
		par.StepAllParallel(f, 4)
	}

	ws, wp := encoding.NewWriter(), encoding.NewWriter()
	seq.HashInto(ws)
	par.HashInto(wp)
	if string(ws.Bytes()) != string(wp.Bytes()) {
		t.Fatal("parallel stepping diverged from sequential")
	}
}

func TestStoreEncodeDecodeRoundTrip(t *testing.T) {
	s := NewStore()
	a, _ := s.Add(New(&counter{Ticks: 3}, &ghost{Alpha: 0.5}))
	b, _ := s.Add(New(&counter{Ticks: 7}))
	s.Remove(a) // leave a hole in the allocator

	w := encoding.NewWriter()
	s.EncodeTo(w)

	restored, err := DecodeStore(encoding.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("DecodeStore: %v", err)
	}
	if restored.Len() != 1 {
		t.Fatalf("restored %d entities, want 1", restored.Len())
	}
	e, ok := restored.Get(b)
	if !ok {
		t.Fatalf("entity %d missing after restore", b)
	}
	c, _ := e.Component(counterType)
	if c.(*counter).Ticks != 7 {
		t.Fatalf("Ticks = %d, want 7", c.(*counter).Ticks)
	}

	// The restored allocator must continue the same id sequence as the
	// original, including the recycled hole.
	origNext, _ := s.Add(New(&counter{}))
	restNext, _ := restored.Add(New(&counter{}))
	if origNext != restNext {
		t.Fatalf("allocators diverged after restore: %d vs %d", origNext, restNext)
	}
}

func TestEntityDetachReordersIndex(t *testing.T) {
	e := New(&counter{}, &ghost{})
	if _, ok := e.Detach(counterType); !ok {
		t.Fatal("Detach(counter) failed")
	}
	if _, ok := e.Component(ghostType); !ok {
		t.Fatal("ghost lost after detaching counter")
	}
	if err := e.Attach(&counter{}); err != nil {
		t.Fatalf("re-Attach: %v", err)
	}
}
