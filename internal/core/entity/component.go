package entity

import (
	"sort"
	"sync"

	"github.com/trailsync/trailsync/pkg/encoding"
)

// ID identifies an entity within a store. The zero value means "detached".
type ID uint64

// Unset is the id of an entity that belongs to no store.
const Unset ID = 0

// TypeID is the process-stable tag of a concrete component type, assigned
// once per type by Register. Replicas must register the same component
// types in the same order, which holds as long as they run the same binary
// or import the registering packages identically.
type TypeID uint32

// Component is the minimal contract every component carries. Everything
// else is optional capability: a component that also implements Steppable
// is advanced each frame, a Hashable one contributes to consistency
// digests, and a BinaryValue one rides in snapshots. Purely presentational
// components implement none of those and stay local to each participant.
type Component interface {
	TypeID() TypeID
	Clone() Component
}

// Steppable components are advanced exactly one deterministic step per
// simulation frame. Step must be a pure function of the component's own
// state and the frame number.
type Steppable interface {
	Step(frame int64)
}

// Hashable components fold their semantically relevant fields into the
// canonical writer feeding the state digest.
type Hashable interface {
	HashInto(w *encoding.Writer)
}

type registryEntry struct {
	name    string
	factory func() Component
}

var (
	registryMu   sync.RWMutex
	registryByID = map[TypeID]registryEntry{}
	registryByNm = map[string]TypeID{}
	registryNext TypeID = 1
)

// Register assigns a TypeID to a concrete component type and records the
// factory used to materialize instances during snapshot decoding.
// Registering the same name twice returns the existing id.
func Register(name string, factory func() Component) TypeID {
	registryMu.Lock()
	defer registryMu.Unlock()
	if id, ok := registryByNm[name]; ok {
		return id
	}
	id := registryNext
	registryNext++
	registryByID[id] = registryEntry{name: name, factory: factory}
	registryByNm[name] = id
	return id
}

// NewComponent materializes an empty component of the given registered type.
func NewComponent(id TypeID) (Component, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registryByID[id]
	if !ok {
		return nil, false
	}
	return e.factory(), true
}

// TypeName reports the registered name for a TypeID, for diagnostics.
func TypeName(id TypeID) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registryByID[id].name
}

// RegisteredTypes returns all known TypeIDs in ascending order.
func RegisteredTypes() []TypeID {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]TypeID, 0, len(registryByID))
	for id := range registryByID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
