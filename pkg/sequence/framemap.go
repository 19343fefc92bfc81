package sequence

import (
	"cmp"
	"sort"
)

// FrameMap is an ordered map keyed by a totally ordered key, with stable
// insertion-ordered value lists per key. Iteration always walks keys in
// ascending order, never map order, so two replicas walking the same
// contents see the same sequence.
type FrameMap[K cmp.Ordered, V any] struct {
	entries map[K][]V
	keys    []K // kept sorted ascending
}

func NewFrameMap[K cmp.Ordered, V any]() *FrameMap[K, V] {
	return &FrameMap[K, V]{entries: make(map[K][]V)}
}

// Get returns the value list for key. The returned slice is the live
// backing store; callers must not retain it across mutations.
func (m *FrameMap[K, V]) Get(key K) ([]V, bool) {
	vs, ok := m.entries[key]
	return vs, ok
}

// Append adds a value at the end of key's list, creating the key if needed.
func (m *FrameMap[K, V]) Append(key K, v V) {
	if _, ok := m.entries[key]; !ok {
		m.insertKey(key)
	}
	m.entries[key] = append(m.entries[key], v)
}

// Set replaces key's list wholesale.
func (m *FrameMap[K, V]) Set(key K, vs []V) {
	if _, ok := m.entries[key]; !ok {
		m.insertKey(key)
	}
	m.entries[key] = vs
}

// Delete removes key and returns its list.
func (m *FrameMap[K, V]) Delete(key K) ([]V, bool) {
	vs, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	delete(m.entries, key)
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	return vs, true
}

// Keys returns the keys in ascending order. The slice is a copy.
func (m *FrameMap[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len reports the number of keys.
func (m *FrameMap[K, V]) Len() int { return len(m.keys) }

// Ascend calls fn for every key in ascending order until fn returns false.
func (m *FrameMap[K, V]) Ascend(fn func(key K, vs []V) bool) {
	for _, k := range m.keys {
		if !fn(k, m.entries[k]) {
			return
		}
	}
}

// Clone returns a deep copy of the map structure. Values themselves are
// copied by assignment; deep-copying element contents is the caller's job.
func (m *FrameMap[K, V]) Clone() *FrameMap[K, V] {
	out := &FrameMap[K, V]{
		entries: make(map[K][]V, len(m.entries)),
		keys:    make([]K, len(m.keys)),
	}
	copy(out.keys, m.keys)
	for k, vs := range m.entries {
		cp := make([]V, len(vs))
		copy(cp, vs)
		out.entries[k] = cp
	}
	return out
}

func (m *FrameMap[K, V]) insertKey(key K) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
	m.keys = append(m.keys, key)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = key
}
