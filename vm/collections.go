package vm

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ---------------------------------------------------------------------------
// Map and Set: insertion ordered, SameValueZero keyed
// ---------------------------------------------------------------------------

type mapEntry struct {
	key   Value
	value Value
}

// Map is a keyed collection that remembers insertion order.
type Map struct {
	entries *orderedmap.OrderedMap[any, mapEntry]
}

func (*Map) isValue() {}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{entries: orderedmap.New[any, mapEntry]()}
}

// Get returns the value stored under key.
func (m *Map) Get(key Value) (Value, bool) {
	e, ok := m.entries.Get(keyOf(key))
	if !ok {
		return Undefined, false
	}
	return e.value, true
}

// Has reports whether key is present.
func (m *Map) Has(key Value) bool {
	_, ok := m.entries.Get(keyOf(key))
	return ok
}

// Set stores value under key. Updating an existing key keeps its position.
func (m *Map) Set(key, value Value) {
	k := keyOf(key)
	if e, ok := m.entries.Get(k); ok {
		e.value = value
		m.entries.Set(k, e)
		return
	}
	if n, ok := key.(Number); ok && n == 0 {
		key = Number(0)
	}
	m.entries.Set(k, mapEntry{key: key, value: value})
}

// Delete removes key.
func (m *Map) Delete(key Value) bool {
	_, ok := m.entries.Delete(keyOf(key))
	return ok
}

// Len returns the number of entries.
func (m *Map) Len() int { return m.entries.Len() }

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key, value Value) bool) {
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Value.key, pair.Value.value) {
			return
		}
	}
}

// Set is a collection of unique values that remembers insertion order.
type Set struct {
	members *orderedmap.OrderedMap[any, Value]
}

func (*Set) isValue() {}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{members: orderedmap.New[any, Value]()}
}

// Add inserts v if absent.
func (s *Set) Add(v Value) {
	k := keyOf(v)
	if _, ok := s.members.Get(k); ok {
		return
	}
	if n, ok := v.(Number); ok && n == 0 {
		v = Number(0)
	}
	s.members.Set(k, v)
}

// Has reports whether v is a member.
func (s *Set) Has(v Value) bool {
	_, ok := s.members.Get(keyOf(v))
	return ok
}

// Delete removes v.
func (s *Set) Delete(v Value) bool {
	_, ok := s.members.Delete(keyOf(v))
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int { return s.members.Len() }

// Range calls fn for each member in insertion order until fn returns false.
func (s *Set) Range(fn func(v Value) bool) {
	for pair := s.members.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Value) {
			return
		}
	}
}
