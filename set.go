package shardmap

import "iter"

// Set is a concurrent set of comparable items, a Map with empty
// struct values. It shards and locks exactly like Map.
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet returns an empty set with the default shard count and hasher.
func NewSet[K comparable]() *Set[K] {
	return &Set[K]{m: New[K, struct{}]()}
}

// NewSetWith returns an empty set configured by cfg.
func NewSetWith[K comparable](cfg Config[K]) *Set[K] {
	return &Set[K]{m: NewWith[K, struct{}](cfg)}
}

// Insert adds item and reports whether it was absent.
func (s *Set[K]) Insert(item K) bool {
	_, replaced := s.m.Insert(item, struct{}{})
	return !replaced
}

// Contains reports whether item is in the set.
func (s *Set[K]) Contains(item K) bool {
	return s.m.ContainsKey(item)
}

// Remove deletes item and reports whether it was present.
func (s *Set[K]) Remove(item K) bool {
	_, _, ok := s.m.Remove(item)
	return ok
}

// Len returns the number of items, weakly consistent like Map.Len.
func (s *Set[K]) Len() int {
	return s.m.Len()
}

// IsEmpty reports whether the set held no items at some point during
// the call.
func (s *Set[K]) IsEmpty() bool {
	return s.m.IsEmpty()
}

// Clear removes all items, one shard at a time.
func (s *Set[K]) Clear() {
	s.m.Clear()
}

// Range calls fn for each item until fn returns false, with the same
// consistency and locking caveats as Map.Range.
func (s *Set[K]) Range(fn func(item K) bool) {
	s.m.Range(func(k K, _ struct{}) bool {
		return fn(k)
	})
}

// All returns an iterator over the set for use with a range statement.
func (s *Set[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		s.Range(yield)
	}
}

// Items returns a snapshot of the set, in no particular order.
func (s *Set[K]) Items() []K {
	return s.m.Keys()
}
