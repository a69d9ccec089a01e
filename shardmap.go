// Package shardmap provides a sharded concurrent map with lock guards.
//
// A Map spreads its entries over a power-of-two number of shards, each
// guarded by its own reader/writer lock. The shard for a key is chosen
// from the high bits of the key's 64-bit hash, so operations on keys
// in different shards never contend.
//
// Unlike sync.Map, reads and writes can hold a position in the map
// open: Get returns a Ref and GetMut returns a RefMut, guards that
// keep the entry's shard locked until released. Guards make
// read-modify-write sequences race-free without a second lookup, at
// the price of a discipline the type system cannot enforce: every
// guard must be released exactly once, usually with defer, and a
// goroutine must not touch the map again while it holds a guard into
// the shard it would touch. The shard locks are not reentrant, so
// breaking that rule deadlocks the goroutine against itself.
//
// Aggregate operations (Len, Range, Clear and friends) lock one shard
// at a time and are therefore weakly consistent: they see every entry
// that existed for the whole call and may or may not see concurrent
// writes. No operation ever observes a half-written entry.
package shardmap

import (
	"math/bits"
	"runtime"
)

// Config carries the optional knobs for NewWith. The zero value
// matches New.
type Config[K comparable] struct {
	// Shards fixes the shard count. It must be a power of two. Zero
	// picks a count derived from GOMAXPROCS.
	Shards int

	// Capacity pre-sizes the shards for roughly this many entries in
	// total.
	Capacity int

	// Hasher overrides DefaultHasher for shard selection.
	Hasher Hasher[K]
}

// Map is a sharded concurrent map from K to V. It must be created
// with New or NewWith. A Map must not be copied after first use.
//
// All methods are safe for concurrent use by multiple goroutines.
type Map[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   Hasher[K]
	shift  uint
}

// New returns an empty map with the default shard count and hasher.
func New[K comparable, V any]() *Map[K, V] {
	return NewWith[K, V](Config[K]{})
}

// NewWith returns an empty map configured by cfg. It panics if
// cfg.Shards is negative or not a power of two.
func NewWith[K comparable, V any](cfg Config[K]) *Map[K, V] {
	n := cfg.Shards
	if n == 0 {
		n = defaultShardCount()
	}
	if n < 0 || n&(n-1) != 0 {
		panic("shardmap: shard count must be a power of two")
	}
	hash := cfg.Hasher
	if hash == nil {
		hash = DefaultHasher[K]()
	}
	m := &Map[K, V]{
		shards: make([]*shard[K, V], n),
		hash:   hash,
		shift:  uint(64 - bits.Len(uint(n-1))),
	}
	for i := range m.shards {
		m.shards[i] = newShard[K, V](cfg.Capacity / n)
	}
	return m
}

func defaultShardCount() int {
	return nextPowerOfTwo(4 * runtime.GOMAXPROCS(0))
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return m.shards[m.hash(key)>>m.shift]
}

// Load returns a copy of the value stored for key. Use Get when the
// entry must stay pinned while you look at it.
func (m *Map[K, V]) Load(key K) (V, bool) {
	sh := m.shardFor(key)
	sh.lock.RLock()
	box, ok := sh.items[key]
	var v V
	if ok {
		v = *box
	}
	sh.lock.RUnlock()
	return v, ok
}

// Get returns a shared guard over the entry for key. While the guard
// is live the entry cannot be removed or replaced. A miss returns
// (nil, false) and holds nothing.
func (m *Map[K, V]) Get(key K) (*Ref[K, V], bool) {
	sh := m.shardFor(key)
	sh.lock.RLock()
	box, ok := sh.items[key]
	if !ok {
		sh.lock.RUnlock()
		return nil, false
	}
	return newRef(sh, key, box), true
}

// TryGet is Get without blocking. The second result reports whether
// the shard lock could be taken at all: (nil, false) means the shard
// was busy, (nil, true) means the lock was free but the key is absent.
func (m *Map[K, V]) TryGet(key K) (*Ref[K, V], bool) {
	sh := m.shardFor(key)
	if !sh.lock.TryRLock() {
		return nil, false
	}
	box, ok := sh.items[key]
	if !ok {
		sh.lock.RUnlock()
		return nil, true
	}
	return newRef(sh, key, box), true
}

// GetMut returns an exclusive guard over the entry for key. While the
// guard is live no other goroutine can touch the shard. A miss
// returns (nil, false) and holds nothing.
func (m *Map[K, V]) GetMut(key K) (*RefMut[K, V], bool) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	box, ok := sh.items[key]
	if !ok {
		sh.lock.Unlock()
		return nil, false
	}
	return newRefMut(sh, key, box), true
}

// TryGetMut is GetMut without blocking, with the same result
// convention as TryGet.
func (m *Map[K, V]) TryGetMut(key K) (*RefMut[K, V], bool) {
	sh := m.shardFor(key)
	if !sh.lock.TryLock() {
		return nil, false
	}
	box, ok := sh.items[key]
	if !ok {
		sh.lock.Unlock()
		return nil, true
	}
	return newRefMut(sh, key, box), true
}

// Insert stores value for key. It returns the previous value and true
// if the key was already present.
func (m *Map[K, V]) Insert(key K, value V) (prev V, replaced bool) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	if box, ok := sh.items[key]; ok {
		prev, replaced = *box, true
		*box = value
	} else {
		box = new(V)
		*box = value
		sh.items[key] = box
	}
	sh.lock.Unlock()
	return prev, replaced
}

// GetOrInsert returns an exclusive guard over the entry for key,
// inserting value first if the key was absent. The second result
// reports whether the key was already present. Exactly one of several
// racing callers inserts; the rest see its value.
func (m *Map[K, V]) GetOrInsert(key K, value V) (*RefMut[K, V], bool) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	box, loaded := sh.items[key]
	if !loaded {
		box = new(V)
		*box = value
		sh.items[key] = box
	}
	return newRefMut(sh, key, box), loaded
}

// GetOrInsertWith is GetOrInsert with a lazily computed value. fn runs
// only on insert, while the shard is held exclusively, so it must not
// touch the map.
func (m *Map[K, V]) GetOrInsertWith(key K, fn func() V) (*RefMut[K, V], bool) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	box, loaded := sh.items[key]
	if !loaded {
		done := false
		defer func() {
			if !done {
				sh.lock.Unlock()
			}
		}()
		box = new(V)
		*box = fn()
		sh.items[key] = box
		done = true
	}
	return newRefMut(sh, key, box), loaded
}

// Remove deletes the entry for key and returns the removed pair.
// Removing an absent key is a no-op, not an error: it returns zero
// values and false.
func (m *Map[K, V]) Remove(key K) (K, V, bool) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	box, ok := sh.items[key]
	if !ok {
		sh.lock.Unlock()
		var zk K
		var zv V
		return zk, zv, false
	}
	v := *box
	delete(sh.items, key)
	sh.lock.Unlock()
	return key, v, true
}

// RemoveIf deletes the entry for key only if pred approves the current
// value, and returns the removed pair. The check and the delete happen
// under one exclusive hold.
func (m *Map[K, V]) RemoveIf(key K, pred func(key K, value V) bool) (K, V, bool) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	defer sh.lock.Unlock()
	box, ok := sh.items[key]
	if !ok || !pred(key, *box) {
		var zk K
		var zv V
		return zk, zv, false
	}
	v := *box
	delete(sh.items, key)
	return key, v, true
}

// Alter replaces the value for key with fn's result if the key is
// present, under one exclusive hold. Absent keys are left absent.
func (m *Map[K, V]) Alter(key K, fn func(key K, value V) V) {
	sh := m.shardFor(key)
	sh.lock.Lock()
	defer sh.lock.Unlock()
	if box, ok := sh.items[key]; ok {
		*box = fn(key, *box)
	}
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) bool {
	sh := m.shardFor(key)
	sh.lock.RLock()
	_, ok := sh.items[key]
	sh.lock.RUnlock()
	return ok
}

// Len returns the number of entries. The count is weakly consistent:
// it sums the shards one at a time.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.lock.RLock()
		n += len(sh.items)
		sh.lock.RUnlock()
	}
	return n
}

// IsEmpty reports whether the map held no entries at some point during
// the call.
func (m *Map[K, V]) IsEmpty() bool {
	for _, sh := range m.shards {
		sh.lock.RLock()
		n := len(sh.items)
		sh.lock.RUnlock()
		if n > 0 {
			return false
		}
	}
	return true
}

// Clear removes all entries, one shard at a time. Writes racing with
// Clear may survive it.
func (m *Map[K, V]) Clear() {
	for _, sh := range m.shards {
		sh.lock.Lock()
		clear(sh.items)
		sh.lock.Unlock()
	}
}

// ShardCount returns the number of shards the map was built with.
func (m *Map[K, V]) ShardCount() int {
	return len(m.shards)
}

// ShardSizes returns the entry count of every shard. Useful for
// eyeballing key distribution.
func (m *Map[K, V]) ShardSizes() []int {
	sizes := make([]int, len(m.shards))
	for i, sh := range m.shards {
		sh.lock.RLock()
		sizes[i] = len(sh.items)
		sh.lock.RUnlock()
	}
	return sizes
}
