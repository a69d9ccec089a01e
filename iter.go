package shardmap

import "iter"

// Range calls fn with a copy of each entry until fn returns false.
// One shard is read-locked at a time, so the traversal is weakly
// consistent: every entry present for the whole call is visited, no
// entry is visited twice, and entries written during the call may or
// may not appear.
//
// fn runs with a shard read-locked and therefore must not call write
// operations of the same map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, sh := range m.shards {
		if !rangeShard(sh, fn) {
			return
		}
	}
}

func rangeShard[K comparable, V any](sh *shard[K, V], fn func(K, V) bool) bool {
	sh.lock.RLock()
	defer sh.lock.RUnlock()
	for k, box := range sh.items {
		if !fn(k, *box) {
			return false
		}
	}
	return true
}

// RangeMut is Range with in-place access: fn may write through the
// value pointer. One shard is write-locked at a time, so fn blocks
// all other users of that shard and must not call back into the map
// at all.
func (m *Map[K, V]) RangeMut(fn func(key K, value *V) bool) {
	for _, sh := range m.shards {
		if !rangeShardMut(sh, fn) {
			return
		}
	}
}

func rangeShardMut[K comparable, V any](sh *shard[K, V], fn func(K, *V) bool) bool {
	sh.lock.Lock()
	defer sh.lock.Unlock()
	for k, box := range sh.items {
		if !fn(k, box) {
			return false
		}
	}
	return true
}

// All returns an iterator over the map for use with a range statement.
// It has exactly the semantics and locking caveats of Range.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.Range(yield)
	}
}

// Keys returns a snapshot of the keys, in no particular order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Values returns a snapshot of the values, in no particular order.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, m.Len())
	m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})
	return values
}

// Retain deletes every entry pred rejects. pred may also write through
// the value pointer of the entries it keeps. One shard is write-locked
// at a time.
func (m *Map[K, V]) Retain(pred func(key K, value *V) bool) {
	for _, sh := range m.shards {
		retainShard(sh, pred)
	}
}

func retainShard[K comparable, V any](sh *shard[K, V], pred func(K, *V) bool) {
	sh.lock.Lock()
	defer sh.lock.Unlock()
	for k, box := range sh.items {
		if !pred(k, box) {
			delete(sh.items, k)
		}
	}
}

// AlterAll replaces every value with fn's result, one shard at a time.
func (m *Map[K, V]) AlterAll(fn func(key K, value V) V) {
	for _, sh := range m.shards {
		alterShard(sh, fn)
	}
}

func alterShard[K comparable, V any](sh *shard[K, V], fn func(K, V) V) {
	sh.lock.Lock()
	defer sh.lock.Unlock()
	for k, box := range sh.items {
		*box = fn(k, *box)
	}
}
