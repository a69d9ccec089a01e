package shardmap

import "github.com/valkrau/shardmap/internal/rwlock"

// shard is one lock-striped segment of a Map. Values are boxed so that
// write guards can hand out stable pointers; Go forbids taking the
// address of a map element directly.
type shard[K comparable, V any] struct {
	lock  rwlock.RWLock
	items map[K]*V
}

func newShard[K comparable, V any](capacity int) *shard[K, V] {
	return &shard[K, V]{items: make(map[K]*V, capacity)}
}
