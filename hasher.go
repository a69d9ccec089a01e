package shardmap

import (
	"encoding/binary"
	"fmt"
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// Hasher maps a key to the 64-bit hash used for shard selection. The
// map takes the shard index from the high bits of the result, so an
// implementation must spread entropy across the whole word, not just
// the low bits.
//
// A Hasher must be deterministic for the lifetime of the map: the same
// key always hashes to the same value, and therefore lands in the same
// shard.
type Hasher[K comparable] func(key K) uint64

// DefaultHasher returns the hasher used when Config.Hasher is nil:
// xxhash for string and integer keys, and a per-map seeded maphash
// over the key's fmt representation for every other comparable type.
// The fallback is correct but slow; supply a custom Hasher for hot
// maps with struct keys.
func DefaultHasher[K comparable]() Hasher[K] {
	var zero K
	switch any(zero).(type) {
	case string:
		// K is statically string here, so the pointer cast is a
		// plain reinterpret of the string header.
		return func(key K) uint64 {
			return xxhash.Sum64String(*(*string)(unsafe.Pointer(&key)))
		}
	case int:
		return func(key K) uint64 { return hashWord(uint64(*(*int)(unsafe.Pointer(&key)))) }
	case int8:
		return func(key K) uint64 { return hashWord(uint64(*(*int8)(unsafe.Pointer(&key)))) }
	case int16:
		return func(key K) uint64 { return hashWord(uint64(*(*int16)(unsafe.Pointer(&key)))) }
	case int32:
		return func(key K) uint64 { return hashWord(uint64(*(*int32)(unsafe.Pointer(&key)))) }
	case int64:
		return func(key K) uint64 { return hashWord(uint64(*(*int64)(unsafe.Pointer(&key)))) }
	case uint:
		return func(key K) uint64 { return hashWord(uint64(*(*uint)(unsafe.Pointer(&key)))) }
	case uint8:
		return func(key K) uint64 { return hashWord(uint64(*(*uint8)(unsafe.Pointer(&key)))) }
	case uint16:
		return func(key K) uint64 { return hashWord(uint64(*(*uint16)(unsafe.Pointer(&key)))) }
	case uint32:
		return func(key K) uint64 { return hashWord(uint64(*(*uint32)(unsafe.Pointer(&key)))) }
	case uint64:
		return func(key K) uint64 { return hashWord(*(*uint64)(unsafe.Pointer(&key))) }
	case uintptr:
		return func(key K) uint64 { return hashWord(uint64(*(*uintptr)(unsafe.Pointer(&key)))) }
	default:
		seed := maphash.MakeSeed()
		return func(key K) uint64 {
			var h maphash.Hash
			h.SetSeed(seed)
			h.WriteString(fmt.Sprintf("%v", key))
			return h.Sum64()
		}
	}
}

// XXH3Hasher hashes string keys with xxh3. A drop-in alternative to
// the default for string-keyed maps; it pulls ahead on longer keys.
func XXH3Hasher() Hasher[string] {
	return func(key string) uint64 { return xxh3.HashString(key) }
}

func hashWord(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}
