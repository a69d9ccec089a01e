// Package store implements the string key-value store behind the
// server commands: values with optional expiry over a sharded
// concurrent map, expired entries dropped lazily on access and in the
// background by a janitor.
package store

import (
	"errors"
	"strconv"
	"time"

	"github.com/valkrau/shardmap"
)

// ErrNotInteger is returned by Incr when the stored value cannot be
// parsed as a base-10 integer.
var ErrNotInteger = errors.New("store: value is not an integer")

const (
	// TTLMissing and TTLNone are the sentinel results of TTL.
	TTLMissing = -2
	TTLNone    = -1
)

type entry struct {
	value    string
	expireAt int64 // unix nanoseconds, 0 = never
}

func (e entry) expired(now int64) bool {
	return e.expireAt > 0 && now >= e.expireAt
}

// Options configures a Store. The zero value gives a store sized by
// GOMAXPROCS with no background janitor.
type Options struct {
	// Shards is passed through to the map; zero keeps its default.
	Shards int

	// Capacity pre-sizes the map.
	Capacity int

	// JanitorInterval is the pause between background expiry sweeps.
	// Zero disables the janitor; expired entries are then dropped
	// only when an access touches them.
	JanitorInterval time.Duration

	// JanitorScanLimit caps how many entries one sweep examines.
	// Zero means DefaultScanLimit.
	JanitorScanLimit int
}

// DefaultScanLimit bounds a janitor pass when Options leaves it unset.
const DefaultScanLimit = 4096

// Store is a string key-value store with per-key expiry. All methods
// are safe for concurrent use. A Store with a janitor must be closed.
type Store struct {
	m    *shardmap.Map[string, entry]
	now  func() time.Time
	done chan struct{}
	idle chan struct{}
}

// New returns a ready Store and starts its janitor if opts asks for
// one.
func New(opts Options) *Store {
	s := &Store{
		m: shardmap.NewWith[string, entry](shardmap.Config[string]{
			Shards:   opts.Shards,
			Capacity: opts.Capacity,
		}),
		now: time.Now,
	}
	if opts.JanitorInterval > 0 {
		limit := opts.JanitorScanLimit
		if limit <= 0 {
			limit = DefaultScanLimit
		}
		s.done = make(chan struct{})
		s.idle = make(chan struct{})
		go s.runJanitor(opts.JanitorInterval, limit)
	}
	return s
}

// Close stops the janitor. It is safe to call on a store without one,
// but not twice.
func (s *Store) Close() {
	if s.done != nil {
		close(s.done)
		<-s.idle
	}
}

// Set stores value under key with no expiry, replacing any previous
// value and its TTL.
func (s *Store) Set(key, value string) {
	s.m.Insert(key, entry{value: value})
}

// SetWithTTL stores value under key, expiring after ttl. A
// non-positive ttl stores without expiry.
func (s *Store) SetWithTTL(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		s.Set(key, value)
		return
	}
	s.m.Insert(key, entry{value: value, expireAt: s.now().Add(ttl).UnixNano()})
}

// Get returns the live value for key. A dead entry found on the way
// is dropped, rechecked under the write lock in case a writer
// replaced it between the two holds.
func (s *Store) Get(key string) (string, bool) {
	now := s.now().UnixNano()
	r, ok := s.m.Get(key)
	if !ok {
		return "", false
	}
	ent := r.Value()
	r.Release()
	if !ent.expired(now) {
		return ent.value, true
	}
	s.dropExpired(key, now)
	return "", false
}

// Exists reports whether key holds a live value.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Incr parses the value at key as an integer, adds one and stores the
// result, keeping any TTL. A missing or expired key counts from zero.
func (s *Store) Incr(key string) (int64, error) {
	now := s.now().UnixNano()
	e := s.m.Entry(key)
	defer e.Release()

	ent, ok := e.Value()
	if ok && ent.expired(now) {
		e.Remove()
		ok = false
	}
	if !ok {
		e.Insert(entry{value: "1"})
		return 1, nil
	}
	n, err := strconv.ParseInt(ent.value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	ent.value = strconv.FormatInt(n, 10)
	e.Insert(ent)
	return n, nil
}

// Expire sets key's TTL, reporting whether the key held a live value.
// A non-positive ttl deletes the key, as an immediate expiry.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	now := s.now()
	e := s.m.Entry(key)
	defer e.Release()

	ent, ok := e.Value()
	if !ok {
		return false
	}
	if ent.expired(now.UnixNano()) {
		e.Remove()
		return false
	}
	if ttl <= 0 {
		e.Remove()
		return true
	}
	ent.expireAt = now.Add(ttl).UnixNano()
	e.Insert(ent)
	return true
}

// TTL returns the remaining lifetime of key in whole seconds, rounded
// up: TTLMissing if the key holds no live value, TTLNone if it never
// expires.
func (s *Store) TTL(key string) int64 {
	now := s.now().UnixNano()
	r, ok := s.m.Get(key)
	if !ok {
		return TTLMissing
	}
	ent := r.Value()
	r.Release()
	if ent.expired(now) {
		s.dropExpired(key, now)
		return TTLMissing
	}
	if ent.expireAt == 0 {
		return TTLNone
	}
	return (ent.expireAt - now + int64(time.Second) - 1) / int64(time.Second)
}

// Delete removes key and reports whether a live value was there.
func (s *Store) Delete(key string) bool {
	now := s.now().UnixNano()
	_, ent, ok := s.m.Remove(key)
	return ok && !ent.expired(now)
}

// Len returns the number of stored entries. Entries past their expiry
// but not yet swept are counted, so the result may overshoot.
func (s *Store) Len() int {
	return s.m.Len()
}

// Clear drops everything.
func (s *Store) Clear() {
	s.m.Clear()
}

// Keys appends all live keys to dst and returns it.
func (s *Store) Keys(dst []string) []string {
	now := s.now().UnixNano()
	s.m.Range(func(k string, e entry) bool {
		if !e.expired(now) {
			dst = append(dst, k)
		}
		return true
	})
	return dst
}

// ShardSizes exposes the underlying map's per-shard entry counts.
func (s *Store) ShardSizes() []int {
	return s.m.ShardSizes()
}

func (s *Store) dropExpired(key string, now int64) {
	s.m.RemoveIf(key, func(_ string, e entry) bool {
		return e.expired(now)
	})
}

// sweep scans up to limit entries and removes the dead ones it saw,
// returning how many it dropped. Map iteration order varies per call,
// so successive bounded sweeps cover different regions.
func (s *Store) sweep(limit int) int {
	now := s.now().UnixNano()
	var dead []string
	scanned := 0
	s.m.Range(func(k string, e entry) bool {
		scanned++
		if e.expired(now) {
			dead = append(dead, k)
		}
		return scanned < limit
	})

	removed := 0
	for _, k := range dead {
		if _, _, ok := s.m.RemoveIf(k, func(_ string, e entry) bool {
			return e.expired(now)
		}); ok {
			removed++
		}
	}
	return removed
}

func (s *Store) runJanitor(interval time.Duration, limit int) {
	defer close(s.idle)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.sweep(limit)
		}
	}
}
