package shardmap

// Entry is an exclusive view of one key's slot, occupied or vacant.
// It holds the slot's shard write-locked from creation until Release,
// or until OrInsert and friends move the lock to the guard they
// return. Acquire, use and release an Entry within one goroutine:
//
//	e := m.Entry("jobs")
//	defer e.Release()
//	e.AndModify(func(n *int) { *n++ })
//
// The lookup happens once, at creation; every later call reuses the
// slot without touching the hash table again.
type Entry[K comparable, V any] struct {
	_     noCopy
	sh    *shard[K, V]
	key   K
	box   *V // nil while vacant
	state uint8
}

// Entry returns an exclusive handle on the slot for key, blocking
// until the shard lock is available. The slot may be vacant; most of
// the handle's methods work either way.
func (m *Map[K, V]) Entry(key K) *Entry[K, V] {
	sh := m.shardFor(key)
	sh.lock.Lock()
	return &Entry[K, V]{sh: sh, key: key, box: sh.items[key]}
}

// TryEntry is Entry without blocking. It returns (nil, false) if the
// shard lock is busy.
func (m *Map[K, V]) TryEntry(key K) (*Entry[K, V], bool) {
	sh := m.shardFor(key)
	if !sh.lock.TryLock() {
		return nil, false
	}
	return &Entry[K, V]{sh: sh, key: key, box: sh.items[key]}, true
}

// Key returns the key this entry addresses, present or not.
func (e *Entry[K, V]) Key() K {
	e.ensure("Key")
	return e.key
}

// Exists reports whether the slot currently holds a value.
func (e *Entry[K, V]) Exists() bool {
	e.ensure("Exists")
	return e.box != nil
}

// Value returns a copy of the slot's value, if any.
func (e *Entry[K, V]) Value() (V, bool) {
	e.ensure("Value")
	var v V
	if e.box == nil {
		return v, false
	}
	return *e.box, true
}

// AndModify applies fn to the value if the slot is occupied, then
// returns the entry for chaining. A vacant slot is left untouched.
func (e *Entry[K, V]) AndModify(fn func(value *V)) *Entry[K, V] {
	e.ensure("AndModify")
	if e.box != nil {
		fn(e.box)
	}
	return e
}

// Insert stores value in the slot, returning the previous value and
// true if the slot was occupied. The entry stays live and keeps its
// lock.
func (e *Entry[K, V]) Insert(value V) (prev V, replaced bool) {
	e.ensure("Insert")
	if e.box != nil {
		prev, replaced = *e.box, true
		*e.box = value
		return prev, replaced
	}
	box := new(V)
	*box = value
	e.sh.items[e.key] = box
	e.box = box
	return prev, false
}

// Remove empties the slot, returning the value and true if it was
// occupied. The entry stays live, now vacant, and keeps its lock.
func (e *Entry[K, V]) Remove() (V, bool) {
	e.ensure("Remove")
	var v V
	if e.box == nil {
		return v, false
	}
	v = *e.box
	delete(e.sh.items, e.key)
	e.box = nil
	return v, true
}

// OrInsert fills a vacant slot with value, then converts the entry
// into an exclusive guard over the slot. The entry's lock moves to
// the returned guard without being released in between; the entry is
// consumed and its deferred Release, if any, becomes a no-op.
func (e *Entry[K, V]) OrInsert(value V) *RefMut[K, V] {
	e.ensure("OrInsert")
	return e.orInsert(func() V { return value })
}

// OrInsertWith is OrInsert with a lazily computed value. fn runs only
// for a vacant slot, while the shard is held exclusively, so it must
// not touch the map.
func (e *Entry[K, V]) OrInsertWith(fn func() V) *RefMut[K, V] {
	e.ensure("OrInsertWith")
	return e.orInsert(fn)
}

// OrDefault is OrInsert with the zero value.
func (e *Entry[K, V]) OrDefault() *RefMut[K, V] {
	e.ensure("OrDefault")
	return e.orInsert(func() V { var v V; return v })
}

func (e *Entry[K, V]) orInsert(fn func() V) *RefMut[K, V] {
	if e.box == nil {
		box := new(V)
		*box = fn()
		e.sh.items[e.key] = box
		e.box = box
	}
	e.state = guardMoved
	return newRefMut(e.sh, e.key, e.box)
}

// Release unlocks the shard. Releasing an entry whose lock moved to a
// guard is a no-op; a second explicit Release panics.
func (e *Entry[K, V]) Release() {
	switch e.state {
	case guardMoved:
		return
	case guardDone:
		panic("shardmap: Release on released Entry")
	}
	e.state = guardDone
	e.sh.lock.Unlock()
}

func (e *Entry[K, V]) ensure(op string) {
	if e.state != guardLive {
		panic("shardmap: " + op + " on released Entry")
	}
}
