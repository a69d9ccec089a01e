package shardmap

// Guard lifecycle. A guard starts live, and either moves its lock to
// another guard (Downgrade, OrInsert) or releases it. Releasing a
// moved guard is a no-op so that a deferred Release stays correct
// after a transfer; releasing twice is a usage error.
const (
	guardLive uint8 = iota
	guardMoved
	guardDone
)

// noCopy makes go vet's copylocks check flag copies of guard values.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Ref is a shared guard over one entry. It keeps the entry's shard
// read-locked: the entry cannot be removed or replaced while the
// guard is live, and other readers of the shard proceed freely.
//
// Release the guard exactly once, promptly, usually with defer. A
// goroutine holding a Ref must not call a write operation of the same
// map for any key that could land in the same shard; the shard lock
// is not reentrant and the goroutine would deadlock against itself.
type Ref[K comparable, V any] struct {
	_     noCopy
	sh    *shard[K, V]
	key   K
	box   *V
	state uint8
}

func newRef[K comparable, V any](sh *shard[K, V], key K, box *V) *Ref[K, V] {
	return &Ref[K, V]{sh: sh, key: key, box: box}
}

// Key returns the entry's key.
func (r *Ref[K, V]) Key() K {
	r.ensure("Key")
	return r.key
}

// Value returns a copy of the entry's value.
func (r *Ref[K, V]) Value() V {
	r.ensure("Value")
	return *r.box
}

// Pair returns the entry's key and a copy of its value.
func (r *Ref[K, V]) Pair() (K, V) {
	r.ensure("Pair")
	return r.key, *r.box
}

// Release drops the guard and releases the shard's read lock. The
// guard must not be used afterwards; a second Release panics.
func (r *Ref[K, V]) Release() {
	r.ensure("Release")
	r.state = guardDone
	r.sh.lock.RUnlock()
}

func (r *Ref[K, V]) ensure(op string) {
	if r.state != guardLive {
		panic("shardmap: " + op + " on released Ref")
	}
}

// RefMut is an exclusive guard over one entry. It keeps the entry's
// shard write-locked: no other goroutine can read or write any key in
// the shard while the guard is live. The same release and reentrancy
// rules as Ref apply.
type RefMut[K comparable, V any] struct {
	_     noCopy
	sh    *shard[K, V]
	key   K
	box   *V
	state uint8
}

func newRefMut[K comparable, V any](sh *shard[K, V], key K, box *V) *RefMut[K, V] {
	return &RefMut[K, V]{sh: sh, key: key, box: box}
}

// Key returns the entry's key.
func (r *RefMut[K, V]) Key() K {
	r.ensure("Key")
	return r.key
}

// Value returns a copy of the entry's value.
func (r *RefMut[K, V]) Value() V {
	r.ensure("Value")
	return *r.box
}

// ValueMut returns a pointer to the entry's value. The pointer is
// valid only while the guard is live; do not keep it past Release.
func (r *RefMut[K, V]) ValueMut() *V {
	r.ensure("ValueMut")
	return r.box
}

// Set replaces the entry's value.
func (r *RefMut[K, V]) Set(value V) {
	r.ensure("Set")
	*r.box = value
}

// Pair returns the entry's key and a copy of its value.
func (r *RefMut[K, V]) Pair() (K, V) {
	r.ensure("Pair")
	return r.key, *r.box
}

// PairMut returns the entry's key and a pointer to its value, with
// the same validity rule as ValueMut.
func (r *RefMut[K, V]) PairMut() (K, *V) {
	r.ensure("PairMut")
	return r.key, r.box
}

// Downgrade atomically converts the guard into a shared one. No
// writer can slip in between: the value read through the returned Ref
// is the value this guard left behind. The RefMut is consumed; its
// deferred Release, if any, becomes a no-op.
func (r *RefMut[K, V]) Downgrade() *Ref[K, V] {
	r.ensure("Downgrade")
	r.state = guardMoved
	r.sh.lock.Downgrade()
	return newRef(r.sh, r.key, r.box)
}

// Release drops the guard and releases the shard's write lock.
// Releasing a guard consumed by Downgrade is a no-op; a second
// explicit Release panics.
func (r *RefMut[K, V]) Release() {
	switch r.state {
	case guardMoved:
		return
	case guardDone:
		panic("shardmap: Release on released RefMut")
	}
	r.state = guardDone
	r.sh.lock.Unlock()
}

func (r *RefMut[K, V]) ensure(op string) {
	if r.state != guardLive {
		panic("shardmap: " + op + " on released RefMut")
	}
}
