// Package rwlock provides a reader/writer lock with an atomic
// write-to-read downgrade, which sync.RWMutex does not offer.
//
// The lock is write-preferring: once a writer is waiting, new readers
// queue behind it. A zero RWLock is ready to use.
package rwlock

import "sync"

// RWLock is a reader/writer mutual exclusion lock. At most one writer
// or any number of readers hold it at a time. It must not be copied
// after first use.
type RWLock struct {
	mu      sync.Mutex
	rWait   *sync.Cond
	wWait   *sync.Cond
	readers int  // active readers
	writer  bool // active writer
	pending int  // writers blocked in Lock
}

// init is called with mu held.
func (l *RWLock) init() {
	if l.rWait == nil {
		l.rWait = sync.NewCond(&l.mu)
		l.wWait = sync.NewCond(&l.mu)
	}
}

// RLock acquires the lock for reading, blocking while a writer holds
// it or is waiting for it.
func (l *RWLock) RLock() {
	l.mu.Lock()
	l.init()
	for l.writer || l.pending > 0 {
		l.rWait.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// TryRLock acquires the lock for reading if it can be done without
// blocking. It reports whether the lock was acquired.
func (l *RWLock) TryRLock() bool {
	l.mu.Lock()
	l.init()
	if l.writer || l.pending > 0 {
		l.mu.Unlock()
		return false
	}
	l.readers++
	l.mu.Unlock()
	return true
}

// RUnlock releases one reader hold. It panics if the lock is not held
// for reading.
func (l *RWLock) RUnlock() {
	l.mu.Lock()
	if l.readers <= 0 {
		l.mu.Unlock()
		panic("rwlock: RUnlock of unlocked RWLock")
	}
	l.init()
	l.readers--
	if l.readers == 0 && l.pending > 0 {
		l.wWait.Signal()
	}
	l.mu.Unlock()
}

// Lock acquires the lock for writing, blocking until all readers and
// any prior writer have released it.
func (l *RWLock) Lock() {
	l.mu.Lock()
	l.init()
	l.pending++
	for l.writer || l.readers > 0 {
		l.wWait.Wait()
	}
	l.pending--
	l.writer = true
	l.mu.Unlock()
}

// TryLock acquires the lock for writing if it can be done without
// blocking. It reports whether the lock was acquired.
func (l *RWLock) TryLock() bool {
	l.mu.Lock()
	l.init()
	if l.writer || l.readers > 0 {
		l.mu.Unlock()
		return false
	}
	l.writer = true
	l.mu.Unlock()
	return true
}

// Unlock releases the write hold. It panics if the lock is not held
// for writing.
func (l *RWLock) Unlock() {
	l.mu.Lock()
	if !l.writer {
		l.mu.Unlock()
		panic("rwlock: Unlock of unlocked RWLock")
	}
	l.init()
	l.writer = false
	if l.pending > 0 {
		l.wWait.Signal()
	} else {
		l.rWait.Broadcast()
	}
	l.mu.Unlock()
}

// Downgrade atomically converts a write hold into a read hold. No
// other writer can acquire the lock between the two states. Waiting
// readers are admitted unless a writer is queued; waiting writers run
// once the read hold is released. It panics if the lock is not held
// for writing.
func (l *RWLock) Downgrade() {
	l.mu.Lock()
	if !l.writer {
		l.mu.Unlock()
		panic("rwlock: Downgrade of unlocked RWLock")
	}
	l.init()
	l.writer = false
	l.readers++
	l.rWait.Broadcast()
	l.mu.Unlock()
}
