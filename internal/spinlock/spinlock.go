// Package spinlock provides low-level spin locks used to protect
// per-bucket and per-metadata state without parking a goroutine.
//
// Unlike sync.Mutex, these locks never park the calling goroutine on a
// wait queue; on contention they yield and then sleep briefly between
// attempts, and callers either keep retrying or give up after a bounded
// number of attempts, which is the behavior the cache needs on its hot
// read/write paths.
package spinlock

import (
	"runtime"
	"sync/atomic"
	"time"
)

// spin backs off a failed lock attempt. The first few attempts just
// yield the processor; beyond that we sleep briefly to avoid burning
// CPU under heavy contention.
func spin(attempt int) {
	if attempt < 16 {
		runtime.Gosched()
		return
	}
	time.Sleep(time.Microsecond)
}

// SpinLock is a simple mutual-exclusion spin lock backed by a CAS loop.
// Zero value is unlocked.
type SpinLock struct {
	locked atomic.Bool
}

// TryLock attempts to acquire the lock without blocking.
func (l *SpinLock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Lock spins until the lock is acquired.
func (l *SpinLock) Lock() {
	for attempt := 0; !l.TryLock(); attempt++ {
		spin(attempt)
	}
}

// LockBounded attempts to acquire the lock, retrying up to tries times.
// It reports whether the lock was acquired; a false result means the
// caller should treat the bucket as transiently busy.
func (l *SpinLock) LockBounded(tries int) bool {
	for attempt := 0; attempt < tries; attempt++ {
		if l.TryLock() {
			return true
		}
		spin(attempt)
	}
	return false
}

// Unlock releases the lock. Unlocking a lock that is not held is a
// programming error and races with the next locker.
func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}

// RWSpinLock is a readers-writer spin lock. Multiple readers may hold
// the lock concurrently; a writer requires exclusive access.
//
// state == 0 means unlocked, state == -1 means write-locked, and
// state > 0 is the number of active readers.
type RWSpinLock struct {
	state atomic.Int32
}

// Lock acquires the lock exclusively, spinning until no readers or
// writer remain.
func (l *RWSpinLock) Lock() {
	for attempt := 0; ; attempt++ {
		if l.state.CompareAndSwap(0, -1) {
			return
		}
		spin(attempt)
	}
}

// TryLock attempts to acquire the exclusive lock without blocking.
func (l *RWSpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, -1)
}

// Unlock releases an exclusive lock.
func (l *RWSpinLock) Unlock() {
	l.state.Store(0)
}

// RLock acquires a shared (read) lock, spinning while a writer holds it.
func (l *RWSpinLock) RLock() {
	for attempt := 0; ; attempt++ {
		s := l.state.Load()
		if s >= 0 && l.state.CompareAndSwap(s, s+1) {
			return
		}
		spin(attempt)
	}
}

// RUnlock releases a shared (read) lock.
func (l *RWSpinLock) RUnlock() {
	l.state.Add(-1)
}

// Yield gives up the processor for one scheduling quantum. Used by
// callers spinning on a condition that isn't itself one of the locks in
// this package (e.g. waiting for a reference count to drain).
func Yield() {
	runtime.Gosched()
}

// SleepMicros sleeps for the given number of microseconds. Used by
// shutdown-style polling loops that must not hold a lock while waiting.
func SleepMicros(us int) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}
