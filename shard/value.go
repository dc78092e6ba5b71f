package shard

import "sync/atomic"

// valueHeaderSize approximates the fixed overhead of a CachedValue
// allocation (refcount, slice headers, bookkeeping) charged against
// Metadata usage alongside the key and value bytes.
const valueHeaderSize = 48

// CachedValue is an owned, reference-counted payload: a key, a value, and
// a count of outstanding borrowers. It is created once on insert and is
// never mutated in place afterward — an update is a new CachedValue
// replacing the old slot contents.
//
// A value removed from its bucket is "detached" but not necessarily
// freeable: it stays alive until every borrower releases its handle.
type CachedValue struct {
	key   []byte
	val   []byte
	refs  atomic.Int32
	fp    uint32
	seq   uint64 // insertion sequence number, used for oldest-slot eviction
}

// newCachedValue constructs a value with a single implicit reference held
// by the table slot it is about to occupy.
func newCachedValue(fp uint32, key, val []byte, seq uint64) *CachedValue {
	v := &CachedValue{key: key, val: val, fp: fp, seq: seq}
	v.refs.Store(1)
	return v
}

// Size is the number of bytes this value charges against Metadata.usage:
// header overhead plus key and value bytes.
func (v *CachedValue) Size() int64 {
	return int64(valueHeaderSize + len(v.key) + len(v.val))
}

// Key returns the value's key bytes. Safe to call without holding any
// lock once a Handle to the value has been obtained.
func (v *CachedValue) Key() []byte { return v.key }

// Value returns the value's payload bytes.
func (v *CachedValue) Value() []byte { return v.val }

// matches reports whether this value's fingerprint and full key equal
// the given fingerprint and key. Called while the owning bucket's lock is
// held.
func (v *CachedValue) matches(fp uint32, key []byte) bool {
	return v.fp == fp && string(v.key) == string(key)
}

// borrow increments the reference count and returns a Handle. Called
// while the owning bucket's lock is held, before the lock is released to
// the caller of Find.
func (v *CachedValue) borrow() *Handle {
	v.refs.Add(1)
	return &Handle{v: v}
}

// isFreeable reports whether the value has no outstanding references.
func (v *CachedValue) isFreeable() bool { return v.refs.Load() <= 0 }

// release drops one reference. The actual free (in this implementation:
// letting the garbage collector reclaim it) only happens once every
// reference has been dropped, mirroring the original's "freeValue"
// contract.
func (v *CachedValue) release() {
	v.refs.Add(-1)
}

// Handle is a borrowed reference to a CachedValue returned by Cache.Find.
// A Handle must be released exactly once via Release.
type Handle struct {
	v *CachedValue
}

// Key returns the underlying value's key bytes.
func (h *Handle) Key() []byte { return h.v.Key() }

// Value returns the underlying value's payload bytes.
func (h *Handle) Value() []byte { return h.v.Value() }

// Release drops the borrowed reference. Calling Release more than once on
// the same Handle is a programming error.
func (h *Handle) Release() {
	h.v.release()
}
