package shard

import (
	"github.com/memshard/memshard/internal/spinlock"
	"github.com/memshard/memshard/policy"
)

// bucket is a fixed-capacity group of slots sharing one spin lock. The
// transactional variant additionally tracks a term counter and the set of
// fingerprints banished during the current term.
type bucket struct {
	lock spinlock.SpinLock

	slots []*CachedValue // len == cap == slotsPerBucket; nil entries are empty

	term    uint64
	banned  map[uint32]struct{} // present only when the variant supports banish
}

func newBucket(slotsPerBucket int, supportsBanish bool) *bucket {
	b := &bucket{slots: make([]*CachedValue, slotsPerBucket)}
	if supportsBanish {
		b.banned = make(map[uint32]struct{})
	}
	return b
}

// occupied counts non-nil slots. Called with the bucket lock held.
func (b *bucket) occupied() int {
	n := 0
	for _, s := range b.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// find scans for a slot matching fp/key. Called with the bucket lock held.
func (b *bucket) find(fp uint32, key []byte) *CachedValue {
	for _, s := range b.slots {
		if s != nil && s.matches(fp, key) {
			return s
		}
	}
	return nil
}

// firstEmpty returns the index of the first empty slot, or -1 if full.
// Called with the bucket lock held.
func (b *bucket) firstEmpty() int {
	for i, s := range b.slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// removeAt detaches the slot at index i, returning the value that was
// there (nil if already empty). Called with the bucket lock held.
func (b *bucket) removeAt(i int) *CachedValue {
	v := b.slots[i]
	b.slots[i] = nil
	return v
}

// removeMatch finds and detaches the slot matching fp/key. Called with
// the bucket lock held.
func (b *bucket) removeMatch(fp uint32, key []byte) *CachedValue {
	for i, s := range b.slots {
		if s != nil && s.matches(fp, key) {
			return b.removeAt(i)
		}
	}
	return nil
}

// isBanished reports whether fp was banished during the current term.
// Called with the bucket lock held.
func (b *bucket) isBanished(fp uint32) bool {
	if b.banned == nil {
		return false
	}
	_, ok := b.banned[fp]
	return ok
}

// ban marks fp banished for the remainder of the current term.
func (b *bucket) ban(fp uint32) {
	if b.banned != nil {
		b.banned[fp] = struct{}{}
	}
}

// advanceTerm starts a new term, forgiving every ban recorded in the one
// that just ended.
func (b *bucket) advanceTerm() {
	b.term++
	if b.banned != nil {
		b.banned = make(map[uint32]struct{})
	}
}

// bucketView adapts a locked bucket to policy.BucketView. A policy sees
// only occupied slots, indexed 0..Len()-1 in physical-array order; idx
// translates a view index back to the bucket's physical slot index so the
// caller can act on the policy's decision.
type bucketView struct {
	b   *bucket
	idx []int // physical slot index for each occupied view index
}

func newBucketView(b *bucket) bucketView {
	v := bucketView{b: b}
	for i, s := range b.slots {
		if s != nil {
			v.idx = append(v.idx, i)
		}
	}
	return v
}

func (v bucketView) Len() int { return len(v.idx) }

func (v bucketView) Slot(i int) policy.SlotInfo {
	s := v.b.slots[v.idx[i]]
	return policy.SlotInfo{Fingerprint: s.fp, Seq: s.seq}
}

func (v bucketView) Banished(fp uint32) bool { return v.b.isBanished(fp) }
func (v bucketView) Ban(fp uint32)           { v.b.ban(fp) }
func (v bucketView) AdvanceTerm()            { v.b.advanceTerm() }

// physicalIndex translates a view index (as passed to policy.SelectVictim)
// back to the bucket's physical slot index.
func (v bucketView) physicalIndex(viewIdx int) int { return v.idx[viewIdx] }
