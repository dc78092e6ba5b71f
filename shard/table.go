package shard

import (
	"math"
	"sync/atomic"

	"github.com/memshard/memshard/internal/util"
)

const (
	// MinLogSize is the smallest permitted Table.logSize.
	MinLogSize = 8
	// MaxLogSize is the largest permitted Table.logSize.
	MaxLogSize = 32

	// tableHeaderSize approximates the fixed per-table overhead charged
	// against Metadata.allocatedSize alongside the per-bucket cost.
	tableHeaderSize = 64
)

// BucketClearer frees every value held in a bucket. Supplied by the Cache
// that owns a Table, since only the Cache knows how to release a value
// (decrement its refcount and let it drain).
type BucketClearer func(values []*CachedValue)

// Table is a fixed power-of-two bucket array. A migration in progress
// attaches a second Table as its auxiliary; readers consult both until
// the migration swaps the auxiliary in as primary.
type Table struct {
	logSize        uint8
	slotsPerBucket int
	supportsBanish bool

	buckets []*bucket

	aux atomic.Pointer[Table]

	clearer BucketClearer
}

// NewTable allocates a Table of 2^logSize buckets, each with capacity
// slotsPerBucket. Exposed for the Manager's table pool (AcquireTable),
// which builds fresh tables on a pool miss.
func NewTable(logSize uint8, slotsPerBucket int, supportsBanish bool) *Table {
	return newTable(logSize, slotsPerBucket, supportsBanish)
}

// newTable allocates a Table of 2^logSize buckets, each with capacity
// slotsPerBucket.
func newTable(logSize uint8, slotsPerBucket int, supportsBanish bool) *Table {
	n := uint64(1) << logSize
	t := &Table{
		logSize:        logSize,
		slotsPerBucket: slotsPerBucket,
		supportsBanish: supportsBanish,
		buckets:        make([]*bucket, n),
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket(slotsPerBucket, supportsBanish)
	}
	return t
}

// size returns the number of buckets, 2^logSize.
func (t *Table) size() uint64 { return uint64(1) << t.logSize }

// LogSize returns the table's logSize exponent.
func (t *Table) LogSize() uint8 { return t.logSize }

// SlotsPerBucket returns the table's configured bucket width.
func (t *Table) SlotsPerBucket() int { return t.slotsPerBucket }

// SupportsBanish reports whether this table's buckets carry banish/term
// state, for a Manager's table pool keying reclaimed tables by shape.
func (t *Table) SupportsBanish() bool { return t.supportsBanish }

// MemoryUsage is the exported form of memoryUsage, for callers outside
// this package.
func (t *Table) MemoryUsage() int64 { return t.memoryUsage() }

// memoryUsage estimates the bytes this table occupies: header plus each
// bucket's slot array capacity (occupied or not — the array itself is
// allocated up front).
func (t *Table) memoryUsage() int64 {
	perBucket := int64(t.slotsPerBucket) * 8 // pointer-sized slot entries
	return tableHeaderSize + int64(len(t.buckets))*perBucket
}

// bucketIndex maps a fingerprint to a bucket index using the top logSize
// bits.
func (t *Table) bucketIndex(fp uint32) uint64 {
	if t.logSize == 0 {
		return 0
	}
	return uint64(fp >> (32 - t.logSize))
}

// primaryBucket returns the bucket fp resolves to in this table.
func (t *Table) primaryBucket(fp uint32) *bucket {
	return t.buckets[t.bucketIndex(fp)]
}

// setAuxiliary atomically swaps in newTable as the auxiliary, returning
// whatever was previously attached.
func (t *Table) setAuxiliary(newTable *Table) *Table {
	return t.aux.Swap(newTable)
}

// auxiliary returns the currently attached auxiliary table, or nil.
func (t *Table) auxiliary() *Table { return t.aux.Load() }

// clear drains every bucket via the configured clearer, freeing held
// values. Called once a table is no longer reachable from any Cache.
func (t *Table) clear() {
	for _, b := range t.buckets {
		b.lock.Lock()
		live := make([]*CachedValue, 0, len(b.slots))
		for i, s := range b.slots {
			if s != nil {
				live = append(live, s)
				b.slots[i] = nil
			}
		}
		b.lock.Unlock()
		if len(live) > 0 && t.clearer != nil {
			t.clearer(live)
		}
	}
}

// migrateBucket moves every slot from primary (a bucket of the old table)
// into newTable, selecting the destination bucket by the slot's
// fingerprint under newTable's logSize. It takes primary's lock itself
// and holds it for the whole move, locking each destination bucket inside
// it (primary before auxiliary), so a concurrent Find sees each value in
// one table or the other. Slots that would collide with an
// already-occupied destination slot and find no room are evicted (freed)
// via clearer after the locks are released; migrateBucket reports the
// bytes reclaimed by those evictions so the caller can reconcile
// Metadata.usage. Idempotent per index: a slot already moved (nil in
// primary) is simply skipped.
func (t *Table) migrateBucket(primary *bucket, newTable *Table, clearer BucketClearer) (reclaimed int64) {
	var evicted []*CachedValue
	primary.lock.Lock()
	for i, v := range primary.slots {
		if v == nil {
			continue
		}
		dst := newTable.primaryBucket(v.fp)
		dst.lock.Lock()
		idx := dst.firstEmpty()
		if idx >= 0 {
			dst.slots[idx] = v
		} else {
			evicted = append(evicted, v)
		}
		dst.lock.Unlock()
		primary.slots[i] = nil
	}
	primary.lock.Unlock()
	if len(evicted) > 0 {
		for _, v := range evicted {
			reclaimed += v.Size()
		}
		if clearer != nil {
			clearer(evicted)
		}
	}
	return reclaimed
}

// signalEvictions is a scheduling hint recorded when the eviction-rate
// feedback loop trips; it carries no strict semantics beyond "this table
// was observed to be evicting heavily".
func (t *Table) signalEvictions() {
	// Intentionally a no-op beyond existing: Cache.Insert consumes the
	// shouldMigrate return value from Cache.reportInsert directly (by
	// calling RequestMigrate) rather than anything polling a per-table
	// flag.
}

// targetLogSize derives the smallest power-of-two bucket count able to
// hold expectedElements at the given fill ratio, returned as a logSize
// exponent clamped to [MinLogSize,MaxLogSize].
func targetLogSize(expectedElements int, slotsPerBucket int, fillRatio float64) uint8 {
	if expectedElements <= 0 || slotsPerBucket <= 0 || fillRatio <= 0 {
		return MinLogSize
	}
	numBuckets := uint64(math.Ceil(float64(expectedElements) / (float64(slotsPerBucket) * fillRatio)))
	logSize := util.Log2Ceil(numBuckets)
	if logSize < MinLogSize {
		logSize = MinLogSize
	}
	if logSize > MaxLogSize {
		logSize = MaxLogSize
	}
	return logSize
}
