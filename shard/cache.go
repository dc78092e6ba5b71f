// Package shard implements one independent partition of a cache: a
// fingerprinted hash table of fixed-size buckets, its memory accounting,
// and the orchestration of lookups, inserts, removes, and the structural
// maintenance (grow/migrate/shutdown) a Manager schedules against it.
package shard

import (
	"sync/atomic"

	"github.com/memshard/memshard/internal/spinlock"
	"github.com/memshard/memshard/internal/util"
	"github.com/memshard/memshard/policy"
)

// InsertResult reports the outcome of a successful Insert.
type InsertResult struct {
	// Evicted is true if admitting the new value required evicting a
	// prior occupant of the destination bucket.
	Evicted bool
}

// Cache is one shard: a Table of buckets, its Metadata accounting, and
// the counters and cooldown state that drive requests back to its
// Manager. All exported methods are safe for concurrent use.
type Cache struct {
	id      uint64
	manager Manager

	pol            policy.Policy
	slotsPerBucket int
	variant        Variant

	shutdownFlag atomic.Bool

	taskLock spinlock.SpinLock

	metadata Metadata
	table    atomic.Pointer[Table]

	seq atomic.Uint64

	findHits        util.PaddedAtomicInt64
	findMisses      util.PaddedAtomicInt64
	insertsTotal    util.PaddedAtomicUint64
	insertEvictions util.PaddedAtomicUint64

	migrateRequestTime atomic.Int64
	resizeRequestTime  atomic.Int64

	enableWindowedStats bool
	findStats           *StatBuffer
}

// NewCache constructs a Cache bound to manager, with id assigned by the
// caller (the Manager, at registration) and an initial table sized per
// opt.InitialLogSize. Called once per shard at registration time.
func NewCache(manager Manager, id uint64, opt CacheOptions) *Cache {
	pol := opt.Policy
	logSize := opt.InitialLogSize
	if logSize < MinLogSize {
		logSize = MinLogSize
	}
	t := newTable(logSize, pol.SlotsPerBucket(), pol.SupportsBanish())
	return newCache(manager, id, t, pol, opt)
}

// newCache is the shared construction path for NewCache and tests that
// want to supply a pre-built table directly.
func newCache(manager Manager, id uint64, t *Table, pol policy.Policy, opt CacheOptions) *Cache {
	c := &Cache{
		id:             id,
		manager:        manager,
		pol:            pol,
		slotsPerBucket: pol.SlotsPerBucket(),
	}
	if pol.SupportsBanish() {
		c.variant = VariantTransactional
	} else {
		c.variant = VariantPlain
	}
	t.clearer = c.freeValues
	c.metadata = newMetadata(opt.HardUsageLimit, opt.SoftUsageLimit, t.memoryUsage())
	c.table.Store(t)

	now := manager.Now()
	c.migrateRequestTime.Store(now)
	c.resizeRequestTime.Store(now)

	if opt.EnableWindowedStats {
		if buf, ok := newStatBufferSafe(statBufferCapacity); ok {
			c.findStats = buf
			c.enableWindowedStats = true
		}
	}
	return c
}

// ID is the 64-bit identity the Manager assigned at registration.
func (c *Cache) ID() uint64 { return c.id }

// Variant reports which eviction/admission policy family this shard uses.
func (c *Cache) Variant() Variant { return c.variant }

// SlotsPerBucket reports the bucket width fixed by this shard's policy,
// for a Manager building or pooling tables on its behalf.
func (c *Cache) SlotsPerBucket() int { return c.slotsPerBucket }

// SupportsBanish reports whether this shard's policy admits Banish/
// AdvanceTerm, for a Manager building or pooling tables on its behalf.
func (c *Cache) SupportsBanish() bool { return c.pol.SupportsBanish() }

// CurrentLogSize reports the current table's logSize, or 0 if shut down.
func (c *Cache) CurrentLogSize() uint8 {
	if c.isShutdown() {
		return 0
	}
	return c.currentTable().logSize
}

func (c *Cache) isShutdown() bool { return c.shutdownFlag.Load() }

// currentTable returns the current table via an acquire-load, matching
// the original's atomic shared-pointer read.
func (c *Cache) currentTable() *Table { return c.table.Load() }

// ---------------------------------------------------------------------
// Client API
// ---------------------------------------------------------------------

// Find looks up fingerprint/key, consulting both the primary and (if a
// migration is in flight) auxiliary bucket. On a hit it returns a Handle
// that must be released by the caller.
func (c *Cache) Find(fp uint32, key []byte) (*Handle, error) {
	if c.isShutdown() {
		return nil, ErrShutdown
	}

	t := c.currentTable()
	primary := t.primaryBucket(fp)

	var handle *Handle
	if primary.lock.LockBounded(triesFast) {
		if found := primary.find(fp, key); found != nil {
			handle = found.borrow()
		}
		primary.lock.Unlock()
	}

	if handle == nil {
		if aux := t.auxiliary(); aux != nil {
			ab := aux.primaryBucket(fp)
			if ab.lock.LockBounded(triesFast) {
				if found := ab.find(fp, key); found != nil {
					handle = found.borrow()
				}
				ab.lock.Unlock()
			}
		} else if cur := c.currentTable(); cur != nil && cur != t {
			// A migrate swapped in a new primary and detached the
			// auxiliary after t was loaded: look in the new primary.
			nb := cur.primaryBucket(fp)
			if nb.lock.LockBounded(triesFast) {
				if found := nb.find(fp, key); found != nil {
					handle = found.borrow()
				}
				nb.lock.Unlock()
			}
		}
	}

	c.recordFindStat(handle != nil)

	if handle == nil {
		return nil, ErrNotFound
	}
	return handle, nil
}

// Insert admits fp/key/val into the shard, evicting an occupant of the
// destination bucket if it is full. Writes land in the auxiliary table
// once a migration has begun its write-through phase (i.e. as soon as an
// auxiliary is attached); until swap, reads still consult both tables.
func (c *Cache) Insert(fp uint32, key, val []byte) (InsertResult, error) {
	if c.isShutdown() {
		return InsertResult{}, ErrShutdown
	}

	v := newCachedValue(fp, key, val, c.seq.Add(1))
	if !c.metadata.adjustUsageIfAllowed(v.Size()) {
		return InsertResult{}, ErrOverCapacity
	}

	t := c.currentTable()
	dest := t
	if aux := t.auxiliary(); aux != nil {
		dest = aux
	}
	// A migrate can attach and drain this bucket between the auxiliary
	// check above and the lock below: a write landing in that narrow
	// window can be dropped rather than carried into the new table.
	// Tolerated as a rare, statistically negligible race.
	b := dest.primaryBucket(fp)

	if !b.lock.LockBounded(triesSlow) {
		c.metadata.adjustUsageIfAllowed(-v.Size())
		return InsertResult{}, ErrBucketBusy
	}

	if c.pol.SupportsBanish() && !c.pol.Admit(bucketView{b: b}, fp) {
		b.lock.Unlock()
		c.metadata.adjustUsageIfAllowed(-v.Size())
		return InsertResult{}, ErrBanished
	}

	var displaced []*CachedValue
	if existing := b.removeMatch(fp, key); existing != nil {
		c.metadata.adjustUsageIfAllowed(-existing.Size())
		displaced = append(displaced, existing)
	}

	hadEviction := false
	idx := b.firstEmpty()
	if idx < 0 {
		view := newBucketView(b)
		victim := c.pol.SelectVictim(view)
		physIdx := view.physicalIndex(victim)
		evicted := b.removeAt(physIdx)
		if evicted != nil {
			c.metadata.adjustUsageIfAllowed(-evicted.Size())
			displaced = append(displaced, evicted)
		}
		idx = physIdx
		hadEviction = true
	}
	b.slots[idx] = v
	b.lock.Unlock()

	if len(displaced) > 0 {
		c.freeValues(displaced)
	}

	// taskLock (inside RequestMigrate) is acquired only after every
	// bucket lock here has been released, preserving the structural ->
	// metadata -> bucket locking order from outer callers' point of view.
	if shouldMigrate := c.reportInsert(hadEviction); shouldMigrate {
		target := t.logSize + 1
		if target > MaxLogSize {
			target = MaxLogSize
		}
		c.RequestMigrate(target)
	}

	return InsertResult{Evicted: hadEviction}, nil
}

// Remove deletes the entry matching fp/key, if present, reclaiming its
// bytes and scheduling the value to be freed once its refcount drains.
func (c *Cache) Remove(fp uint32, key []byte) error {
	if c.isShutdown() {
		return ErrShutdown
	}

	t := c.currentTable()
	removed := c.removeFrom(t.primaryBucket(fp), fp, key)
	if removed == nil {
		if aux := t.auxiliary(); aux != nil {
			removed = c.removeFrom(aux.primaryBucket(fp), fp, key)
		}
	}
	if removed == nil {
		return ErrNotFound
	}
	c.metadata.adjustUsageIfAllowed(-removed.Size())
	c.freeValues([]*CachedValue{removed})
	return nil
}

func (c *Cache) removeFrom(b *bucket, fp uint32, key []byte) *CachedValue {
	if !b.lock.LockBounded(triesFast) {
		return nil
	}
	defer b.lock.Unlock()
	return b.removeMatch(fp, key)
}

// Banish rejects fp from re-insertion in its bucket until the next
// AdvanceTerm. Only meaningful for the transactional variant.
func (c *Cache) Banish(fp uint32, key []byte) error {
	if !c.pol.SupportsBanish() {
		return ErrUnsupported
	}
	if c.isShutdown() {
		return ErrShutdown
	}
	t := c.currentTable()
	b := t.primaryBucket(fp)
	if !b.lock.LockBounded(triesSlow) {
		return ErrBucketBusy
	}
	defer b.lock.Unlock()
	c.pol.OnBanish(bucketView{b: b}, fp)
	return nil
}

// AdvanceTerm moves every bucket in the current table to its next term,
// forgiving bans recorded in the term that just ended. Transactional
// variant only; a no-op for plain.
func (c *Cache) AdvanceTerm() {
	if !c.pol.SupportsBanish() {
		return
	}
	t := c.currentTable()
	for _, b := range t.buckets {
		b.lock.Lock()
		c.pol.AdvanceTerm(bucketView{b: b})
		b.lock.Unlock()
	}
}

// SizeHint derives a target logSize from the expected element count and
// the Manager's ideal upper fill ratio, then requests a migrate to it.
func (c *Cache) SizeHint(expectedElements int) {
	if c.isShutdown() {
		return
	}
	fillRatio := c.manager.IdealUpperFillRatio()
	target := targetLogSize(expectedElements, c.slotsPerBucket, fillRatio)
	c.RequestMigrate(target)
}

// Size returns Metadata.allocatedSize, or 0 if shut down.
func (c *Cache) Size() int64 {
	if c.isShutdown() {
		return 0
	}
	size, _ := c.metadata.snapshot()
	return size
}

// Usage returns Metadata.usage, or 0 if shut down.
func (c *Cache) Usage() int64 {
	if c.isShutdown() {
		return 0
	}
	return c.metadata.usageSnapshot()
}

// UsageLimit returns Metadata.softUsageLimit, or 0 if shut down.
func (c *Cache) UsageLimit() int64 {
	if c.isShutdown() {
		return 0
	}
	return c.metadata.usageLimitSnapshot()
}

// SizeAndUsage returns (allocatedSize, usage) together, or (0,0) if shut
// down.
func (c *Cache) SizeAndUsage() (int64, int64) {
	if c.isShutdown() {
		return 0, 0
	}
	return c.metadata.snapshot()
}

// HitRates returns the lifetime and windowed hit rate percentages.
// Either value is reported via its own ok flag since both are undefined
// (no samples yet) in the common "fresh cache" case.
func (c *Cache) HitRates() (lifetime, windowed float64, lifetimeOK, windowedOK bool) {
	hits := c.findHits.Load()
	misses := c.findMisses.Load()
	if hits+misses > 0 {
		lifetime = 100 * float64(hits) / float64(hits+misses)
		lifetimeOK = true
	}
	if c.enableWindowedStats && c.findStats != nil {
		if rate, ok := c.findStats.windowedHitRate(); ok {
			windowed, windowedOK = rate, true
		}
	}
	return
}

// IsResizing reports whether a FreeMemory sweep is in flight.
func (c *Cache) IsResizing() bool {
	if c.isShutdown() {
		return false
	}
	return c.metadata.isResizing()
}

// IsMigrating reports whether a migrate is in flight.
func (c *Cache) IsMigrating() bool {
	if c.isShutdown() {
		return false
	}
	return c.metadata.isMigrating()
}

// CanResize reports whether neither Resizing nor Migrating is set.
func (c *Cache) CanResize() bool {
	if c.isShutdown() {
		return false
	}
	return !c.metadata.isResizingOrMigrating()
}

// Shutdown is idempotent. It marks the shard shut down, waits for any
// in-flight resize/migrate to clear its flag, releases the current table
// (and any auxiliary) back to the Manager, and unregisters from it.
func (c *Cache) Shutdown() {
	c.taskLock.Lock()
	defer c.taskLock.Unlock()

	if c.shutdownFlag.Swap(true) {
		return // already shut down
	}

	for c.metadata.isResizingOrMigrating() {
		c.taskLock.Unlock()
		spinlock.SleepMicros(shutdownPollIntervalMicros)
		c.taskLock.Lock()
	}

	t := c.table.Load()
	if t != nil {
		if extra := t.setAuxiliary(nil); extra != nil {
			extra.clear()
			c.manager.ReclaimTable(extra, false)
		}
		t.clear()
		c.manager.ReclaimTable(t, false)
	}

	c.metadata.changeTable(0)
	c.manager.UnregisterCache(c.id)
	c.table.Store(nil)
}

// ---------------------------------------------------------------------
// Manager-facing API
// ---------------------------------------------------------------------

// FreeMemory sweeps buckets, evicting the oldest occupant of each one
// visited, until Metadata.usage is back at or below softUsageLimit or the
// shard shuts down. Requires the Resizing flag to already be set by the
// caller (the Manager, after RequestGrow was accepted).
func (c *Cache) FreeMemory() bool {
	if c.isShutdown() {
		return false
	}

	if c.metadata.underSoftLimit() {
		return true
	}

	t := c.currentTable()
	n := t.size()
	prng := c.manager.SharedPRNG()
	start := prng.Uint64() % n
	step := prng.Uint64() | 1 // odd step is trivially coprime with n = 2^logSize

	for k := uint64(0); k < n; k++ {
		if c.isShutdown() {
			return false
		}
		idx := (start + k*step) % n
		reclaimed := c.sweepBucket(t.buckets[idx])
		if reclaimed > 0 {
			c.metadata.adjustUsageIfAllowed(-reclaimed)
			if c.metadata.underSoftLimit() {
				return true
			}
		}
	}
	return c.metadata.underSoftLimit()
}

// sweepBucket evicts the oldest occupant of b, if any, returning the
// bytes reclaimed.
func (c *Cache) sweepBucket(b *bucket) int64 {
	if !b.lock.LockBounded(triesFast) {
		return 0
	}
	defer b.lock.Unlock()

	view := newBucketView(b)
	if view.Len() == 0 {
		return 0
	}
	victim := policy.OldestVictim(view)
	evicted := b.removeAt(view.physicalIndex(victim))
	if evicted == nil {
		return 0
	}
	size := evicted.Size()
	c.freeValues([]*CachedValue{evicted})
	return size
}

// Migrate rehashes the shard to newTable. Requires the Migrating flag to
// already be set by the caller. Returns false (without swapping) if
// shutdown intervenes; newTable is then detached and cleared, and is not
// handed to ReclaimTable, so the caller keeps ownership of it.
func (c *Cache) Migrate(newTable *Table) bool {
	defer c.metadata.clearMigrating()

	if c.isShutdown() {
		return false
	}

	newTable.clearer = c.freeValues

	t := c.currentTable()
	prevAux := t.setAuxiliary(newTable)
	if prevAux != nil {
		// Should not happen under this cache's locking order, but never
		// leak a table we just displaced.
		c.manager.ReclaimTable(prevAux, false)
	}

	n := t.size()
	for i := uint64(0); i < n; i++ {
		if c.isShutdown() {
			t.setAuxiliary(nil)
			newTable.clear()
			return false
		}
		if reclaimed := t.migrateBucket(t.buckets[i], newTable, c.freeValues); reclaimed > 0 {
			c.metadata.adjustUsageIfAllowed(-reclaimed)
		}
	}

	c.taskLock.Lock()
	oldTable := c.table.Load()
	c.table.Store(newTable)
	oldTable.setAuxiliary(nil)
	c.taskLock.Unlock()

	c.metadata.changeTable(newTable.memoryUsage())

	oldTable.clear()
	c.manager.ReclaimTable(oldTable, false)
	return true
}

// freeValues releases each value's implicit slot reference, spinning
// until its refcount drains to zero before letting it go. Mirrors the
// original's freeValue contract: a borrowed value is never collected out
// from under an in-flight Handle.
func (c *Cache) freeValues(values []*CachedValue) {
	for _, v := range values {
		v.release()
		for !v.isFreeable() {
			spinlock.Yield()
		}
	}
}

// ---------------------------------------------------------------------
// internals: stats, cooldowns, eviction feedback
// ---------------------------------------------------------------------

func (c *Cache) recordFindStat(hit bool) {
	if c.manager.SharedPRNG().Uint64()&statSamplingMask != 0 {
		return
	}
	if hit {
		c.findHits.Add(1)
		if c.enableWindowedStats && c.findStats != nil {
			c.findStats.insertRecord(statFindHit)
		}
	} else {
		c.findMisses.Add(1)
		if c.enableWindowedStats && c.findStats != nil {
			c.findStats.insertRecord(statFindMiss)
		}
	}
	c.manager.ReportHitStat(hit)
}

// reportInsert updates the eviction-feedback counters and, on a sampled
// check, reports whether the eviction rate has crossed the threshold.
func (c *Cache) reportInsert(hadEviction bool) (shouldMigrate bool) {
	if hadEviction {
		c.insertEvictions.Add(1)
	}
	c.insertsTotal.Add(1)

	if c.manager.SharedPRNG().Uint64()&evictionMask != 0 {
		return false
	}

	total := c.insertsTotal.Load()
	evictions := c.insertEvictions.Load()
	if total > 0 && total > evictions &&
		float64(evictions)/float64(total) > evictionRateThreshold {
		shouldMigrate = true
		c.currentTable().signalEvictions()
	}
	// Load-then-Store(0) is racy with a concurrent Add from another
	// inserter; an increment landing in that window is silently dropped
	// rather than reset atomically. Acceptable: these counters are a
	// sampled, statistical feedback signal, not an exact accounting.
	c.insertEvictions.Store(0)
	c.insertsTotal.Store(0)
	return shouldMigrate
}

// RequestGrow asks the Manager for permission to run a FreeMemory sweep
// now, subject to a cooldown. Cache does not run the sweep itself: an
// accepted request is expected to result in the Manager calling
// TryResize back, synchronously or from its own scheduler.
func (c *Cache) RequestGrow() {
	if c.isShutdown() || c.manager.Now() <= c.resizeRequestTime.Load() {
		return
	}
	if !c.taskLock.LockBounded(triesSlow) {
		return
	}
	defer c.taskLock.Unlock()

	if c.manager.Now() <= c.resizeRequestTime.Load() {
		return
	}
	if c.metadata.isResizingOrMigrating() {
		return
	}
	_, cooldownExpiry := c.manager.RequestGrow(c)
	c.resizeRequestTime.Store(cooldownExpiry)
}

// RequestMigrate asks the Manager for permission to rehash to logSize,
// subject to a cooldown. An accepted request is expected to result in the
// Manager calling TryMigrateTo back from outside this call: RequestMigrate
// holds taskLock while it asks, and Migrate takes taskLock for its swap.
func (c *Cache) RequestMigrate(logSize uint8) {
	if c.isShutdown() || c.manager.Now() <= c.migrateRequestTime.Load() {
		return
	}
	c.taskLock.Lock()
	defer c.taskLock.Unlock()

	if c.manager.Now() <= c.migrateRequestTime.Load() {
		return
	}
	t := c.currentTable()
	if c.metadata.isResizingOrMigrating() || logSize == t.logSize {
		return
	}
	_, cooldownExpiry := c.manager.RequestMigrate(c, logSize)
	c.migrateRequestTime.Store(cooldownExpiry)
}

// TryResize attempts to set the Resizing flag and, on success, runs a
// FreeMemory sweep, clearing the flag on every exit path. Called by the
// Manager once it has decided to honor a RequestGrow.
func (c *Cache) TryResize() bool {
	if !c.metadata.trySetResizing() {
		return false
	}
	defer c.metadata.clearResizing()
	return c.FreeMemory()
}

// TryMigrateTo attempts to set the Migrating flag and, on success, runs
// Migrate against newTable. Called by the Manager once it has decided to
// honor a RequestMigrate; newTable is typically produced by the
// Manager's AcquireTable.
func (c *Cache) TryMigrateTo(newTable *Table) bool {
	if !c.metadata.trySetMigrating() {
		return false
	}
	return c.Migrate(newTable)
}
