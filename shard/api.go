package shard

// PRNG is a thread-safe pseudo-random source, provided by the Manager and
// shared by every Cache it owns. Sampling decisions (windowed stats,
// eviction-rate checks, freeMemory's bucket walk) all draw from a single
// 64-bit value and mask off the bits they need.
type PRNG interface {
	Uint64() uint64
}

// Manager is the set of callbacks a Cache needs from its owning Manager.
// A Cache never reaches for a process-wide singleton; one is injected at
// construction.
type Manager interface {
	// RequestGrow asks permission to run a FreeMemory sweep now. accepted
	// is false if the Manager declines (e.g. a global budget concern);
	// cooldownExpiry is a future monotonic timestamp (Manager's Now()
	// clock) the Cache must wait out before asking again, regardless of
	// whether the request was accepted.
	RequestGrow(c *Cache) (accepted bool, cooldownExpiry int64)

	// RequestMigrate asks permission to rehash to logSize. Same
	// accepted/cooldownExpiry contract as RequestGrow.
	RequestMigrate(c *Cache, logSize uint8) (accepted bool, cooldownExpiry int64)

	// ReclaimTable returns a table no longer in use to the Manager's pool.
	// Cache passes wasPrimary=false on every call, and manager.Manager
	// ignores the flag.
	ReclaimTable(t *Table, wasPrimary bool)

	// ReportHitStat aggregates a single sampled find outcome.
	ReportHitStat(hit bool)

	// SharedPRNG returns the Manager's shared pseudo-random source.
	SharedPRNG() PRNG

	// UnregisterCache removes id from the Manager's shard registry.
	UnregisterCache(id uint64)

	// IdealUpperFillRatio is the target fraction of slots filled
	// (elements / (buckets * slotsPerBucket)) used by SizeHint when
	// deriving a target logSize.
	IdealUpperFillRatio() float64

	// Now returns the Manager's monotonic clock, in the same units as the
	// cooldownExpiry values it returns from RequestGrow/RequestMigrate.
	Now() int64
}
