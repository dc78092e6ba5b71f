package shard

import "github.com/memshard/memshard/policy"

const (
	// triesFast bounds bucket-lock spin retries on the hot find/remove
	// path.
	triesFast = 64
	// triesSlow bounds bucket-lock spin retries on insert, which does more
	// work per attempt (possible eviction) and can afford to wait longer.
	triesSlow = 256

	// evictionMask samples roughly 1-in-64 inserts for the eviction-rate
	// check: cheap enough to run on every insert without it showing up in
	// profiles.
	evictionMask = 0x3F

	// evictionRateThreshold is the fraction of sampled inserts that must
	// have evicted a prior slot before a migrate is requested.
	evictionRateThreshold = 0.10

	// statSamplingMask samples 1-in-8 find operations into hit/miss
	// counters and the StatBuffer.
	statSamplingMask = 0x7

	// shutdownPollIntervalMicros is how long, in microseconds, Shutdown
	// sleeps between checks that any in-flight resize/migrate has cleared
	// its flag.
	shutdownPollIntervalMicros = 20
)

// Variant names the eviction/admission policy family a Cache was built
// with, as reported by Cache.Variant.
type Variant string

const (
	VariantPlain         Variant = "plain"
	VariantTransactional Variant = "transactional"
)

// CacheOptions configures a single shard. Policy and HardUsageLimit must
// be set by the caller; the Manager's NewCache constructor fills in the
// rest (id, table, Manager reference).
type CacheOptions struct {
	// Policy selects the eviction/admission strategy (plain or
	// transactional) and, through it, slotsPerBucket.
	Policy policy.Policy

	// InitialLogSize sizes the first Table. Defaults to MinLogSize if 0.
	InitialLogSize uint8

	// HardUsageLimit is the byte ceiling insertions may not cross.
	HardUsageLimit int64

	// SoftUsageLimit is the byte target the background sweep reconciles
	// usage down to. Defaults to 0.9 * HardUsageLimit if 0.
	SoftUsageLimit int64

	// EnableWindowedStats turns on the StatBuffer-backed windowed hit
	// rate. If the allocation fails, windowed stats are silently
	// disabled rather than causing construction to fail.
	EnableWindowedStats bool
}
