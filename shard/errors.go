package shard

import "errors"

// ErrShutdown is returned when an operation is attempted on a Cache that
// has been shut down (or is observably equivalent to one: find/remove see
// nothing, insert is rejected).
var ErrShutdown = errors.New("shard: cache is shut down")

// ErrOverCapacity is returned by Insert when admitting the value would
// push Metadata.usage past hardUsageLimit.
var ErrOverCapacity = errors.New("shard: insert would exceed hard usage limit")

// ErrBucketBusy is returned when a bucket's spin lock could not be
// acquired within the configured retry budget. Callers should treat this
// as transient: retry, or for reads, treat it as a miss.
var ErrBucketBusy = errors.New("shard: bucket lock retry budget exceeded")

// ErrNotFound is returned by Remove when no matching slot exists.
var ErrNotFound = errors.New("shard: no matching entry")

// ErrBanished is returned by Insert, transactional variant only, when the
// fingerprint was banished earlier in the bucket's current term.
var ErrBanished = errors.New("shard: fingerprint is banished for this term")

// ErrUnsupported is returned by Banish on a variant whose policy does not
// support banishing (the plain variant). AdvanceTerm returns no error; it
// is a no-op there.
var ErrUnsupported = errors.New("shard: operation unsupported by this variant")
