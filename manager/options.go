package manager

import "time"

// Metrics exposes Manager-level observability hooks. A NoopMetrics
// implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	GrowAccepted(shardID uint64)
	GrowRejected(shardID uint64)
	MigrateAccepted(shardID uint64, logSize uint8)
	MigrateRejected(shardID uint64)
	Usage(shardID uint64, usage, limit int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing. It
// is safe for concurrent use and is the default when no observability
// backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                          {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) GrowAccepted(uint64)           {}
func (NoopMetrics) GrowRejected(uint64)           {}
func (NoopMetrics) MigrateAccepted(uint64, uint8) {}
func (NoopMetrics) MigrateRejected(uint64)        {}
func (NoopMetrics) Usage(uint64, int64, int64)    {}

var _ Metrics = NoopMetrics{}

// Clock provides monotonic time for the cooldown contract in
// shard.Manager.Now. Nil => time.Now().UnixNano().
type Clock interface{ NowUnixNano() int64 }

// ManagerOptions configures a Manager. Zero values are safe; sane
// defaults are applied in New(): most fields are optional, with a
// documented default.
type ManagerOptions struct {
	// DefaultHardUsageLimit is used by NewCache when CacheOptions.
	// HardUsageLimit is 0. Must eventually be set by one of the two.
	DefaultHardUsageLimit int64

	// IdealUpperFillRatio is the fraction of slots filled
	// (elements / (buckets * slotsPerBucket)) SizeHint targets. Defaults
	// to 0.75 if 0.
	IdealUpperFillRatio float64

	// GrowCooldown / MigrateCooldown bound how often the same shard may
	// have a grow/migrate request accepted. Default to 50ms/200ms.
	GrowCooldown    time.Duration
	MigrateCooldown time.Duration

	// Workers sizes the background task pool that executes accepted
	// TryResize/TryMigrateTo calls off the caller's goroutine. Defaults
	// to ReasonableShardCount() if <= 0.
	Workers int

	// TaskQueueDepth bounds the backlog of pending structural tasks
	// before RequestGrow/RequestMigrate falls back to running the task on
	// its own goroutine rather than dropping it. Defaults to 64 if <= 0.
	TaskQueueDepth int

	// Metrics receives hit/miss/grow/migrate/usage observations. Nil =>
	// NoopMetrics.
	Metrics Metrics

	// Clock overrides the time source (tests). Nil => time.Now().
	Clock Clock

	// OriginRateLimit caps the rate, in requests per second, at which
	// GetOrLoad may invoke a Loader across all shards combined. <= 0
	// disables throttling, leaving the origin unbounded.
	OriginRateLimit float64

	// OriginRateBurst sets the limiter's burst size. Defaults to
	// max(1, OriginRateLimit) if OriginRateLimit > 0 and this is <= 0.
	OriginRateBurst int
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.IdealUpperFillRatio <= 0 {
		o.IdealUpperFillRatio = 0.75
	}
	if o.GrowCooldown <= 0 {
		o.GrowCooldown = 50 * time.Millisecond
	}
	if o.MigrateCooldown <= 0 {
		o.MigrateCooldown = 200 * time.Millisecond
	}
	if o.TaskQueueDepth <= 0 {
		o.TaskQueueDepth = 64
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	return o
}
