// Package manager implements the concrete shard.Manager: global memory
// arbitration across many shard.Cache instances, table pooling, a shared
// PRNG, a shard registry, and the background workers that execute the
// structural operations a Cache can only ask permission for.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/memshard/memshard/internal/singleflight"
	"github.com/memshard/memshard/internal/util"
	"github.com/memshard/memshard/shard"
)

// Manager owns a set of shard.Cache instances, arbitrates their grow and
// migrate requests, and pools the shard.Table allocations they churn
// through. All exported methods are safe for concurrent use.
type Manager struct {
	opt ManagerOptions

	mu     sync.RWMutex
	shards map[uint64]*shard.Cache
	nextID atomic.Uint64

	prng *lockedRand
	pool *tablePool

	growCooldown    atomic.Int64
	migrateCooldown atomic.Int64

	tasks chan func()

	// sf coalesces concurrent RequestMigrate signals naming the same
	// (shard id, target logSize) pair, so a burst of inserts tripping
	// the eviction-rate check at once only schedules one migrate.
	sf singleflight.Group[migrateKey, struct{}]

	// loadGroup coalesces concurrent GetOrLoad calls for the same
	// (shard id, fingerprint, key) so only one loader invocation runs.
	loadGroup singleflight.Group[string, []byte]

	// originLimiter throttles Loader invocations across every shard, so a
	// miss storm cannot translate into an unbounded fan-out of origin
	// calls. Nil when OriginRateLimit is unset.
	originLimiter *rate.Limiter

	closed atomic.Bool
	wg     sync.WaitGroup
}

type migrateKey struct {
	id      uint64
	logSize uint8
}

// New constructs a Manager. opt.DefaultHardUsageLimit should be set
// unless every NewCache call supplies its own CacheOptions.HardUsageLimit.
func New(opt ManagerOptions) *Manager {
	opt = opt.withDefaults()
	workers := opt.Workers
	if workers <= 0 {
		workers = util.ReasonableShardCount()
	}

	m := &Manager{
		opt:    opt,
		shards: make(map[uint64]*shard.Cache),
		prng:   newLockedRand(time.Now().UnixNano()),
		pool:   newTablePool(),
		tasks:  make(chan func(), opt.TaskQueueDepth),
	}
	m.growCooldown.Store(int64(opt.GrowCooldown))
	m.migrateCooldown.Store(int64(opt.MigrateCooldown))

	if opt.OriginRateLimit > 0 {
		burst := opt.OriginRateBurst
		if burst <= 0 {
			burst = int(opt.OriginRateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		m.originLimiter = rate.NewLimiter(rate.Limit(opt.OriginRateLimit), burst)
	}

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for task := range m.tasks {
		task()
	}
}

// dispatch hands fn to the background worker pool if the queue has room
// without blocking the caller; otherwise it runs fn on a new goroutine.
// It never runs fn inline: the Cache calls RequestMigrate while holding
// its taskLock, and the migrate task takes that lock again. Either way
// the accepted contract in RequestGrow/RequestMigrate is honored: the
// task is never silently dropped.
func (m *Manager) dispatch(fn func()) {
	select {
	case m.tasks <- fn:
	default:
		go fn()
	}
}

// ---------------------------------------------------------------------
// shard.Manager implementation
// ---------------------------------------------------------------------

// RequestGrow implements shard.Manager. It accepts every request until the
// Manager is shut down (the Manager enforces no global budget beyond each
// shard's own hard/soft usage limits) and schedules a TryResize call.
func (m *Manager) RequestGrow(c *shard.Cache) (bool, int64) {
	if m.closed.Load() {
		m.opt.Metrics.GrowRejected(c.ID())
		return false, m.Now()
	}
	m.opt.Metrics.GrowAccepted(c.ID())
	m.dispatch(func() { c.TryResize() })
	return true, m.Now() + m.growCooldown.Load()
}

// RequestMigrate implements shard.Manager. It accepts any logSize within
// [shard.MinLogSize, shard.MaxLogSize] and schedules a TryMigrateTo call
// against a pooled table of that shape, coalescing duplicate signals for
// the same (shard, logSize) pair via singleflight.
func (m *Manager) RequestMigrate(c *shard.Cache, logSize uint8) (bool, int64) {
	if m.closed.Load() || logSize < shard.MinLogSize || logSize > shard.MaxLogSize {
		m.opt.Metrics.MigrateRejected(c.ID())
		return false, m.Now()
	}

	key := migrateKey{id: c.ID(), logSize: logSize}
	m.opt.Metrics.MigrateAccepted(c.ID(), logSize)
	m.dispatch(func() {
		ctx := context.Background()
		_, _ = m.sf.Do(ctx, key, func() (struct{}, error) {
			newTable := m.pool.acquire(logSize, c.SlotsPerBucket(), c.SupportsBanish())
			if !c.TryMigrateTo(newTable) {
				// Declined (already migrating) or aborted by shutdown:
				// the table is not attached to c (an aborted Migrate
				// detaches and clears it), so it goes back to the pool.
				m.pool.release(newTable)
			}
			return struct{}{}, nil
		})
	})
	return true, m.Now() + m.migrateCooldown.Load()
}

// ReclaimTable implements shard.Manager, returning a drained table to
// the pool for reuse by a future grow/migrate of the same shape.
func (m *Manager) ReclaimTable(t *shard.Table, _ bool) {
	m.pool.release(t)
}

// ReportHitStat implements shard.Manager, forwarding the sampled outcome
// to Metrics.
func (m *Manager) ReportHitStat(hit bool) {
	if hit {
		m.opt.Metrics.Hit()
	} else {
		m.opt.Metrics.Miss()
	}
}

// SharedPRNG implements shard.Manager.
func (m *Manager) SharedPRNG() shard.PRNG { return m.prng }

// UnregisterCache implements shard.Manager, dropping id from the
// registry. Called by Cache.Shutdown; idempotent.
func (m *Manager) UnregisterCache(id uint64) {
	m.mu.Lock()
	delete(m.shards, id)
	m.mu.Unlock()
}

// IdealUpperFillRatio implements shard.Manager.
func (m *Manager) IdealUpperFillRatio() float64 { return m.opt.IdealUpperFillRatio }

// Now implements shard.Manager.
func (m *Manager) Now() int64 {
	if m.opt.Clock != nil {
		return m.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// ---------------------------------------------------------------------
// Public lifecycle API
// ---------------------------------------------------------------------

// NewCache registers and returns a new shard under this Manager. opt's
// HardUsageLimit defaults to ManagerOptions.DefaultHardUsageLimit if 0.
func (m *Manager) NewCache(opt shard.CacheOptions) *shard.Cache {
	if opt.HardUsageLimit <= 0 {
		opt.HardUsageLimit = m.opt.DefaultHardUsageLimit
	}
	id := m.nextID.Add(1)
	c := shard.NewCache(m, id, opt)

	m.mu.Lock()
	m.shards[id] = c
	m.mu.Unlock()
	return c
}

// AcquireTable takes a table of the given shape from the pool, or
// allocates a fresh one on a pool miss. Exposed for callers (tests,
// alternate migrate drivers) that want to pre-warm the pool; the normal
// RequestMigrate path calls this internally.
func (m *Manager) AcquireTable(logSize uint8, slotsPerBucket int, supportsBanish bool) *shard.Table {
	return m.pool.acquire(logSize, slotsPerBucket, supportsBanish)
}

// Shards returns a snapshot of every currently registered shard.
func (m *Manager) Shards() []*shard.Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*shard.Cache, 0, len(m.shards))
	for _, c := range m.shards {
		out = append(out, c)
	}
	return out
}

// CloseCache shuts down c if it is non-nil, mirroring the original's
// null-safe Cache::destroy helper.
func (m *Manager) CloseCache(c *shard.Cache) {
	if c == nil {
		return
	}
	c.Shutdown()
}

// Shutdown shuts down every registered shard and stops the background
// worker pool. Safe to call more than once.
func (m *Manager) Shutdown() {
	if m.closed.Swap(true) {
		return
	}
	for _, c := range m.Shards() {
		c.Shutdown()
	}
	close(m.tasks)
	m.wg.Wait()
}

// Run drives periodic maintenance — usage-gauge reporting across every
// registered shard — until ctx is cancelled. It does not return until
// ctx is done or the launched goroutine errors; the only goroutine
// launched reports nil on cancellation.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.reportUsage()
			}
		}
	})
	return g.Wait()
}

// Loader fetches a value for fp/key on a GetOrLoad miss.
type Loader func(ctx context.Context, fp uint32, key []byte) ([]byte, error)

// GetOrLoad returns a Handle for fp/key in c, loading it via loader on a
// miss and coalescing concurrent loads for the same (shard, fingerprint,
// key) with singleflight. It is sugar layered on shard.Cache.Find/Insert,
// not a method on Cache itself (see Open Question 2 in DESIGN.md).
func (m *Manager) GetOrLoad(ctx context.Context, c *shard.Cache, fp uint32, key []byte, loader Loader) (*shard.Handle, error) {
	if h, err := c.Find(fp, key); err == nil {
		return h, nil
	}

	sfKey := fmt.Sprintf("%d|%d|%s", c.ID(), fp, key)
	_, err := m.loadGroup.Do(ctx, sfKey, func() ([]byte, error) {
		if h, err := c.Find(fp, key); err == nil {
			h.Release()
			return nil, nil
		}
		if m.originLimiter != nil {
			if err := m.originLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		val, err := loader(ctx, fp, key)
		if err != nil {
			return nil, err
		}
		if _, err := c.Insert(fp, key, val); err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return c.Find(fp, key)
}

func (m *Manager) reportUsage() {
	for _, c := range m.Shards() {
		usage, limit := c.Usage(), c.UsageLimit()
		m.opt.Metrics.Usage(c.ID(), usage, limit)
	}
}
