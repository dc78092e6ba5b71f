package shard

import "github.com/memshard/memshard/internal/spinlock"

// Flags holds the mutually exclusive structural flags a Cache's Metadata
// carries. Resizing and Migrating are never both set; canResize() treats
// either one as a busy signal.
type Flags struct {
	Resizing  bool
	Migrating bool
}

// Metadata is the per-shard memory accounting block: how many bytes the
// shard currently holds for its internal structures and values, the
// soft/hard ceilings on that usage, and the structural flags that gate
// concurrent resize/migrate attempts.
//
// All fields are guarded by lock; callers must hold the appropriate mode
// before touching anything below.
type Metadata struct {
	lock spinlock.RWSpinLock

	allocatedSize  int64
	usage          int64
	softUsageLimit int64
	hardUsageLimit int64
	flags          Flags
}

// defaultSoftRatio is the fraction of hardUsageLimit used to derive
// softUsageLimit when a caller does not specify one explicitly.
const defaultSoftRatio = 0.9

// newMetadata builds a Metadata block for a hard limit, deriving the soft
// limit at defaultSoftRatio unless softOverride is positive.
func newMetadata(hardLimit, softOverride int64, tableMemory int64) Metadata {
	soft := softOverride
	if soft <= 0 {
		soft = int64(float64(hardLimit) * defaultSoftRatio)
	}
	return Metadata{
		allocatedSize:  tableMemory,
		softUsageLimit: soft,
		hardUsageLimit: hardLimit,
	}
}

// snapshot returns (allocatedSize, usage) under a read lock.
func (m *Metadata) snapshot() (int64, int64) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.allocatedSize, m.usage
}

// usageSnapshot returns usage alone under a read lock.
func (m *Metadata) usageSnapshot() int64 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.usage
}

// usageLimitSnapshot returns softUsageLimit under a read lock — callers of
// Cache.UsageLimit observe the soft limit, matching the original's
// usageLimit() -> softUsageLimit mapping.
func (m *Metadata) usageLimitSnapshot() int64 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.softUsageLimit
}

// adjustUsageIfAllowed applies delta to usage, but only if the result
// would not exceed hardUsageLimit when delta is positive. Negative deltas
// (reclaims) always succeed. Returns whether the delta was applied.
func (m *Metadata) adjustUsageIfAllowed(delta int64) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if delta > 0 && m.usage+delta > m.hardUsageLimit {
		return false
	}
	m.usage += delta
	if m.usage < 0 {
		m.usage = 0
	}
	return true
}

// underSoftLimit reports whether usage is currently at or below
// softUsageLimit, under a read lock.
func (m *Metadata) underSoftLimit() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.usage <= m.softUsageLimit
}

// changeTable replaces allocatedSize's table-memory component with
// newTableMemory, under a write lock. Called after a successful migrate
// or on shutdown (with newTableMemory == 0).
func (m *Metadata) changeTable(newTableMemory int64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.allocatedSize = newTableMemory
}

func (m *Metadata) isResizing() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.flags.Resizing
}

func (m *Metadata) isMigrating() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.flags.Migrating
}

func (m *Metadata) isResizingOrMigrating() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.flags.Resizing || m.flags.Migrating
}

// trySetResizing sets Resizing if neither flag is currently set. Returns
// whether it succeeded.
func (m *Metadata) trySetResizing() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.flags.Resizing || m.flags.Migrating {
		return false
	}
	m.flags.Resizing = true
	return true
}

func (m *Metadata) clearResizing() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.flags.Resizing = false
}

// trySetMigrating sets Migrating if neither flag is currently set.
func (m *Metadata) trySetMigrating() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.flags.Resizing || m.flags.Migrating {
		return false
	}
	m.flags.Migrating = true
	return true
}

func (m *Metadata) clearMigrating() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.flags.Migrating = false
}
