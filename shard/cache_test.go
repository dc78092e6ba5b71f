package shard

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memshard/memshard/policy/plain"
	"github.com/memshard/memshard/policy/transactional"
)

// fakePRNG is a trivial deterministic PRNG for tests that don't care
// about sampling distribution, only that a value comes back.
type fakePRNG struct{ state atomic.Uint64 }

func (p *fakePRNG) Uint64() uint64 {
	v := p.state.Add(0x9E3779B97F4A7C15)
	v ^= v >> 33
	return v
}

// fakeManager is a minimal shard.Manager good enough to drive Cache's
// unit tests: it accepts every grow/migrate request it sees and returns
// cooldownExpiry == now, without scheduling any TryResize/TryMigrateTo.
// Its clock stands still unless a test advances it, so the Cache's
// "now <= stored timestamp" cooldown check keeps requests from reaching
// it at all.
type fakeManager struct {
	now       atomic.Int64
	prng      fakePRNG
	reclaimed []*Table
	hits      atomic.Int64
	misses    atomic.Int64
	unreg     atomic.Int64
}

func newFakeManager() *fakeManager {
	m := &fakeManager{}
	m.now.Store(1)
	return m
}

func (m *fakeManager) RequestGrow(c *Cache) (bool, int64) {
	return true, m.now.Load()
}

func (m *fakeManager) RequestMigrate(c *Cache, logSize uint8) (bool, int64) {
	return true, m.now.Load()
}

func (m *fakeManager) ReclaimTable(t *Table, wasPrimary bool) {
	m.reclaimed = append(m.reclaimed, t)
}

func (m *fakeManager) ReportHitStat(hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func (m *fakeManager) SharedPRNG() PRNG { return &m.prng }

func (m *fakeManager) UnregisterCache(id uint64) { m.unreg.Add(1) }

func (m *fakeManager) IdealUpperFillRatio() float64 { return 0.75 }

func (m *fakeManager) Now() int64 { return m.now.Load() }

func newTestCache(t *testing.T, variant Variant, hardLimit int64) (*Cache, *fakeManager) {
	t.Helper()
	mgr := newFakeManager()
	opt := CacheOptions{HardUsageLimit: hardLimit, InitialLogSize: MinLogSize}
	if variant == VariantTransactional {
		opt.Policy = transactional.New()
	} else {
		opt.Policy = plain.New()
	}
	return NewCache(mgr, 1, opt), mgr
}

func TestInsertFindRemoveRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)

	fp := uint32(42)
	key := []byte("k1")
	val := []byte("v1")

	if _, err := c.Insert(fp, key, val); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	h, err := c.Find(fp, key)
	if err != nil {
		t.Fatalf("Find after insert: %v", err)
	}
	if string(h.Value()) != "v1" {
		t.Fatalf("Find returned %q, want v1", h.Value())
	}
	h.Release()

	if err := c.Remove(fp, key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := c.Find(fp, key); err != ErrNotFound {
		t.Fatalf("Find after remove: got err=%v, want ErrNotFound", err)
	}
}

func TestInsertOverCapacityRejected(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 64)
	_, err := c.Insert(1, []byte("key"), make([]byte, 1024))
	if err != ErrOverCapacity {
		t.Fatalf("Insert: got err=%v, want ErrOverCapacity", err)
	}
}

func TestBucketFullEvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)

	// slotsPerBucket for plain is 5; fingerprint 0 always maps to bucket 0
	// at MinLogSize since the index comes from the top bits.
	fp := uint32(0)
	for i := 0; i < 5; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if _, err := c.Insert(fp, key, []byte("v")); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	// The 6th insert into the same bucket must evict k0 (oldest).
	res, err := c.Insert(fp, []byte("k5"), []byte("v"))
	if err != nil {
		t.Fatalf("Insert overflow: %v", err)
	}
	if !res.Evicted {
		t.Fatal("expected Evicted=true on bucket-full insert")
	}
	if _, err := c.Find(fp, []byte("k0")); err != ErrNotFound {
		t.Fatalf("expected k0 evicted, got err=%v", err)
	}
	if _, err := c.Find(fp, []byte("k5")); err != nil {
		t.Fatalf("expected k5 present, got err=%v", err)
	}
}

func TestTransactionalBanishAdvanceTerm(t *testing.T) {
	c, _ := newTestCache(t, VariantTransactional, 1<<20)

	fp := uint32(7)
	key := []byte("x")

	if err := c.Banish(fp, key); err != nil {
		t.Fatalf("Banish: %v", err)
	}
	if _, err := c.Insert(fp, key, []byte("v")); err != ErrBanished {
		t.Fatalf("Insert after banish: got err=%v, want ErrBanished", err)
	}
	c.AdvanceTerm()
	if _, err := c.Insert(fp, key, []byte("v")); err != nil {
		t.Fatalf("Insert after AdvanceTerm: %v", err)
	}
	h, err := c.Find(fp, key)
	if err != nil {
		t.Fatalf("Find after re-insert: %v", err)
	}
	h.Release()
}

func TestBanishUnsupportedOnPlain(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)
	if err := c.Banish(1, []byte("x")); err != ErrUnsupported {
		t.Fatalf("Banish on plain: got err=%v, want ErrUnsupported", err)
	}
}

func TestUsageAccountingAfterInsertsAndRemoves(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)

	var inserted int64
	for i := 0; i < 50; i++ {
		fp := uint32(i * 97)
		key := []byte(fmt.Sprintf("key-%d", i))
		val := []byte("payload")
		if _, err := c.Insert(fp, key, val); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		inserted++
	}

	_, usage := c.SizeAndUsage()
	if usage <= 0 {
		t.Fatalf("usage = %d, want > 0 after %d inserts", usage, inserted)
	}

	for i := 0; i < 50; i++ {
		fp := uint32(i * 97)
		key := []byte(fmt.Sprintf("key-%d", i))
		_ = c.Remove(fp, key)
	}

	if got := c.Usage(); got != 0 {
		t.Fatalf("Usage() after removing everything = %d, want 0", got)
	}
}

func TestShutdownIsIdempotentAndQuiesces(t *testing.T) {
	c, mgr := newTestCache(t, VariantPlain, 1<<20)

	if _, err := c.Insert(1, []byte("a"), []byte("b")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c.Shutdown()
	c.Shutdown() // idempotent

	if _, err := c.Find(1, []byte("a")); err != ErrShutdown {
		t.Fatalf("Find after shutdown: got err=%v, want ErrShutdown", err)
	}
	if _, err := c.Insert(2, []byte("c"), []byte("d")); err != ErrShutdown {
		t.Fatalf("Insert after shutdown: got err=%v, want ErrShutdown", err)
	}
	if c.Usage() != 0 {
		t.Fatalf("Usage() after shutdown = %d, want 0", c.Usage())
	}
	if mgr.unreg.Load() != 1 {
		t.Fatalf("UnregisterCache calls = %d, want 1", mgr.unreg.Load())
	}
	if len(mgr.reclaimed) == 0 {
		t.Fatal("expected the shard's table to be reclaimed on shutdown")
	}
}

func TestHitRatesConverge(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)

	// Fingerprints i<<24 put each key in its own bucket (the top 8 bits
	// select the bucket at MinLogSize), so nothing is evicted.
	keys := make([][]byte, 20)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("hr-%d", i))
		if _, err := c.Insert(uint32(i)<<24, keys[i], []byte("v")); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	for round := 0; round < 200; round++ {
		for i, k := range keys {
			if h, err := c.Find(uint32(i)<<24, k); err == nil {
				h.Release()
			}
		}
	}
	lifetime, _, ok, _ := c.HitRates()
	if !ok {
		t.Fatal("expected a lifetime hit rate after many finds")
	}
	if lifetime < 90 {
		t.Fatalf("lifetime hit rate = %.1f, want >= 90 with no eviction", lifetime)
	}
}

func TestCanResizeFlagExclusivity(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)
	if !c.CanResize() {
		t.Fatal("fresh cache should be resizable")
	}
	if !c.metadata.trySetResizing() {
		t.Fatal("trySetResizing should succeed once")
	}
	if c.metadata.trySetMigrating() {
		t.Fatal("trySetMigrating must fail while Resizing is set")
	}
	if c.CanResize() {
		t.Fatal("CanResize should be false while Resizing is set")
	}
	c.metadata.clearResizing()
	if !c.CanResize() {
		t.Fatal("CanResize should be true again after clearing Resizing")
	}
}

func TestMigrateCompletenessPreservesKeys(t *testing.T) {
	c, mgr := newTestCache(t, VariantPlain, 1<<30)

	n := 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("m-%d", i))
		fp := uint32(i * 2654435761)
		if _, err := c.Insert(fp, key, []byte("v")); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	newT := NewTable(MinLogSize+2, c.slotsPerBucket, c.pol.SupportsBanish())
	if !c.metadata.trySetMigrating() {
		t.Fatal("trySetMigrating should succeed")
	}
	if !c.Migrate(newT) {
		t.Fatal("Migrate returned false")
	}

	missing := 0
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("m-%d", i))
		fp := uint32(i * 2654435761)
		h, err := c.Find(fp, key)
		if err != nil {
			missing++
			continue
		}
		h.Release()
	}
	if missing != 0 {
		t.Fatalf("%d/%d keys missing after migrate", missing, n)
	}
	if len(mgr.reclaimed) != 1 {
		t.Fatalf("reclaimed tables = %d, want 1 (the old primary)", len(mgr.reclaimed))
	}
}

func TestMigrateWithDestinationOverflowReconcilesUsage(t *testing.T) {
	mgr := newFakeManager()
	c := NewCache(mgr, 1, CacheOptions{
		Policy:         plain.New(),
		InitialLogSize: 16,
		HardUsageLimit: 1 << 20,
	})
	defer c.Shutdown()

	// Every key below shares the same top 8 bits (destBucketByte) but
	// distinct top-16-bit prefixes, so they land in n distinct buckets at
	// InitialLogSize=16 but collide into a single bucket once migrated
	// down to MinLogSize (top 8 bits only). That bucket's capacity
	// (c.slotsPerBucket) is far smaller than n, forcing migrateBucket to
	// evict the overflow.
	const destBucketByte = 1
	const n = 40
	keys := make([][]byte, n)
	fps := make([]uint32, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("k%03d", i))
		fps[i] = uint32(destBucketByte)<<24 | uint32(i)<<16
		if _, err := c.Insert(fps[i], keys[i], []byte("v")); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	itemSize := int64(valueHeaderSize + len("k000") + len("v"))
	if got := c.Usage(); got != itemSize*n {
		t.Fatalf("usage before migrate = %d, want %d", got, itemSize*n)
	}

	newT := NewTable(MinLogSize, c.slotsPerBucket, c.pol.SupportsBanish())
	if !c.metadata.trySetMigrating() {
		t.Fatal("trySetMigrating should succeed")
	}
	if !c.Migrate(newT) {
		t.Fatal("Migrate returned false")
	}

	wantSurvivors := int64(c.slotsPerBucket)
	if got := c.Usage(); got != itemSize*wantSurvivors {
		t.Fatalf("usage after migrate = %d, want %d (evicted migrate slots not reconciled)", got, itemSize*wantSurvivors)
	}

	survived := 0
	for i := 0; i < n; i++ {
		if h, err := c.Find(fps[i], keys[i]); err == nil {
			survived++
			h.Release()
		}
	}
	if int64(survived) != wantSurvivors {
		t.Fatalf("survived = %d, want %d", survived, wantSurvivors)
	}
}

func TestInsertDoesNotHoldBucketLockWhileDrainingEvictedHandle(t *testing.T) {
	c, _ := newTestCache(t, VariantPlain, 1<<20)

	fp := uint32(0)
	for i := 0; i < c.slotsPerBucket; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if _, err := c.Insert(fp, key, []byte("v")); err != nil {
			t.Fatalf("seed insert %d: %v", i, err)
		}
	}

	// Borrow a Handle on the oldest entry (k0) and hold it open, so the
	// next insert's eviction of k0 has an outstanding borrower and must
	// wait in freeValues for it to drain.
	h, err := c.Find(fp, []byte("k0"))
	if err != nil {
		t.Fatalf("Find k0: %v", err)
	}

	insertDone := make(chan error, 1)
	go func() {
		_, err := c.Insert(fp, []byte(fmt.Sprintf("k%d", c.slotsPerBucket)), []byte("v"))
		insertDone <- err
	}()

	// While that insert is blocked draining k0's refcount, a concurrent
	// Find for another live key in the same bucket must not be blocked
	// behind the bucket lock.
	findDone := make(chan error, 1)
	go func() {
		key := []byte(fmt.Sprintf("k%d", c.slotsPerBucket-1))
		hh, err := c.Find(fp, key)
		if err == nil {
			hh.Release()
		}
		findDone <- err
	}()

	select {
	case err := <-findDone:
		if err != nil {
			t.Fatalf("concurrent Find blocked/failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("concurrent Find on same bucket timed out while an eviction drains an outstanding Handle")
	}

	h.Release()

	select {
	case err := <-insertDone:
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Insert never completed after the outstanding Handle was released")
	}
}
