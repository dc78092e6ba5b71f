package manager

import (
	"sync"

	"github.com/memshard/memshard/shard"
)

// poolKey identifies a class of interchangeable tables: same bucket
// count, same bucket width, same variant (banish support changes the
// bucket layout).
type poolKey struct {
	logSize        uint8
	slotsPerBucket int
	supportsBanish bool
}

// tablePool recycles shard.Table allocations across grows, migrates, and
// shutdowns, grounded on the "table pool (reclaimTable)" mention in the
// original Manager's responsibilities. A lazily-created sync.Pool per
// poolKey avoids pooling tables of incompatible shape.
type tablePool struct {
	mu    sync.Mutex
	pools map[poolKey]*sync.Pool
}

func newTablePool() *tablePool {
	return &tablePool{pools: make(map[poolKey]*sync.Pool)}
}

func (p *tablePool) poolFor(key poolKey) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.pools[key]
	if !ok {
		pl = &sync.Pool{}
		p.pools[key] = pl
	}
	return pl
}

// acquire returns a pooled table matching key, or a freshly allocated
// one on a pool miss.
func (p *tablePool) acquire(logSize uint8, slotsPerBucket int, supportsBanish bool) *shard.Table {
	key := poolKey{logSize, slotsPerBucket, supportsBanish}
	if v := p.poolFor(key).Get(); v != nil {
		return v.(*shard.Table)
	}
	return shard.NewTable(logSize, slotsPerBucket, supportsBanish)
}

// release returns t to the pool matching its own shape. t must already
// be cleared (every bucket drained) by the caller before release.
func (p *tablePool) release(t *shard.Table) {
	key := poolKey{t.LogSize(), t.SlotsPerBucket(), t.SupportsBanish()}
	p.poolFor(key).Put(t)
}
