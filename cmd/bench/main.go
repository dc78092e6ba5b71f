// Command bench runs a synthetic workload against a Manager-owned set of
// shards and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memshard/memshard/internal/util"
	"github.com/memshard/memshard/manager"
	pmet "github.com/memshard/memshard/metrics/prom"
	"github.com/memshard/memshard/policy/plain"
	"github.com/memshard/memshard/policy/transactional"
	"github.com/memshard/memshard/shard"
)

func main() {
	// ---- Flags ----
	var (
		capacity = flag.Int64("cap", 256<<20, "per-shard hard usage limit, in bytes")
		shards   = flag.Int("shards", 0, "number of shards (0=auto)")
		variant  = flag.String("variant", "plain", "eviction variant: plain | transactional")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries (0 = keys/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "memshard", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build manager and shards ----
	m := manager.New(manager.ManagerOptions{
		DefaultHardUsageLimit: *capacity,
		Metrics:               metrics,
	})
	defer m.Shutdown()

	numShards := *shards
	if numShards <= 0 {
		numShards = int(util.NextPow2(uint64(2 * runtime.GOMAXPROCS(0))))
	}
	caches := make([]*shard.Cache, numShards)
	for i := range caches {
		var pol shard.CacheOptions
		switch *variant {
		case "plain":
			pol = shard.CacheOptions{Policy: plain.New(), InitialLogSize: shard.MinLogSize}
		case "transactional":
			pol = shard.CacheOptions{Policy: transactional.New(), InitialLogSize: shard.MinLogSize}
		default:
			log.Fatalf("unknown variant: %q (use plain or transactional)", *variant)
		}
		caches[i] = m.NewCache(pol)
	}
	shardFor := func(key string) *shard.Cache {
		return caches[util.Fnv64a(key)%uint64(numShards)]
	}

	// ---- Preload half the keyspace to get a realistic hit-rate ----
	pl := *preload
	if pl == 0 {
		pl = *keys / 2
	}
	for i := 0; i < pl; i++ {
		k := "k:" + strconv.Itoa(i)
		c := shardFor(k)
		_, _ = c.Insert(util.FingerprintString(k), []byte(k), []byte("v"+strconv.Itoa(i)))
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				k := keyByZipf()
				c := shardFor(k)
				fp := util.FingerprintString(k)
				key := []byte(k)

				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if h, err := c.Find(fp, key); err == nil {
						h.Release()
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					_, _ = c.Insert(fp, key, []byte("v"+strconv.Itoa(localR.Int())))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	var totalSize, totalUsage int64
	for _, c := range m.Shards() {
		s, u := c.SizeAndUsage()
		totalSize += s
		totalUsage += u
	}

	fmt.Printf("variant=%s cap=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		*variant, *capacity, numShards, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("size=%d usage=%d\n", totalSize, totalUsage)
}
