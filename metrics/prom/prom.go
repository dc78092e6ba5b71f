// Package prom adapts manager.Metrics to Prometheus counters and gauges.
package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/memshard/memshard/manager"
)

// Adapter implements manager.Metrics and exports Prometheus counters and
// gauges. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	grows   *prometheus.CounterVec
	migrate *prometheus.CounterVec
	usage   *prometheus.GaugeVec
	limit   *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "find_hits_total",
			Help:        "Shard find hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "find_misses_total",
			Help:        "Shard find misses",
			ConstLabels: constLabels,
		}),
		grows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "grow_requests_total",
				Help:        "FreeMemory sweep requests by shard and outcome",
				ConstLabels: constLabels,
			},
			[]string{"shard", "outcome"},
		),
		migrate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "migrate_requests_total",
				Help:        "Migrate requests by shard, target log size, and outcome",
				ConstLabels: constLabels,
			},
			[]string{"shard", "log_size", "outcome"},
		),
		usage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "usage_bytes",
				Help:        "Bytes resident in a shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
		limit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "usage_limit_bytes",
				Help:        "Soft usage limit for a shard",
				ConstLabels: constLabels,
			},
			[]string{"shard"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.grows, a.migrate, a.usage, a.limit)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// GrowAccepted increments the grow-requests counter for shardID with
// outcome "accepted".
func (a *Adapter) GrowAccepted(shardID uint64) {
	a.grows.WithLabelValues(shardLabel(shardID), "accepted").Inc()
}

// GrowRejected increments the grow-requests counter for shardID with
// outcome "rejected".
func (a *Adapter) GrowRejected(shardID uint64) {
	a.grows.WithLabelValues(shardLabel(shardID), "rejected").Inc()
}

// MigrateAccepted increments the migrate-requests counter for shardID
// and logSize with outcome "accepted".
func (a *Adapter) MigrateAccepted(shardID uint64, logSize uint8) {
	a.migrate.WithLabelValues(shardLabel(shardID), strconv.Itoa(int(logSize)), "accepted").Inc()
}

// MigrateRejected increments the migrate-requests counter for shardID
// with outcome "rejected".
func (a *Adapter) MigrateRejected(shardID uint64) {
	a.migrate.WithLabelValues(shardLabel(shardID), "", "rejected").Inc()
}

// Usage sets the usage and usage-limit gauges for shardID.
func (a *Adapter) Usage(shardID uint64, usage, limit int64) {
	a.usage.WithLabelValues(shardLabel(shardID)).Set(float64(usage))
	a.limit.WithLabelValues(shardLabel(shardID)).Set(float64(limit))
}

func shardLabel(id uint64) string { return strconv.FormatUint(id, 10) }

// Compile-time check: ensure Adapter implements manager.Metrics.
var _ manager.Metrics = (*Adapter)(nil)
