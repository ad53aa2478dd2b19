// Package telemetry provides opt-in, low-overhead Prometheus metrics for
// the UDS index and the VDO slab depot. It is designed to be safe to call
// from hot paths: when disabled, every exported function is a no-op.
//
// Grounded on the teacher's internal/ratelimiter/telemetry/churn package
// (prom_counters.go/exporter.go): a package-level atomic.Bool enable gate,
// eagerly registered prometheus.Collectors, and an optional standalone
// /metrics HTTP endpoint via promhttp.Handler(), the same shape carried
// here under UDS/VDO metric names instead of VSA ones.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether telemetry is active and where its standalone
// metrics endpoint, if any, listens.
type Config struct {
	Enabled bool
	// MetricsAddr, when non-empty, starts a dedicated HTTP server serving
	// /metrics. Leave empty if promhttp is already wired elsewhere.
	MetricsAddr string
}

var (
	modEnabled atomic.Bool

	udsRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uds_requests_total",
		Help: "Total UDS requests processed, by kind",
	}, []string{"kind"})
	udsCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_cache_hits_total",
		Help: "Total page-cache hits while servicing UDS requests",
	})
	udsCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_cache_misses_total",
		Help: "Total page-cache misses while servicing UDS requests",
	})
	udsChaptersWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_chapters_written_total",
		Help: "Total chapters closed and committed to the volume",
	})
	udsVolumeIndexEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uds_volume_index_entries",
		Help: "Current number of entries held in the volume index",
	})

	vdoSlabFreeBlocks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vdo_slab_free_blocks",
		Help: "Free block count per slab",
	}, []string{"slab"})
	vdoSlabReferenceBlockWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vdo_slab_reference_block_writes_total",
		Help: "Total reference-block writes issued across all slabs",
	})
	vdoSlabReadOnlyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vdo_slab_read_only_total",
		Help: "Total times any slab entered read-only mode",
	})
	vdoSlabJournalBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vdo_slab_journal_blocked_total",
		Help: "Total times a slab journal blocked new entries pending reaping",
	})
)

func init() {
	prometheus.MustRegister(
		udsRequestsTotal, udsCacheHitsTotal, udsCacheMissesTotal,
		udsChaptersWrittenTotal, udsVolumeIndexEntries,
		vdoSlabFreeBlocks, vdoSlabReferenceBlockWritesTotal,
		vdoSlabReadOnlyTotal, vdoSlabJournalBlockedTotal,
	)
}

// Enable activates metrics recording and, if cfg.MetricsAddr is set,
// starts a standalone /metrics endpoint. Safe to call multiple times.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether telemetry recording is active.
func Enabled() bool { return modEnabled.Load() }

func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

// ObserveRequest records one completed UDS request of the given kind, as
// request.Kind.String() spells it ("POST", "UPDATE", "QUERY",
// "QUERY_NO_UPDATE", "DELETE").
func ObserveRequest(kind string) {
	if !modEnabled.Load() {
		return
	}
	udsRequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveCacheAccess records a single page-cache lookup outcome.
func ObserveCacheAccess(hit bool) {
	if !modEnabled.Load() {
		return
	}
	if hit {
		udsCacheHitsTotal.Inc()
	} else {
		udsCacheMissesTotal.Inc()
	}
}

// ObserveChapterWritten records that a chapter closed and was committed.
func ObserveChapterWritten() {
	if !modEnabled.Load() {
		return
	}
	udsChaptersWrittenTotal.Inc()
}

// SetVolumeIndexEntries records the current volume-index entry count.
func SetVolumeIndexEntries(n int) {
	if !modEnabled.Load() {
		return
	}
	udsVolumeIndexEntries.Set(float64(n))
}

// SetSlabFreeBlocks records slabNumber's current free-block count.
func SetSlabFreeBlocks(slabNumber uint64, free uint64) {
	if !modEnabled.Load() {
		return
	}
	vdoSlabFreeBlocks.WithLabelValues(slabKey(slabNumber)).Set(float64(free))
}

// ObserveReferenceBlockWrite records one reference-block write.
func ObserveReferenceBlockWrite() {
	if !modEnabled.Load() {
		return
	}
	vdoSlabReferenceBlockWritesTotal.Inc()
}

// ObserveReadOnly records that some slab entered read-only mode.
func ObserveReadOnly() {
	if !modEnabled.Load() {
		return
	}
	vdoSlabReadOnlyTotal.Inc()
}

// ObserveJournalBlocked records that a slab journal blocked new entries
// pending reaping.
func ObserveJournalBlocked() {
	if !modEnabled.Load() {
		return
	}
	vdoSlabJournalBlockedTotal.Inc()
}

func slabKey(slabNumber uint64) string {
	return "slab-" + itoa(slabNumber)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
