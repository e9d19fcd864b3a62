package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Live pipeline metrics
	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_events_processed_total",
			Help: "Total number of protocol events processed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	dedupSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batchindexer_dedup_skips_total",
			Help: "Headers skipped by the dedup window before reorg detection",
		},
	)

	// Reorg metrics
	reorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batchindexer_reorgs_detected_total",
			Help: "Total number of L2 reorgs detected",
		},
	)

	lastReorgDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchindexer_last_reorg_depth",
			Help: "Depth of the most recently detected reorg",
		},
	)

	headBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchindexer_head_block",
			Help: "Latest observed block number per chain",
		},
		[]string{"chain"},
	)

	// Reconciler metrics
	gapsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_gaps_detected_total",
			Help: "Confirmed-missing blocks found by the reconciler",
		},
		[]string{"chain"},
	)

	blocksBackfilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_blocks_backfilled_total",
			Help: "Blocks backfilled by the reconciler",
		},
		[]string{"chain"},
	)

	backfillFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_backfill_failures_total",
			Help: "Per-block backfill failures after retries",
		},
		[]string{"chain"},
	)

	// Stream metrics
	streamResubscribes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_stream_resubscribes_total",
			Help: "Times an event stream was resubscribed after ending",
		},
		[]string{"stream"},
	)

	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"operation"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchindexer_rpc_retries_total",
			Help: "Total number of RPC call retries",
		},
		[]string{"operation"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchindexer_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchindexer_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchindexer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchindexer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func EventProcessedInc(kind string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	eventsProcessed.WithLabelValues(kind, outcome).Inc()
}

func DedupSkipInc() {
	dedupSkips.Inc()
}

func ReorgDetected(depth uint64) {
	reorgsDetected.Inc()
	lastReorgDepth.Set(float64(depth))
}

func HeadBlockSet(chain string, blockNum uint64) {
	headBlock.WithLabelValues(chain).Set(float64(blockNum))
}

func GapsDetectedAdd(chain string, count int) {
	gapsDetected.WithLabelValues(chain).Add(float64(count))
}

func BlockBackfilledInc(chain string) {
	blocksBackfilled.WithLabelValues(chain).Inc()
}

func BackfillFailureInc(chain string) {
	backfillFailures.WithLabelValues(chain).Inc()
}

func StreamResubscribeInc(stream string) {
	streamResubscribes.WithLabelValues(stream).Inc()
}

func DBQueryInc(operation string) {
	dbQueries.WithLabelValues(operation).Inc()
}

func DBErrorInc(operation string) {
	dbErrors.WithLabelValues(operation).Inc()
}

func RPCRetryInc(operation string) {
	rpcRetries.WithLabelValues(operation).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// Called periodically by the metrics server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
