// Package metrics provides Prometheus metrics for the matching engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector the engine exposes.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	// Matching outcomes
	observations      *prometheus.CounterVec
	degradedSelection prometheus.Counter
	ambiguousMatches  prometheus.Counter
	matchScore        prometheus.Histogram
	candidatesPerObs  prometheus.Histogram
	selectLatency     prometheus.Histogram

	// Roster index
	indexBattles prometheus.Gauge

	// Driver
	workerCount prometheus.Gauge
	queueDepth  prometheus.Gauge

	// Consolidation and persistence
	linksWritten        prometheus.Counter
	persistenceFailures prometheus.Counter
	runDuration         prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "replaylink",
		subsystem:      "matcher",
		latencyBuckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.observations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "observations_total",
		Help:      "Screenshot observations processed, by outcome",
	}, []string{"outcome"})

	m.degradedSelection = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "degraded_selections_total",
		Help:      "Selections that scanned the whole index for lack of a time reference",
	})

	m.ambiguousMatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ambiguous_matches_total",
		Help:      "Matches whose runner-up scored within the ambiguity epsilon",
	})

	m.matchScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "match_score",
		Help:      "Winning candidate score per observation",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	m.candidatesPerObs = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_per_observation",
		Help:      "Battles scored for a single observation",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	m.selectLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "select_latency_milliseconds",
		Help:      "Time spent selecting a battle for one observation",
		Buckets:   m.latencyBuckets,
	})

	m.indexBattles = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "index_battles",
		Help:      "Battles held by the roster index",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Workers in the match driver pool",
	})

	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Observations waiting for a worker",
	})

	m.linksWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "links_written_total",
		Help:      "Video battle links persisted",
	})

	m.persistenceFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "persistence_failures_total",
		Help:      "Video groups whose link write failed",
	})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a full matching run",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})
}

// RecordObservation counts one observation under the given outcome label.
func RecordObservation(outcome string) {
	globalManager.observations.WithLabelValues(outcome).Inc()
}

// RecordDegradedSelection counts a whole-index selection.
func RecordDegradedSelection() {
	globalManager.degradedSelection.Inc()
}

// RecordAmbiguousMatch counts an ambiguous winner.
func RecordAmbiguousMatch() {
	globalManager.ambiguousMatches.Inc()
}

// ObserveMatchScore records the winning score of an observation.
func ObserveMatchScore(score float64) {
	globalManager.matchScore.Observe(score)
}

// ObserveCandidates records how many battles were scored for an observation.
func ObserveCandidates(n int) {
	globalManager.candidatesPerObs.Observe(float64(n))
}

// ObserveSelectLatency records selection time in milliseconds.
func ObserveSelectLatency(latencyMs float64) {
	globalManager.selectLatency.Observe(latencyMs)
}

// UpdateIndexBattles sets the roster index size.
func UpdateIndexBattles(count int) {
	globalManager.indexBattles.Set(float64(count))
}

// UpdateWorkerCount sets the pool size.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateQueueDepth sets the number of queued observations.
func UpdateQueueDepth(depth int) {
	globalManager.queueDepth.Set(float64(depth))
}

// RecordLinksWritten adds n persisted links.
func RecordLinksWritten(n int) {
	globalManager.linksWritten.Add(float64(n))
}

// RecordPersistenceFailure counts a failed video group write.
func RecordPersistenceFailure() {
	globalManager.persistenceFailures.Inc()
}

// ObserveRunDuration records the wall time of a run in seconds.
func ObserveRunDuration(seconds float64) {
	globalManager.runDuration.Observe(seconds)
}

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
