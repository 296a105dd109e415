package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the backend.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	migrationRuns     *prometheus.CounterVec
	usersMigrated     prometheus.Counter
	userFailures      prometheus.Counter
	referencesPatched *prometheus.CounterVec
	migrationRunTime  prometheus.Histogram
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "istri_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istri_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istri_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istri_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		migrationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istri_migration_runs_total",
				Help: "Total migration runs by outcome.",
			},
			[]string{"outcome"},
		),
		usersMigrated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "istri_migration_users_migrated_total",
				Help: "Total users fully migrated to canonical identifiers.",
			},
		),
		userFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "istri_migration_user_failures_total",
				Help: "Total per-user migration failures recorded.",
			},
		),
		referencesPatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "istri_migration_references_patched_total",
				Help: "Total foreign-key fields rewritten, by collection.",
			},
			[]string{"collection"},
		),
		migrationRunTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "istri_migration_run_duration_seconds",
				Help:    "Duration of full migration runs.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordMigrationRun records a completed run with its outcome and duration.
func (m *Metrics) RecordMigrationRun(outcome string, d time.Duration) {
	m.migrationRuns.WithLabelValues(outcome).Inc()
	m.migrationRunTime.Observe(d.Seconds())
}

// AddUsersMigrated adds to the migrated-user counter.
func (m *Metrics) AddUsersMigrated(n int) {
	m.usersMigrated.Add(float64(n))
}

// IncrUserFailure increments the per-user failure counter.
func (m *Metrics) IncrUserFailure() {
	m.userFailures.Inc()
}

// AddReferencesPatched adds to the patched-reference counter for a collection.
func (m *Metrics) AddReferencesPatched(collection string, n int) {
	m.referencesPatched.WithLabelValues(collection).Add(float64(n))
}

// MigrationSnapshot is a point-in-time read of the migration counters,
// served on the admin metrics endpoint.
type MigrationSnapshot struct {
	UsersMigrated int `json:"users_migrated"`
	UserFailures  int `json:"user_failures"`
}

// GetMigrationSnapshot reads the migration counters back from the registry.
func (m *Metrics) GetMigrationSnapshot() MigrationSnapshot {
	return MigrationSnapshot{
		UsersMigrated: int(counterValue(m.usersMigrated)),
		UserFailures:  int(counterValue(m.userFailures)),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
