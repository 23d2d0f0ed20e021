package observability

import (
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Ledger operation labels.
const (
	OpRequestTask = "request_task"
	OpApprove     = "approve"
	OpReject      = "reject"
	OpSpend       = "spend"
	OpDeduct      = "deduct"
	OpAdjust      = "adjust"
	OpCatalog     = "catalog"
	OpProfile     = "profile"
	OpImport      = "import"
	OpBulkInsert  = "bulk_insert"
	OpSynthetic   = "synthetic"
	OpReset       = "reset"
	OpReload      = "reload"
)

// Ledger operation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeNoop         = "noop"
	OutcomeInsufficient = "insufficient_points"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomePersistence  = "persistence_error"
)

// CacheCompleted labels the completed-today memo.
const CacheCompleted = "completed_today"

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operations          *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	transactions        *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	settingsWrites      *prometheus.CounterVec
	externalErrors      *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	totalPoints         prometheus.Gauge
	pendingTasks        prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_ledger_operations_total",
				Help: "Ledger operations by kind and outcome.",
			},
			[]string{"op", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "habithero_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations, durable writes included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_transactions_appended_total",
				Help: "Transactions durably appended, by type.",
			},
			[]string{"type"},
		),
		persistenceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_persistence_failures_total",
				Help: "Store writes that failed after retries.",
			},
			[]string{"op"},
		),
		settingsWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_settings_writes_total",
				Help: "Asynchronous settings snapshot writes by result.",
			},
			[]string{"result"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_external_errors_total",
				Help: "Total errors from remote services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habithero_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		totalPoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "habithero_total_points",
			Help: "Current point balance.",
		}),
		pendingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "habithero_pending_tasks",
			Help: "Claims awaiting a parent decision.",
		}),
	}
}

// RecordOperation counts one ledger operation and observes its duration.
func (m *Metrics) RecordOperation(op, outcome string, d time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncrTransactions counts n appended transactions of the given type.
func (m *Metrics) IncrTransactions(txType string, n int) {
	m.transactions.WithLabelValues(txType).Add(float64(n))
}

// IncrPersistenceFailure counts a store write that gave up.
func (m *Metrics) IncrPersistenceFailure(op string) {
	m.persistenceFailures.WithLabelValues(op).Inc()
}

// IncrSettingsWrite counts a settings write with result "ok" or "error".
func (m *Metrics) IncrSettingsWrite(result string) {
	m.settingsWrites.WithLabelValues(result).Inc()
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

// SetLedgerGauges publishes the current balance and pending-task count.
func (m *Metrics) SetLedgerGauges(totalPoints, pending int) {
	m.totalPoints.Set(float64(totalPoints))
	m.pendingTasks.Set(float64(pending))
}

// GetLedgerSnapshot returns a snapshot of ledger metrics suitable for the
// GET /v1/metrics/ledger endpoint.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	hits := getCounterValue(m.cacheHits, CacheCompleted)
	misses := getCounterValue(m.cacheMisses, CacheCompleted)

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.LedgerMetrics{
		Approved:            int64(getCounterValue(m.operations, OpApprove, OutcomeOK)),
		Rejected:            int64(getCounterValue(m.operations, OpReject, OutcomeOK)),
		Spent:               int64(getCounterValue(m.operations, OpSpend, OutcomeOK)),
		Deducted:            int64(getCounterValue(m.operations, OpDeduct, OutcomeOK)),
		Adjusted:            int64(getCounterValue(m.operations, OpAdjust, OutcomeOK)),
		InsufficientPoints:  int64(sumCounterVec(m.operations, "outcome", OutcomeInsufficient)),
		PersistenceFailures: int64(sumCounterVec(m.persistenceFailures, "", "")),
		SettingsWrites:      int64(getCounterValue(m.settingsWrites, OutcomeOK)),
		CacheHitRate:        hitRate,
		TotalPoints:         int64(getGaugeValue(m.totalPoints)),
		PendingTasks:        int64(getGaugeValue(m.pendingTasks)),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every child of cv, optionally only those whose label
// name has the given value (an empty name matches all).
func sumCounterVec(cv *prometheus.CounterVec, name, value string) float64 {
	ch := make(chan prometheus.Metric, 32)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		if name != "" && !hasLabel(m, name, value) {
			continue
		}
		total += m.Counter.GetValue()
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue() == value
		}
	}
	return false
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}
