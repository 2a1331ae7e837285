package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/settlement/internal/authorization"
	"github.com/smallbiznis/settlement/pkg/db"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonForbidden            = "forbidden"
	JobReasonNotFound             = "not_found"
	JobReasonBusinessRule         = "business_rule"
	JobReasonUnknown              = "unknown"
)

const (
	BatchOutcomeCreated       = "created"
	BatchOutcomeBelowMinimum  = "below_minimum"
	BatchOutcomeNoEligible    = "no_eligible_revenue"
	BatchOutcomeClaimConflict = "claim_conflict"
	BatchOutcomeScopeBusy     = "scope_busy"
	BatchOutcomeRejected      = "rejected"
)

const (
	LockResourceDueVendors   = "vendors_due_for_settlement"
	LockResourceVendorByID   = "vendor_balance_by_id"
	LockResourceBatchForSync = "payout_batch_by_id"
)

// SettlementMetrics captures settlement health signals scraped from /metrics.
type SettlementMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	vendorsProcessed   *prometheus.CounterVec
	batchOutcomes      *prometheus.CounterVec
	claimRetries       prometheus.Counter
	runLoopLag         prometheus.Observer
	dbLockWait         *prometheus.HistogramVec
	balanceUnderflows  prometheus.Counter
	outstandingBalance prometheus.Gauge
	pendingRevenue     prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

var (
	settlementMetricsMu sync.Mutex
	settlementMetrics   *SettlementMetrics
)

// Settlement returns the singleton settlement metrics registry.
func Settlement() *SettlementMetrics {
	return SettlementWithConfig(Config{})
}

// SettlementWithConfig returns the singleton settlement metrics registry using config labels.
// Only the first call decides the labels.
func SettlementWithConfig(cfg Config) *SettlementMetrics {
	settlementMetricsMu.Lock()
	defer settlementMetricsMu.Unlock()
	if settlementMetrics == nil {
		settlementMetrics = newSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	}
	return settlementMetrics
}

// ResetSettlementMetricsForTest swaps the singleton for one bound to a private registry.
func ResetSettlementMetricsForTest() *prometheus.Registry {
	settlementMetricsMu.Lock()
	defer settlementMetricsMu.Unlock()
	registry := prometheus.NewRegistry()
	settlementMetrics = newSettlementMetrics(registry, Config{})
	return registry
}

func newSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "settlement"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SettlementMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_job_runs_total",
			Help:        "Settlement scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "settlement_scheduler_job_duration_seconds",
			Help:        "Settlement sweep latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_job_timeouts_total",
			Help:        "Settlement sweeps that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_job_errors_total",
			Help:        "Settlement job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		vendorsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_scheduler_vendors_processed_total",
			Help:        "Vendors visited by a settlement sweep.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		batchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_batch_outcomes_total",
			Help:        "Payout batcher outcomes by batch type.",
			ConstLabels: constLabels,
		}, []string{"type", "outcome"}),
		claimRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "settlement_claim_retries_total",
			Help:        "Claims retried after losing a race for revenue events.",
			ConstLabels: constLabels,
		}),
		dbLockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "settlement_db_lock_wait_seconds",
			Help:        "Row lock wait time for settlement SELECT FOR UPDATE.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"resource"}),
		balanceUnderflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "settlement_balance_underflow_total",
			Help:        "Balance releases that would have driven a vendor balance negative.",
			ConstLabels: constLabels,
		}),
		outstandingBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "settlement_outstanding_payout_balance",
			Help:        "Sum of in-flight vendor payout balances in minor units.",
			ConstLabels: constLabels,
		}),
		pendingRevenue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "settlement_pending_revenue_amount",
			Help:        "Gross amount of completed revenue not yet included in a batch.",
			ConstLabels: constLabels,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "settlement_http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "settlement_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}

	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "settlement_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.vendorsProcessed,
		m.batchOutcomes,
		m.claimRetries,
		runLoopLag,
		m.dbLockWait,
		m.balanceUnderflows,
		m.outstandingBalance,
		m.pendingRevenue,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *SettlementMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SettlementMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SettlementMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with a classified reason.
func (m *SettlementMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *SettlementMetrics) AddVendorsProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.vendorsProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *SettlementMetrics) IncBatchOutcome(batchType, outcome string) {
	if m == nil {
		return
	}
	m.batchOutcomes.WithLabelValues(batchType, outcome).Inc()
}

func (m *SettlementMetrics) IncClaimRetry() {
	if m == nil {
		return
	}
	m.claimRetries.Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SettlementMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

func (m *SettlementMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

func (m *SettlementMetrics) IncBalanceUnderflow() {
	if m == nil {
		return
	}
	m.balanceUnderflows.Inc()
}

// SetLiabilities publishes the current outstanding balance and unsettled revenue.
func (m *SettlementMetrics) SetLiabilities(outstandingBalance, pendingRevenue int64) {
	if m == nil {
		return
	}
	m.outstandingBalance.Set(float64(outstandingBalance))
	m.pendingRevenue.Set(float64(pendingRevenue))
}

func (m *SettlementMetrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case errors.Is(err, authorization.ErrForbidden):
		return JobReasonForbidden
	case errors.Is(err, gorm.ErrRecordNotFound):
		return JobReasonNotFound
	case db.IsLockTimeoutErr(err):
		return JobReasonDBLockTimeout
	case db.IsSerializationFailureErr(err):
		return JobReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return JobReasonUniqueViolation
	case db.IsDBErr(err):
		return JobReasonUnknown
	default:
		return JobReasonBusinessRule
	}
}
