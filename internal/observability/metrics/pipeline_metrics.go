package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonStoreUnavailable     = "store_unavailable"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

const (
	DebounceEnqueued       = "enqueued"
	DebounceQueued         = "already_queued"
	DebounceTooSoon        = "too_soon"
	DebounceDisabled       = "disabled"
	DebounceRequestClass   = "request_class"
	DebounceQueueFull      = "queue_full"
	DebounceStoreError     = "store_error"
	TriggerFlushAggregate  = "flush_aggregate"
	TriggerInventoryScan   = "inventory_scan"
	PruneTableUsageDaily   = "usage_daily"
	PruneTableUsageMonthly = "usage_monthly"
)

// PipelineMetrics captures accumulator, debounce and background job health.
type PipelineMetrics struct {
	increments        prometheus.Counter
	incrementErrors   prometheus.Counter
	debounce          *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobTimeouts       *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	jobLockSkips      *prometheus.CounterVec
	runLoopLag        prometheus.Observer
	flushResources    prometheus.Counter
	flushHits         prometheus.Counter
	aggregatedMonths  prometheus.Counter
	aggregatedRows    prometheus.Counter
	aggregatedHits    prometheus.Counter
	prunedRows        *prometheus.CounterVec
	debounceCounters  map[string]map[string]prometheus.Counter
	prunedRowCounters map[string]prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "lantern"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	increments := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_accumulator_increments_total",
		Help:        "Hot-path increments applied to the accumulator.",
		ConstLabels: constLabels,
	})
	incrementErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_accumulator_increment_errors_total",
		Help:        "Hot-path increments rejected by the accumulator store.",
		ConstLabels: constLabels,
	})
	debounce := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lantern_debounce_decisions_total",
		Help:        "Debounce decisions per trigger.",
		ConstLabels: constLabels,
	}, []string{"trigger", "decision"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lantern_job_runs_total",
		Help:        "Background job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "lantern_job_duration_seconds",
		Help:        "Background job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lantern_job_timeouts_total",
		Help:        "Background job timeouts.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lantern_job_errors_total",
		Help:        "Background job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobLockSkips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lantern_job_lock_skips_total",
		Help:        "Background job runs skipped because another instance held the lock.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "lantern_worker_runloop_lag_seconds",
		Help:        "Worker run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	flushResources := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_flush_resources_total",
		Help:        "Resources merged into durable storage by flush.",
		ConstLabels: constLabels,
	})
	flushHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_flush_hits_total",
		Help:        "Hits merged into durable storage by flush.",
		ConstLabels: constLabels,
	})
	aggregatedMonths := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_aggregate_months_total",
		Help:        "Tenant months rolled up into monthly storage.",
		ConstLabels: constLabels,
	})
	aggregatedRows := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_aggregate_resources_total",
		Help:        "Monthly rows written by aggregation.",
		ConstLabels: constLabels,
	})
	aggregatedHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "lantern_aggregate_hits_total",
		Help:        "Hits rolled up into monthly storage.",
		ConstLabels: constLabels,
	})
	prunedRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "lantern_pruned_rows_total",
		Help:        "Rows deleted by retention pruning.",
		ConstLabels: constLabels,
	}, []string{"table"})

	registerer.MustRegister(
		increments,
		incrementErrors,
		debounce,
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		jobLockSkips,
		runLoopLag,
		flushResources,
		flushHits,
		aggregatedMonths,
		aggregatedRows,
		aggregatedHits,
		prunedRows,
	)

	debounceCounters := map[string]map[string]prometheus.Counter{}
	for _, trigger := range []string{TriggerFlushAggregate, TriggerInventoryScan} {
		decisions := map[string]prometheus.Counter{}
		for _, decision := range []string{
			DebounceEnqueued,
			DebounceQueued,
			DebounceTooSoon,
			DebounceDisabled,
			DebounceRequestClass,
			DebounceQueueFull,
			DebounceStoreError,
		} {
			decisions[decision] = debounce.WithLabelValues(trigger, decision)
		}
		debounceCounters[trigger] = decisions
	}

	prunedRowCounters := map[string]prometheus.Counter{
		PruneTableUsageDaily:   prunedRows.WithLabelValues(PruneTableUsageDaily),
		PruneTableUsageMonthly: prunedRows.WithLabelValues(PruneTableUsageMonthly),
	}

	return &PipelineMetrics{
		increments:       increments,
		incrementErrors:  incrementErrors,
		debounce:         debounce,
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		jobLockSkips:     jobLockSkips,
		runLoopLag:       runLoopLag,
		flushResources:   flushResources,
		flushHits:        flushHits,
		aggregatedMonths: aggregatedMonths,
		aggregatedRows:   aggregatedRows,
		aggregatedHits:   aggregatedHits,
		prunedRows:       prunedRows,
		debounceCounters: debounceCounters,

		prunedRowCounters: prunedRowCounters,
	}
}

// IncIncrement records a hot-path increment outcome.
func (m *PipelineMetrics) IncIncrement(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.incrementErrors.Inc()
		return
	}
	m.increments.Inc()
}

// IncDebounce records a trigger decision.
func (m *PipelineMetrics) IncDebounce(trigger, decision string) {
	if m == nil {
		return
	}
	if decisions, ok := m.debounceCounters[trigger]; ok {
		if counter, ok := decisions[decision]; ok {
			counter.Inc()
			return
		}
	}
	m.debounce.WithLabelValues(trigger, decision).Inc()
}

// IncJobRun increments the run counter for a job.
func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records job latency in seconds.
func (m *PipelineMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *PipelineMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *PipelineMetrics) IncJobLockSkip(job string) {
	if m == nil {
		return
	}
	m.jobLockSkips.WithLabelValues(job).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *PipelineMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// AddFlushed records the size of a committed flush.
func (m *PipelineMetrics) AddFlushed(resources int, hits int64) {
	if m == nil || resources <= 0 {
		return
	}
	m.flushResources.Add(float64(resources))
	if hits > 0 {
		m.flushHits.Add(float64(hits))
	}
}

// AddAggregated records one committed month rollup.
func (m *PipelineMetrics) AddAggregated(resources int, hits int64) {
	if m == nil {
		return
	}
	m.aggregatedMonths.Inc()
	if resources > 0 {
		m.aggregatedRows.Add(float64(resources))
	}
	if hits > 0 {
		m.aggregatedHits.Add(float64(hits))
	}
}

// AddPruned records rows removed from table.
func (m *PipelineMetrics) AddPruned(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	if counter, ok := m.prunedRowCounters[table]; ok {
		counter.Add(float64(rows))
		return
	}
	m.prunedRows.WithLabelValues(table).Add(float64(rows))
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	if isStoreError(err) {
		return JobReasonStoreUnavailable
	}
	if isDBError(err) {
		return JobReasonDB
	}
	return JobReasonUnknown
}

// IsRetryable reports whether the next scheduled run may succeed without intervention.
func IsRetryable(err error) bool {
	switch ClassifyJobReason(err) {
	case JobReasonDeadlineExceeded, JobReasonDBLockTimeout, JobReasonSerializationFailure, JobReasonStoreUnavailable:
		return true
	default:
		return false
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isStoreError(err error) bool {
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
