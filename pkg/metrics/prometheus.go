// Package metrics provides Prometheus metrics for the matchday scoring engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the scoring engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ingestion
	eventsAccepted     *prometheus.CounterVec
	eventsDuplicate    prometheus.Counter
	eventsInvalid      *prometheus.CounterVec
	eventsQuarantined  *prometheus.CounterVec
	eventsCorroborated prometheus.Counter
	quarantinePending  prometheus.Gauge
	corroborationWait  prometheus.Histogram

	// Scoring and ledger
	ruleEvaluationErrors *prometheus.CounterVec
	deltasAppended       *prometheus.CounterVec
	ledgerAppendLatency  prometheus.Histogram
	ledgerAppendErrors   prometheus.Counter
	matchesUnderReview   prometheus.Gauge
	matchStateChanges    *prometheus.CounterVec

	// Leases
	leaseWait     prometheus.Histogram
	leaseTimeouts prometheus.Counter

	// Corrections
	corrections *prometheus.CounterVec

	// Projections
	projectionRebuilds        *prometheus.CounterVec
	projectionRebuildDuration prometheus.Histogram
	projectionSnapshots       prometheus.Counter
	standingsRecords          prometheus.Gauge
	standingsQueryLatency     prometheus.Histogram

	// Provider queues and breakers
	queueSize      *prometheus.GaugeVec
	queueEnqueued  *prometheus.CounterVec
	queueAcked     *prometheus.CounterVec
	queueNacked    *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	breakerTrips   *prometheus.CounterVec
	partitionDepth *prometheus.GaugeVec

	// Tie-breaks
	tieBreaks *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	streamClients       prometheus.Gauge

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "matchday",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.eventsAccepted = m.counterVec("events_accepted_total", "Events appended to a match ledger", "sport")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Events dropped by the idempotency window")
	m.eventsInvalid = m.counterVec("events_invalid_total", "Events rejected by validation", "field")
	m.eventsQuarantined = m.counterVec("events_quarantined_total", "Events held for manual review", "reason")
	m.eventsCorroborated = m.counter("events_corroborated_total", "Events absorbed as corroboration of an existing fact")
	m.quarantinePending = m.gauge("quarantine_pending", "Quarantined events awaiting a decision")
	m.corroborationWait = m.histogram("corroboration_wait_milliseconds", "Time low-trust events waited for corroboration", m.histogramBuckets)

	m.ruleEvaluationErrors = m.counterVec("rule_evaluation_errors_total", "Rule evaluation failures", "sport")
	m.deltasAppended = m.counterVec("deltas_appended_total", "Point deltas appended to the ledger", "kind")
	m.ledgerAppendLatency = m.histogram("ledger_append_latency_milliseconds", "Ledger append latency", m.histogramBuckets)
	m.ledgerAppendErrors = m.counter("ledger_append_errors_total", "Failed ledger appends")
	m.matchesUnderReview = m.gauge("matches_under_review", "Matches currently flagged UNDER_REVIEW")
	m.matchStateChanges = m.counterVec("match_state_changes_total", "Match state transitions", "to")

	m.leaseWait = m.histogram("lease_wait_milliseconds", "Time spent waiting for a match lease", m.histogramBuckets)
	m.leaseTimeouts = m.counter("lease_timeouts_total", "Match lease acquisitions that timed out")

	m.corrections = m.counterVec("corrections_total", "Corrections by outcome", "status")

	m.projectionRebuilds = m.counterVec("projection_rebuilds_total", "Projection rebuilds by result", "result")
	m.projectionRebuildDuration = m.histogram("projection_rebuild_duration_milliseconds", "Projection rebuild duration", m.histogramBuckets)
	m.projectionSnapshots = m.counter("projection_snapshots_total", "Projection snapshots written")
	m.standingsRecords = m.gauge("standings_records", "Players tracked across season standings")
	m.standingsQueryLatency = m.histogram("standings_query_latency_milliseconds", "Standings query latency", m.histogramBuckets)

	m.queueSize = m.gaugeVec("queue_size", "Messages waiting in a provider queue", "provider")
	m.queueEnqueued = m.counterVec("queue_enqueued_total", "Messages enqueued per provider", "provider")
	m.queueAcked = m.counterVec("queue_acked_total", "Messages acknowledged per provider", "provider")
	m.queueNacked = m.counterVec("queue_nacked_total", "Messages returned for redelivery per provider", "provider")
	m.breakerState = m.gaugeVec("breaker_state", "Circuit breaker state (0 closed, 1 half-open, 2 open)", "provider")
	m.breakerTrips = m.counterVec("breaker_trips_total", "Circuit breaker transitions to OPEN", "provider")
	m.partitionDepth = m.gaugeVec("partition_depth", "Pending jobs per match partition worker", "partition")

	m.tieBreaks = m.counterVec("tiebreaks_total", "Tie-break resolutions by deciding criterion", "criterion")

	auto := promauto.With(m.registry)
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.streamClients = m.gauge("stream_clients", "Connected websocket notification clients")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ingestion metrics.

// RecordEventAccepted increments the accepted events counter for a sport.
func RecordEventAccepted(sport string) {
	globalManager.eventsAccepted.WithLabelValues(sport).Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventInvalid increments the invalid events counter for the failing field.
func RecordEventInvalid(field string) {
	globalManager.eventsInvalid.WithLabelValues(field).Inc()
}

// RecordEventQuarantined increments the quarantined events counter.
func RecordEventQuarantined(reason string) {
	globalManager.eventsQuarantined.WithLabelValues(reason).Inc()
}

// RecordEventCorroborated increments the corroborated events counter.
func RecordEventCorroborated() {
	globalManager.eventsCorroborated.Inc()
}

// UpdateQuarantinePending sets the number of undecided quarantine records.
func UpdateQuarantinePending(n int) {
	globalManager.quarantinePending.Set(float64(n))
}

// RecordCorroborationWait records how long a low-trust event waited.
func RecordCorroborationWait(ms float64) {
	globalManager.corroborationWait.Observe(ms)
}

// Scoring and ledger metrics.

// RecordRuleEvaluationError increments rule evaluation failures for a sport.
func RecordRuleEvaluationError(sport string) {
	globalManager.ruleEvaluationErrors.WithLabelValues(sport).Inc()
}

// RecordDeltasAppended adds n appended deltas of the given kind.
func RecordDeltasAppended(kind string, n int) {
	globalManager.deltasAppended.WithLabelValues(kind).Add(float64(n))
}

// RecordLedgerAppend records a ledger append latency.
func RecordLedgerAppend(latencyMs float64) {
	globalManager.ledgerAppendLatency.Observe(latencyMs)
}

// RecordLedgerAppendError increments failed ledger appends.
func RecordLedgerAppendError() {
	globalManager.ledgerAppendErrors.Inc()
}

// AddMatchesUnderReview moves the under-review gauge by delta.
func AddMatchesUnderReview(delta int) {
	globalManager.matchesUnderReview.Add(float64(delta))
}

// RecordMatchStateChange increments transitions into a state.
func RecordMatchStateChange(to string) {
	globalManager.matchStateChanges.WithLabelValues(to).Inc()
}

// Lease metrics.

// RecordLeaseWait records time spent waiting for a lease.
func RecordLeaseWait(ms float64) {
	globalManager.leaseWait.Observe(ms)
}

// RecordLeaseTimeout increments lease timeouts.
func RecordLeaseTimeout() {
	globalManager.leaseTimeouts.Inc()
}

// RecordCorrection increments corrections by status.
func RecordCorrection(status string) {
	globalManager.corrections.WithLabelValues(status).Inc()
}

// Projection metrics.

// RecordProjectionRebuild records a rebuild result and duration.
func RecordProjectionRebuild(result string, ms float64) {
	globalManager.projectionRebuilds.WithLabelValues(result).Inc()
	globalManager.projectionRebuildDuration.Observe(ms)
}

// IncrementProjectionSnapshots increments written snapshots.
func IncrementProjectionSnapshots() {
	globalManager.projectionSnapshots.Inc()
}

// UpdateStandingsRecords sets the number of players tracked in standings.
func UpdateStandingsRecords(n int) {
	globalManager.standingsRecords.Set(float64(n))
}

// RecordStandingsQueryLatency records a standings query latency.
func RecordStandingsQueryLatency(ms float64) {
	globalManager.standingsQueryLatency.Observe(ms)
}

// Queue and breaker metrics.

// UpdateQueueSize sets the current queue size for a provider.
func UpdateQueueSize(provider string, size int) {
	globalManager.queueSize.WithLabelValues(provider).Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue(provider string) {
	globalManager.queueEnqueued.WithLabelValues(provider).Inc()
}

// RecordQueueAck increments the ack counter.
func RecordQueueAck(provider string) {
	globalManager.queueAcked.WithLabelValues(provider).Inc()
}

// RecordQueueNack increments the nack counter.
func RecordQueueNack(provider string) {
	globalManager.queueNacked.WithLabelValues(provider).Inc()
}

// UpdateBreakerState publishes a breaker state (0 closed, 1 half-open, 2 open).
func UpdateBreakerState(provider string, state int) {
	globalManager.breakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordBreakerTrip increments trips to OPEN.
func RecordBreakerTrip(provider string) {
	globalManager.breakerTrips.WithLabelValues(provider).Inc()
}

// UpdatePartitionDepth sets the pending job count of a partition worker.
func UpdatePartitionDepth(partition string, depth int) {
	globalManager.partitionDepth.WithLabelValues(partition).Set(float64(depth))
}

// RecordTieBreak increments resolutions decided by criterion.
func RecordTieBreak(criterion string) {
	globalManager.tieBreaks.WithLabelValues(criterion).Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// AddStreamClients moves the websocket client gauge by delta.
func AddStreamClients(delta int) {
	globalManager.streamClients.Add(float64(delta))
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
