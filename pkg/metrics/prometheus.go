package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the racefeed service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Device connections
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionErrors    prometheus.Counter
	listenerRunning     prometheus.Gauge

	// Line and record flow
	linesReceived     prometheus.Counter
	pingsAnswered     prometheus.Counter
	recordsMalformed  prometheus.Counter
	gunTimesDiscarded prometheus.Counter
	readsMatched      prometheus.Counter
	readsUnmatched    prometheus.Counter
	readsReplayed     prometheus.Counter

	// Broadcast fan-out
	resultsPublished prometheus.Counter
	resultsDropped   prometheus.Counter
	heartbeatsSent   prometheus.Counter
	subscribers      prometheus.Gauge

	// Persistence
	readsStored        prometheus.Counter
	persistenceErrors  *prometheus.CounterVec
	persistQueueSize   prometheus.Gauge
	persistQueueCap    prometheus.Gauge
	persistLatency     prometheus.Histogram
	persistWorkerCount prometheus.Gauge

	// Roster
	rosterEntries      prometheus.Gauge
	rosterLoadDuration prometheus.Histogram
	rosterPageErrors   prometheus.Counter
	rosterLoadFailures prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors by component
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
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
		namespace:        "racefeed",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.connectionsAccepted = m.counter("connections_accepted_total", "Timing device connections accepted")
	m.connectionsActive = m.gauge("connections_active", "Timing device connections currently open")
	m.connectionErrors = m.counter("connection_errors_total", "Device connections ended by a transport error")
	m.listenerRunning = m.gauge("listener_running", "1 while the device listener accepts connections")

	m.linesReceived = m.counter("lines_received_total", "Protocol lines read from devices")
	m.pingsAnswered = m.counter("pings_answered_total", "Device pings answered with ack")
	m.recordsMalformed = m.counter("records_malformed_total", "Lines rejected by the record parser")
	m.gunTimesDiscarded = m.counter("guntimes_discarded_total", "Gun time pulses discarded")
	m.readsMatched = m.counter("reads_matched_total", "Reads whose bib matched the roster")
	m.readsUnmatched = m.counter("reads_unmatched_total", "Reads whose bib was not in the roster")
	m.readsReplayed = m.counter("reads_replayed_total", "Matched reads suppressed as device replays")

	m.resultsPublished = m.counter("results_published_total", "Processed results published to the hub")
	m.resultsDropped = m.counter("results_dropped_total", "Per-subscriber deliveries dropped on a full queue")
	m.heartbeatsSent = m.counter("heartbeats_total", "Heartbeats handed to idle stream consumers")
	m.subscribers = m.gauge("subscribers", "Live stream subscribers")

	m.readsStored = m.counter("reads_stored_total", "Reads upserted into storage")
	m.persistenceErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("persistence_errors_total"),
			Help:        "Persistence failures by stage",
			ConstLabels: m.customLabels,
		},
		[]string{"stage"},
	)
	m.persistQueueSize = m.gauge("persist_queue_size", "Reads waiting to be stored")
	m.persistQueueCap = m.gauge("persist_queue_capacity", "Capacity of the persistence queue")
	m.persistLatency = m.histogram("persist_latency_milliseconds", "Store latency per read in milliseconds", m.histogramBuckets)
	m.persistWorkerCount = m.gauge("persist_workers", "Persistence writer goroutines")

	m.rosterEntries = m.gauge("roster_entries", "Entries in the current roster snapshot")
	m.rosterLoadDuration = m.histogram("roster_load_seconds", "Roster load duration in seconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120})
	m.rosterPageErrors = m.counter("roster_page_errors_total", "Roster pages that failed to load")
	m.rosterLoadFailures = m.counter("roster_load_failures_total", "Roster loads that failed outright")

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_component_total"),
			Help:        "Errors by component and error type",
			ConstLabels: m.customLabels,
		},
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// Connection metrics.

// RecordConnectionAccepted counts a new device connection and raises the active gauge.
func RecordConnectionAccepted() {
	globalManager.connectionsAccepted.Inc()
	globalManager.connectionsActive.Inc()
}

// RecordConnectionClosed lowers the active gauge.
func RecordConnectionClosed() {
	globalManager.connectionsActive.Dec()
}

// RecordConnectionError counts transport errors of connections and of the accept loop.
func RecordConnectionError() {
	globalManager.connectionErrors.Inc()
}

// UpdateListenerRunning sets the listener state gauge.
func UpdateListenerRunning(running bool) {
	if running {
		globalManager.listenerRunning.Set(1)
		return
	}
	globalManager.listenerRunning.Set(0)
}

// Record flow metrics.

// RecordLineReceived increments the lines counter.
func RecordLineReceived() {
	globalManager.linesReceived.Inc()
}

// RecordPingAnswered increments the ping counter.
func RecordPingAnswered() {
	globalManager.pingsAnswered.Inc()
}

// RecordMalformed increments the parser rejection counter.
func RecordMalformed() {
	globalManager.recordsMalformed.Inc()
}

// RecordGunTime increments the discarded gun time counter.
func RecordGunTime() {
	globalManager.gunTimesDiscarded.Inc()
}

// RecordMatched increments the matched read counter.
func RecordMatched() {
	globalManager.readsMatched.Inc()
}

// RecordUnmatched increments the unmatched read counter.
func RecordUnmatched() {
	globalManager.readsUnmatched.Inc()
}

// RecordReplayed increments the replayed read counter.
func RecordReplayed() {
	globalManager.readsReplayed.Inc()
}

// Broadcast metrics.

// RecordPublished increments the published results counter.
func RecordPublished() {
	globalManager.resultsPublished.Inc()
}

// RecordDropped increments the per-subscriber drop counter.
func RecordDropped() {
	globalManager.resultsDropped.Inc()
}

// RecordHeartbeat increments the heartbeat counter.
func RecordHeartbeat() {
	globalManager.heartbeatsSent.Inc()
}

// UpdateSubscribers sets the live subscriber gauge.
func UpdateSubscribers(count int) {
	globalManager.subscribers.Set(float64(count))
}

// Persistence metrics.

// RecordReadStored increments the stored read counter and observes latency.
func RecordReadStored(latencyMs float64) {
	globalManager.readsStored.Inc()
	globalManager.persistLatency.Observe(latencyMs)
}

// RecordPersistenceError counts a persistence failure at a given stage.
func RecordPersistenceError(stage string) {
	globalManager.persistenceErrors.WithLabelValues(stage).Inc()
}

// UpdatePersistQueue sets the persistence queue depth and capacity.
func UpdatePersistQueue(size, capacity int) {
	globalManager.persistQueueSize.Set(float64(size))
	globalManager.persistQueueCap.Set(float64(capacity))
}

// UpdatePersistWorkers sets the writer goroutine gauge.
func UpdatePersistWorkers(count int) {
	globalManager.persistWorkerCount.Set(float64(count))
}

// Roster metrics.

// UpdateRosterEntries sets the roster size gauge.
func UpdateRosterEntries(count int) {
	globalManager.rosterEntries.Set(float64(count))
}

// RecordRosterLoad observes a roster load duration.
func RecordRosterLoad(d time.Duration) {
	globalManager.rosterLoadDuration.Observe(d.Seconds())
}

// RecordRosterPageError counts a failed roster page.
func RecordRosterPageError() {
	globalManager.rosterPageErrors.Inc()
}

// RecordRosterLoadFailure counts a roster load that failed on its first page.
func RecordRosterLoadFailure() {
	globalManager.rosterLoadFailures.Inc()
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

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
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

// RefreshInterval is how often callers should refresh the polled gauges
// (memory, goroutines, subscribers, queue depth).
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

// RefreshInterval returns the refresh interval of the global manager.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
