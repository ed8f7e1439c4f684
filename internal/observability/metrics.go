// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ourtube"

// Metrics holds all application metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted    prometheus.Counter
	SessionsFinished   prometheus.Counter
	SessionsFailed     *prometheus.CounterVec
	SessionsInProgress prometheus.Gauge
	SessionDuration    prometheus.Histogram
	FinalizedBytes     prometheus.Counter

	// Hub metrics
	HubClients        prometheus.Gauge
	HubMessages       prometheus.Counter
	HubDroppedClients prometheus.Counter

	// Storage metrics
	CleanupFilesTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Engine metrics
	EngineRequestsTotal *prometheus.CounterVec
	EngineErrors        *prometheus.CounterVec

	// Mirror metrics
	MirrorUploads *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates all application metrics and registers them with reg.
// A nil reg uses a fresh registry, which keeps tests independent of each other.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	metrics := &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Total number of download sessions started",
		}),
		SessionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "finished_total",
			Help:      "Total number of download sessions finalized successfully",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "failed_total",
			Help:      "Total number of download sessions that failed, by reason",
		}, []string{"reason"}),
		SessionsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "in_progress",
			Help:      "Number of download sessions currently running",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "Histogram of session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		FinalizedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "finalized_bytes_total",
			Help:      "Total bytes moved into the public directory",
		}),

		HubClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Number of connected broadcast clients",
		}),
		HubMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Total number of events broadcast",
		}),
		HubDroppedClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_clients_total",
			Help:      "Total number of clients removed after a failed send",
		}),

		CleanupFilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_files_total",
			Help:      "Total number of expired entries removed, by area",
		}, []string{"area"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		}, []string{"method", "path"}),

		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of engine runs made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		EngineRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Total number of engine invocations",
		}, []string{"engine", "op", "status"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total number of engine errors",
		}, []string{"engine", "error_type"}),

		MirrorUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "uploads_total",
			Help:      "Total number of mirror uploads, by status",
		}, []string{"status"}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		metrics.gatherer = g
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for the registry the metrics were created with.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionTimer returns a function to record session duration.
func (m *Metrics) SessionTimer() func() {
	start := time.Now()

	return func() {
		m.SessionDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordSessionStarted increments the sessions started counter.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionsInProgress.Inc()
}

// RecordSessionFinished records a finalized session and the size of its artifact.
func (m *Metrics) RecordSessionFinished(size int64) {
	m.SessionsFinished.Inc()
	m.SessionsInProgress.Dec()
	m.FinalizedBytes.Add(float64(size))
}

// RecordSessionFailed records a failed session.
func (m *Metrics) RecordSessionFailed(reason string) {
	m.SessionsFailed.WithLabelValues(reason).Inc()
	m.SessionsInProgress.Dec()
}

// RecordCleanup records removed entries for the given area ("staging" or "public").
func (m *Metrics) RecordCleanup(area string, count int) {
	m.CleanupFilesTotal.WithLabelValues(area).Add(float64(count))
}

// RecordEngineRequest records an engine invocation.
func (m *Metrics) RecordEngineRequest(engine, op, status string) {
	m.EngineRequestsTotal.WithLabelValues(engine, op, status).Inc()
}

// RecordEngineError records an engine error.
func (m *Metrics) RecordEngineError(engine, errorType string) {
	m.EngineErrors.WithLabelValues(engine, errorType).Inc()
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	m.ProxiesAvailable.Set(float64(count))
}

// SetHubClients sets the number of connected clients.
func (m *Metrics) SetHubClients(count int) {
	m.HubClients.Set(float64(count))
}

// RecordBroadcast records one broadcast event and the clients it dropped.
func (m *Metrics) RecordBroadcast(dropped int) {
	m.HubMessages.Inc()
	m.HubDroppedClients.Add(float64(dropped))
}

// RecordMirrorUpload records a mirror upload outcome.
func (m *Metrics) RecordMirrorUpload(status string) {
	m.MirrorUploads.WithLabelValues(status).Inc()
}
