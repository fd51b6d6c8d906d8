package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Call metrics
	CallsTotal    *prometheus.CounterVec
	CallAttempts  *prometheus.HistogramVec
	CallDuration  *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec

	// Resilience state
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
	AdmissionActive     *prometheus.GaugeVec
	AdmissionWaiting    *prometheus.GaugeVec
	CacheEntries        *prometheus.GaugeVec

	// Job metrics
	JobsTotal   *prometheus.CounterVec
	JobPolls    *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
	// Registry defaults to the global Prometheus registry
	Registry *prometheus.Registry `json:"-"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "voxgate",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "calls_total",
				Help:      "Total number of orchestrated external calls by outcome",
			},
			[]string{"operation", "outcome"},
		),
		CallAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "call_attempts",
				Help:      "Number of attempts made per orchestrated call",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"operation"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "call_duration_seconds",
				Help:      "Orchestrated call duration in seconds, retries included",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "outcome"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"operation", "result"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "rate_limit_rejections_total",
				Help:      "Calls rejected by the local rate limiter",
			},
			[]string{"operation"},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_open",
				Help:      "1 when the circuit breaker is open, 0 when closed",
			},
			[]string{"breaker"},
		),
		CircuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_trips_total",
				Help:      "Number of times the circuit breaker opened",
			},
			[]string{"breaker"},
		),
		AdmissionActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "admission_active",
				Help:      "Admission slots currently held",
			},
			[]string{"gate"},
		),
		AdmissionWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "admission_waiting",
				Help:      "Callers queued for an admission slot",
			},
			[]string{"gate"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_entries",
				Help:      "Entries held by the response cache",
			},
			[]string{"cache"},
		),

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "jobs_total",
				Help:      "Transcription jobs by terminal outcome",
			},
			[]string{"outcome"},
		),
		JobPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "job_polls_total",
				Help:      "Job status fetches by reported status",
			},
			[]string{"status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "job_duration_seconds",
				Help:      "Transcription job duration in seconds, upload to terminal status",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors by component and code",
			},
			[]string{"component", "code"},
		),
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	m.gatherer = prometheus.DefaultGatherer
	if config.Registry != nil {
		registerer = config.Registry
		m.gatherer = config.Registry
	}

	// Register all metrics
	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CallsTotal,
		m.CallAttempts,
		m.CallDuration,
		m.CacheLookups,
		m.RateLimitHits,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.AdmissionActive,
		m.AdmissionWaiting,
		m.CacheEntries,
		m.JobsTotal,
		m.JobPolls,
		m.JobDuration,
		m.ErrorsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordCall records the outcome of one orchestrated call
func (m *Metrics) RecordCall(operation, outcome string, attempts int, duration time.Duration) {
	if m == nil || m.CallsTotal == nil {
		return
	}

	m.CallsTotal.WithLabelValues(operation, outcome).Inc()
	m.CallDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
	if attempts > 0 {
		m.CallAttempts.WithLabelValues(operation).Observe(float64(attempts))
	}
}

// RecordCacheLookup records a response cache hit or miss
func (m *Metrics) RecordCacheLookup(operation string, hit bool) {
	if m == nil || m.CacheLookups == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(operation, result).Inc()
}

// RecordRateLimited records a local rate limiter rejection
func (m *Metrics) RecordRateLimited(operation string) {
	if m == nil || m.RateLimitHits == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(operation).Inc()
}

// RecordBreakerState records a circuit breaker transition
func (m *Metrics) RecordBreakerState(breaker string, open bool) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}

	if open {
		m.CircuitBreakerState.WithLabelValues(breaker).Set(1)
		m.CircuitBreakerTrips.WithLabelValues(breaker).Inc()
		return
	}
	m.CircuitBreakerState.WithLabelValues(breaker).Set(0)
}

// UpdateBreakerState sets the breaker gauge without counting a trip
func (m *Metrics) UpdateBreakerState(breaker string, open bool) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.CircuitBreakerState.WithLabelValues(breaker).Set(value)
}

// UpdateAdmission records admission gate occupancy
func (m *Metrics) UpdateAdmission(gate string, active, waiting int) {
	if m == nil || m.AdmissionActive == nil {
		return
	}
	m.AdmissionActive.WithLabelValues(gate).Set(float64(active))
	m.AdmissionWaiting.WithLabelValues(gate).Set(float64(waiting))
}

// UpdateCacheEntries records the response cache size
func (m *Metrics) UpdateCacheEntries(cache string, entries int) {
	if m == nil || m.CacheEntries == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cache).Set(float64(entries))
}

// RecordJobPoll records one job status fetch
func (m *Metrics) RecordJobPoll(status string) {
	if m == nil || m.JobPolls == nil {
		return
	}
	m.JobPolls.WithLabelValues(status).Inc()
}

// RecordJob records a transcription job reaching a terminal outcome
func (m *Metrics) RecordJob(outcome string, duration time.Duration) {
	if m == nil || m.JobsTotal == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, code string) {
	if m == nil || m.ErrorsTotal == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// MetricsCollector samples gauges periodically
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	sample   func(*Metrics)
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *Metrics, interval time.Duration, sample func(*Metrics)) *MetricsCollector {
	return &MetricsCollector{
		metrics:  metrics,
		interval: interval,
		sample:   sample,
		stopCh:   make(chan struct{}),
	}
}

// Start begins metrics collection
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.collectMetrics()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
}

func (mc *MetricsCollector) collectMetrics() {
	if mc.sample != nil {
		mc.sample(mc.metrics)
	}
}
