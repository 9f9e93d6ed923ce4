package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for catalog builds. A Metrics created
// with collection disabled is a valid no-op.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	catalogsBuilt *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec

	// Compiler metrics
	compilations    *prometheus.CounterVec
	compileDuration prometheus.Histogram

	// Cache metrics
	cacheLookups *prometheus.CounterVec
	cacheEntries prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		catalogsBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalogs_built_total",
				Help:      "Total number of catalog builds by subject kind and outcome",
			},
			[]string{"kind", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of catalog builds including cache lookups",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		compilations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compilations_total",
				Help:      "Total number of compiler invocations",
			},
			[]string{"status"},
		),
		compileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Duration of compiler invocations in seconds",
				Buckets:   buckets,
			},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of catalog cache lookups",
			},
			[]string{"result"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Current number of cached catalogs",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.catalogsBuilt,
		m.buildDuration,
		m.compilations,
		m.compileDuration,
		m.cacheLookups,
		m.cacheEntries,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RecordBuild records a finished catalog build.
func (m *Metrics) RecordBuild(kind, status string, duration time.Duration) {
	if m == nil || m.catalogsBuilt == nil {
		return
	}
	m.catalogsBuilt.WithLabelValues(kind, status).Inc()
	m.buildDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCompilation records one compiler invocation.
func (m *Metrics) RecordCompilation(status string, duration time.Duration) {
	if m == nil || m.compilations == nil {
		return
	}
	m.compilations.WithLabelValues(status).Inc()
	m.compileDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries sets the current number of cached catalogs.
func (m *Metrics) SetCacheEntries(count int) {
	if m == nil || m.cacheEntries == nil {
		return
	}
	m.cacheEntries.Set(float64(count))
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// shutdown function stops it; it is a no-op when metrics are disabled.
func (m *Metrics) StartMetricsServer(errCh chan<- error) (shutdown func(context.Context) error) {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return func(context.Context) error { return nil }
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if errCh != nil {
				errCh <- err
			}
		}
	}()

	return server.Shutdown
}
