package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "production_control"

// Metrics stores Prometheus collectors used by the API and the worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	jobsProcessedTotal  *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	jobsInflight        *prometheus.GaugeVec
	jobRetriesTotal     *prometheus.CounterVec
	webhookDeliveries   *prometheus.CounterVec
	webhookSendDuration *prometheus.HistogramVec
	sweepItemsTotal     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "jobs_processed_total",
				Help:      "Total number of job runs grouped by kind and resulting status.",
			},
			[]string{"kind", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "job_duration_seconds",
				Help:      "Job run duration in seconds grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
			},
			[]string{"kind"},
		),
		jobsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "jobs_inflight",
				Help:      "Current number of running jobs grouped by kind.",
			},
			[]string{"kind"},
		),
		jobRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_retries_total",
				Help:      "Total number of job retries scheduled.",
			},
			[]string{"kind"},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts grouped by event and outcome.",
			},
			[]string{"event", "outcome"},
		),
		webhookSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_send_duration_seconds",
				Help:      "Webhook HTTP send duration in seconds grouped by event.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"event"},
		),
		sweepItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweep_items_total",
				Help:      "Total number of items handled by scheduled sweeps.",
			},
			[]string{"sweep"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsProcessedTotal,
		m.jobDuration,
		m.jobsInflight,
		m.jobRetriesTotal,
		m.webhookDeliveries,
		m.webhookSendDuration,
		m.sweepItemsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.jobsInflight.WithLabelValues(normalizeLabel(kind)).Inc()
}

// JobFinished records one run of kind ending in status after duration.
func (m *Metrics) JobFinished(kind string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	kindLabel := normalizeLabel(kind)
	m.jobsInflight.WithLabelValues(kindLabel).Dec()
	m.jobsProcessedTotal.WithLabelValues(kindLabel, normalizeLabel(status)).Inc()
	m.jobDuration.WithLabelValues(kindLabel).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncJobRetry(kind string) {
	if m == nil {
		return
	}
	m.jobRetriesTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) ObserveWebhookDelivery(event string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	eventLabel := normalizeLabel(event)
	m.webhookDeliveries.WithLabelValues(eventLabel, normalizeLabel(outcome)).Inc()
	if duration > 0 {
		m.webhookSendDuration.WithLabelValues(eventLabel).Observe(duration.Seconds())
	}
}

func (m *Metrics) AddSweepItems(sweep string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepItemsTotal.WithLabelValues(normalizeLabel(sweep)).Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
