package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the alert pipeline and its HTTP
// surface. A nil *Metrics is safe to call; every method no-ops.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	alertsIngested  *prometheus.CounterVec
	alertsShown     prometheus.Counter
	queueDepth      prometheus.Gauge
	pollErrors      prometheus.Counter
	overlayClients  prometheus.Gauge
	broadcastDrops  prometheus.Counter
	webhookRejected prometheus.Counter
	rateLimited     prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "overlay",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		alertsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "alerts_ingested_total",
			Help:      "Alerts accepted into the queue, by source and kind",
		}, []string{"source", "kind"}),
		alertsShown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "alerts_shown_total",
			Help:      "Alerts promoted to the screen",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlay",
			Name:      "queue_depth",
			Help:      "Alerts currently waiting in the queue",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "poll_errors_total",
			Help:      "Failed channel-info poll attempts",
		}),
		overlayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlay",
			Name:      "ws_clients",
			Help:      "Connected overlay WebSocket clients",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "broadcast_drops_total",
			Help:      "Overlay frames dropped due to slow clients",
		}),
		webhookRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "webhook_rejected_total",
			Help:      "Webhook deliveries rejected for bad or missing signatures",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "http_rate_limited_total",
			Help:      "HTTP requests rejected due to rate limiting",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.alertsIngested,
		m.alertsShown,
		m.queueDepth,
		m.pollErrors,
		m.overlayClients,
		m.broadcastDrops,
		m.webhookRejected,
		m.rateLimited,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncAlertsIngested counts an alert accepted into the queue.
func (m *Metrics) IncAlertsIngested(source, kind string) {
	if m == nil {
		return
	}
	m.alertsIngested.WithLabelValues(source, kind).Inc()
}

// IncAlertsShown counts an alert promoted to the screen.
func (m *Metrics) IncAlertsShown() {
	if m == nil {
		return
	}
	m.alertsShown.Inc()
}

// SetQueueDepth reports the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// IncPollErrors counts a failed channel-info poll.
func (m *Metrics) IncPollErrors() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

// IncOverlayClients adjusts the overlay client gauge by delta.
func (m *Metrics) IncOverlayClients(delta float64) {
	if m == nil {
		return
	}
	m.overlayClients.Add(delta)
}

// IncBroadcastDrops counts an overlay frame dropped on a slow client.
func (m *Metrics) IncBroadcastDrops() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

// IncWebhookRejected counts a webhook delivery that failed verification.
func (m *Metrics) IncWebhookRejected() {
	if m == nil {
		return
	}
	m.webhookRejected.Inc()
}

// IncRateLimited increments the rate limit counter.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
