package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the prometheus collectors exported at /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
	Checkouts       *prometheus.CounterVec
	StockRejections *prometheus.CounterVec
	FeedEvents      prometheus.Counter
}

// NewMetrics builds the collectors on a private registry so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartengine",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cartengine",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"handler"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartengine",
			Name:      "checkouts_total",
			Help:      "Checkout finalize attempts by outcome.",
		}, []string{"outcome"}),
		StockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartengine",
			Name:      "stock_rejections_total",
			Help:      "Cart mutations rejected for insufficient stock.",
		}, []string{"operation"}),
		FeedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cartengine",
			Name:      "catalog_feed_events_applied_total",
			Help:      "Catalog update events applied by feed workers.",
		}),
	}
	reg.MustRegister(
		m.Requests, m.LatencyMS, m.Checkouts, m.StockRejections, m.FeedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CheckoutOutcome counts one finalize attempt.
func (m *Metrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
}

// StockRejected counts one cart mutation refused by the ledger.
func (m *Metrics) StockRejected(operation string) {
	if m == nil {
		return
	}
	m.StockRejections.WithLabelValues(operation).Inc()
}

// FeedEventApplied counts one processed catalog update.
func (m *Metrics) FeedEventApplied() {
	if m == nil {
		return
	}
	m.FeedEvents.Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(handler, status string, latencyMS float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(latencyMS)
}
