// Package metrics exposes Prometheus metrics for feed composition, the HTTP
// API and bot ingestion.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raffaelramalhorosa/futurefeed/internal/compose"
)

const namespace = "futurefeed"

// Fetch outcomes.
const (
	FetchOK          = "ok"
	FetchError       = "error"
	FetchBreakerOpen = "breaker_open"
)

// Registry owns a private Prometheus registry and every futurefeed metric.
type Registry struct {
	reg *prometheus.Registry

	Compositions        *prometheus.CounterVec
	CompositionDuration *prometheus.HistogramVec
	ComposedItems       *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	Fetches    *prometheus.CounterVec
	PostsSaved prometheus.Counter
}

var _ compose.Observer = (*Registry)(nil)

// New creates a Registry with process and Go runtime collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Compositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compositions_total",
				Help:      "Feed compositions by mode.",
			},
			[]string{"mode"},
		),
		CompositionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "composition_duration_seconds",
				Help:      "Time spent composing a feed.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"mode"},
		),
		ComposedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "composed_items_total",
				Help:      "Posts placed in composed feeds, by where they came from.",
			},
			[]string{"mode", "source"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code.",
			},
			[]string{"method", "route", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_fetches_total",
				Help:      "Bot feed fetches by outcome.",
			},
			[]string{"result"},
		),
		PostsSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_posts_saved_total",
				Help:      "New BOT posts stored by the fetcher.",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Compositions,
		r.CompositionDuration,
		r.ComposedItems,
		r.HTTPRequests,
		r.HTTPRequestDuration,
		r.Fetches,
		r.PostsSaved,
	)
	return r
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveComposition implements compose.Observer.
func (r *Registry) ObserveComposition(o compose.Observation) {
	r.Compositions.WithLabelValues(o.Mode).Inc()
	r.CompositionDuration.WithLabelValues(o.Mode).Observe(o.Duration.Seconds())
	r.ComposedItems.WithLabelValues(o.Mode, "rules").Add(float64(o.FromRules))
	r.ComposedItems.WithLabelValues(o.Mode, "fallback").Add(float64(o.Fallback))
}

// ObserveHTTP records one served request. route is the matched route
// template, never the raw path.
func (r *Registry) ObserveHTTP(method, route string, code int, d time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveFetch records one bot fetch.
func (r *Registry) ObserveFetch(result string, saved int) {
	r.Fetches.WithLabelValues(result).Inc()
	if saved > 0 {
		r.PostsSaved.Add(float64(saved))
	}
}
