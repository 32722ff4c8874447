// Package metrics exposes HTTP and admission transition metrics in the
// Prometheus exposition format.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	active      prometheus.Gauge
	transitions *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: defaultDurationBuckets,
		}, []string{"method", "route", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Requests currently being served.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admissions_transitions_total",
			Help: "Admission lifecycle transitions by name and outcome.",
		}, []string{"transition", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.active, m.transitions,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Transition counts one attempt of a lifecycle transition. outcome is "ok"
// or the rejection code.
func (m *Metrics) Transition(name, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, outcome).Inc()
}

// Middleware records request count, latency and in-flight requests.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			m.active.Inc()
			defer m.active.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.requests.WithLabelValues(c.Request().Method, route, status).Inc()
			m.duration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	if m == nil {
		return func(c echo.Context) error { return echo.ErrNotFound }
	}
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
