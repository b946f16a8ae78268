// Package metrics owns the Prometheus registry for a process. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spendwise"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	writeFailures  *prometheus.CounterVec
	realtimeEvents *prometheus.CounterVec
	relayPublished *prometheus.CounterVec
	exported       *prometheus.CounterVec
	workspaces     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "write_failures_total",
			Help:      "Writes rejected by the backend, by resource.",
		}, []string{"resource"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change events applied to views, by table and type.",
		}, []string{"table", "type"}),
		relayPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Change events relayed to the broker, by result.",
		}, []string{"result"}),
		exported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "rows_total",
			Help:      "Change events handled by the exporter, by result.",
		}, []string{"result"}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "workspaces_open",
			Help:      "Per-user workspaces currently held in memory.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.writeFailures,
		m.realtimeEvents,
		m.relayPublished,
		m.exported,
		m.workspaces,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) WriteFailed(resource string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(resource).Inc()
}

func (m *Metrics) RealtimeEvent(table, typ string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(table, typ).Inc()
}

// Relayed records a relay publish; result is "ok", "error" or "circuit_open".
func (m *Metrics) Relayed(result string) {
	if m == nil {
		return
	}
	m.relayPublished.WithLabelValues(result).Inc()
}

// Exported records an exporter outcome; result is "ok", "skipped" or "error".
func (m *Metrics) Exported(result string) {
	if m == nil {
		return
	}
	m.exported.WithLabelValues(result).Inc()
}

func (m *Metrics) WorkspaceOpened() {
	if m == nil {
		return
	}
	m.workspaces.Inc()
}

func (m *Metrics) WorkspaceClosed() {
	if m == nil {
		return
	}
	m.workspaces.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      errorLog{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// errorLog implements promhttp.Logger.
type errorLog struct{}

func (errorLog) Println(v ...any) {
	slog.Error("Metrics handler error", "error", fmt.Sprint(v...))
}
