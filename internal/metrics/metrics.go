// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)

	// JobsTotal counts finished analysis jobs by outcome.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysis_jobs_total", Help: "Finished analysis jobs by outcome."},
		[]string{"outcome"},
	)
	// AnalysisDuration tracks end-to-end job runtime.
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "analysis_duration_seconds", Help: "Analysis job duration in seconds.", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "analysis_queue_depth", Help: "Jobs waiting for a worker."},
	)
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "analysis_jobs_running", Help: "Jobs currently being processed."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry. Safe to call repeatedly.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(JobsTotal, AnalysisDuration, QueueDepth, JobsRunning)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records request counts and latency. route maps a request to a
// low-cardinality label; IDs must not leak into it.
func Middleware(route func(*http.Request) string, next http.Handler) http.Handler {
	RegisterDefault()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		labels := prometheus.Labels{"method": r.Method, "route": route(r), "status": strconv.Itoa(sw.status)}
		HTTPRequests.With(labels).Inc()
		HTTPDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Hijack lets websocket upgrades pass through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}
