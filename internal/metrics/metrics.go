// Package metrics exposes Prometheus collectors for HTTP requests, stock
// movements, order transitions and background jobs.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemonet1337/zaiWarehouse/pkg/jobs"
)

// Metrics holds the registry and collectors
// Prometheusメトリクスを保持
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	lowStock        prometheus.Counter
	orders          *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// New creates a registry with every collector registered
// メトリクスレジストリを初期化
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaiwarehouse_http_requests_total",
			Help: "HTTP requests partitioned by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zaiwarehouse_http_request_duration_seconds",
			Help:    "HTTP request latency per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaiwarehouse_stock_movements_total",
			Help: "Committed stock movements partitioned by type and reason.",
		}, []string{"type", "reason"}),
		lowStock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zaiwarehouse_low_stock_events_total",
			Help: "Balances that fell to or below the low-stock threshold.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaiwarehouse_purchase_order_transitions_total",
			Help: "Purchase orders closed, partitioned by final status.",
		}, []string{"status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zaiwarehouse_jobs_total",
			Help: "Background job executions partitioned by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zaiwarehouse_job_duration_seconds",
			Help:    "Background job duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.movements, m.lowStock, m.orders,
		m.jobRuns, m.jobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route template
// HTTPリクエストのメトリクスを記録するミドルウェア
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := routeTemplate(r)
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(recorder.Status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// StatusRecorder captures the response status code
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// WriteHeader records the status before writing it
func (r *StatusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unknown"
}

// ObserveJob records a finished job run
func (m *Metrics) ObserveJob(job string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// Tracker instruments a single job run
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for the named job
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.ObserveJob(t.job, status, time.Since(t.start))
	return err
}

// WrapJob instruments a task handler
// タスクハンドラーにメトリクス計測を追加
func (m *Metrics) WrapJob(job string, h jobs.HandlerFunc) jobs.HandlerFunc {
	if m == nil {
		return h
	}
	return func(ctx context.Context, payload []byte) error {
		return m.Track(job).End(h(ctx, payload))
	}
}

// WrapHandlers returns instrumented copies of the registrations
func (m *Metrics) WrapHandlers(handlers []jobs.TaskHandler) []jobs.TaskHandler {
	out := make([]jobs.TaskHandler, len(handlers))
	for i, h := range handlers {
		out[i] = jobs.TaskHandler{Type: h.Type, Handler: m.WrapJob(h.Type, h.Handler)}
	}
	return out
}
