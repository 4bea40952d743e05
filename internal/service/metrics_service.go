package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageItems      *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	runs            *prometheus.CounterVec
	lastRunSuccess  prometheus.Gauge

	requestCount uint64
	runCount     uint64
	failedRuns   uint64

	mu      sync.RWMutex
	lastRun *RunReport
}

// MetricsSnapshot is the JSON view of the process counters.
type MetricsSnapshot struct {
	RequestsTotal uint64     `json:"requests_total"`
	RunsTotal     uint64     `json:"runs_total"`
	RunsFailed    uint64     `json:"runs_failed"`
	Goroutines    int        `json:"goroutines"`
	LastRun       *RunReport `json:"last_run,omitempty"`
	GeneratedAt   time.Time  `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_stage_duration_seconds",
		Help:    "Duration of program sync stages",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"stage"})

	stageItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_stage_items_total",
		Help: "Items produced by program sync stages",
	}, []string{"stage"})

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_messages_dispatched_total",
		Help: "Queued messages processed by the dispatcher",
	}, []string{"type", "status"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Program sync runs by outcome",
	}, []string{"status"})

	lastRunSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_last_success_timestamp_seconds",
		Help: "Unix time of the last successful program sync run",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, stageDuration, stageItems, dispatched, runs, lastRunSuccess, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		stageDuration:   stageDuration,
		stageItems:      stageItems,
		dispatched:      dispatched,
		runs:            runs,
		lastRunSuccess:  lastRunSuccess,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// ObserveStage records a stage's duration and produced items.
func (m *MetricsService) ObserveStage(stage string, items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if items > 0 {
		m.stageItems.WithLabelValues(stage).Add(float64(items))
	}
}

// RecordDispatch counts one processed queued message.
func (m *MetricsService) RecordDispatch(msgType, status string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(msgType, status).Inc()
}

// RecordRun stores the outcome of a run.
func (m *MetricsService) RecordRun(report *RunReport, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.runCount, 1)
	if err != nil {
		atomic.AddUint64(&m.failedRuns, 1)
		m.runs.WithLabelValues("failed").Inc()
	} else {
		m.runs.WithLabelValues("succeeded").Inc()
		if report != nil {
			m.lastRunSuccess.Set(float64(report.FinishedAt.Unix()))
		}
	}
	if report != nil {
		m.mu.Lock()
		m.lastRun = report
		m.mu.Unlock()
	}
}

// Snapshot returns aggregated metrics suitable for the admin API.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	last := m.lastRun
	m.mu.RUnlock()
	return MetricsSnapshot{
		RequestsTotal: atomic.LoadUint64(&m.requestCount),
		RunsTotal:     atomic.LoadUint64(&m.runCount),
		RunsFailed:    atomic.LoadUint64(&m.failedRuns),
		Goroutines:    runtime.NumGoroutine(),
		LastRun:       last,
		GeneratedAt:   time.Now().UTC(),
	}
}
