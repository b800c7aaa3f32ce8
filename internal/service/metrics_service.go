package service

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
)

const resultSuccess = "success"

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheLookups    *prometheus.CounterVec

	enrollmentAttempts *prometheus.CounterVec
	checkIns           *prometheus.CounterVec
	sessionCreations   *prometheus.CounterVec
	stateTransitions   *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	notifications      *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by outcome",
		}, []string{"outcome"}),
		enrollmentAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrollment_attempts_total",
			Help: "Enrollment attempts by result code",
		}, []string{"result"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Attendance check-ins by result code",
		}, []string{"result"}),
		sessionCreations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sessions_created_total",
			Help: "Attendance session creation attempts by result code",
		}, []string{"result"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "course_state_transitions_total",
			Help: "Course lifecycle promotions by target state",
		}, []string{"to"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifecycle_sweep_duration_seconds",
			Help:    "Duration of course lifecycle sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"type", "result"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.cacheLatency, m.cacheWrite, m.cacheLookups,
		m.enrollmentAttempts, m.checkIns, m.sessionCreations, m.stateTransitions, m.sweepDuration, m.notifications,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup outcome.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordEnrollment counts an enrollment attempt by its outcome.
func (m *MetricsService) RecordEnrollment(err error) {
	if m == nil {
		return
	}
	m.enrollmentAttempts.WithLabelValues(resultLabel(err)).Inc()
}

// RecordCheckIn counts a check-in attempt by its outcome.
func (m *MetricsService) RecordCheckIn(err error) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(resultLabel(err)).Inc()
}

// RecordSessionCreation counts a session creation attempt by its outcome.
func (m *MetricsService) RecordSessionCreation(err error) {
	if m == nil {
		return
	}
	m.sessionCreations.WithLabelValues(resultLabel(err)).Inc()
}

// AddStateTransitions counts courses promoted into state to.
func (m *MetricsService) AddStateTransitions(to string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stateTransitions.WithLabelValues(to).Add(float64(n))
}

// ObserveSweep records the duration of a lifecycle sweep.
func (m *MetricsService) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

// RecordNotification counts a notification delivery attempt.
func (m *MetricsService) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = "failure"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return resultSuccess
	}
	return strings.ToLower(appErrors.FromError(err).Code)
}
