package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Detail snapshot dedupe cache
	SnapshotCacheHitsTotal   prometheus.Counter
	SnapshotCacheMissesTotal prometheus.Counter

	// Object store metrics
	ObjectStoreOperationsTotal *prometheus.CounterVec
	ObjectStoreBytesTotal      *prometheus.CounterVec

	// Database pool metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Business metrics
	DevicesActive   prometheus.Gauge
	GroupsTotal     prometheus.Gauge
	EventsTotal     prometheus.Counter
	RecordingsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacophony_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cacophony_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacophony_store_operations_total",
				Help: "Total number of entity store operations",
			},
			[]string{"operation", "entity", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cacophony_store_operation_duration_seconds",
				Help:    "Entity store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "entity"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacophony_store_errors_total",
				Help: "Total number of entity store errors",
			},
			[]string{"operation", "entity"},
		),
		SnapshotCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cacophony_snapshot_cache_hits_total",
				Help: "Detail snapshot dedupe cache hits",
			},
		),
		SnapshotCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cacophony_snapshot_cache_misses_total",
				Help: "Detail snapshot dedupe cache misses",
			},
		),
		ObjectStoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacophony_objectstore_operations_total",
				Help: "Total number of object store operations",
			},
			[]string{"operation", "status"},
		),
		ObjectStoreBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cacophony_objectstore_bytes_total",
				Help: "Bytes moved to and from the object store",
			},
			[]string{"direction"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cacophony_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cacophony_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cacophony_db_connections_wait_count",
				Help: "Cumulative count of waits for a database connection",
			},
		),
		DevicesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cacophony_devices_active",
				Help: "Number of active registered devices",
			},
		),
		GroupsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cacophony_groups_total",
				Help: "Number of groups",
			},
		),
		EventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cacophony_events_recorded_total",
				Help: "Total number of device events recorded",
			},
		),
		RecordingsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cacophony_recordings_uploaded_total",
				Help: "Total number of recordings uploaded",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.SnapshotCacheHitsTotal,
		m.SnapshotCacheMissesTotal,
		m.ObjectStoreOperationsTotal,
		m.ObjectStoreBytesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DevicesActive,
		m.GroupsTotal,
		m.EventsTotal,
		m.RecordingsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware instruments an HTTP handler with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// ObserveStoreOperation records the outcome of one store call
func (m *Metrics) ObserveStoreOperation(operation, entity string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.StoreErrorsTotal.WithLabelValues(operation, entity).Inc()
	}
	m.StoreOperationsTotal.WithLabelValues(operation, entity, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, entity).Observe(time.Since(start).Seconds())
}

// CollectDBStats updates database pool gauges from sql.DBStats
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
