package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "envsurveillance_"

	resultSuccess  = "success"
	resultRejected = "rejected"
	resultError    = "error"

	SourceWebhook = "webhook"
	SourceDirect  = "direct"

	QueryLatest  = "latest"
	QueryHistory = "history"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	pointsAppended  prometheus.Counter
	devicesCreated  prometheus.Counter
	uplinkLogErrors prometheus.Counter

	queryTotal   *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec

	streamClients prometheus.Gauge
	streamDropped prometheus.Counter
)

// Init registers collectors once. A non-nil db adds table-size gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by source and reason",
			},
			[]string{"source", "reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "result"},
		)

		pointsAppended = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_points_appended_total",
				Help: "Total telemetry points appended",
			},
		)
		devicesCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "devices_auto_registered_total",
				Help: "Devices registered on first uplink",
			},
		)
		uplinkLogErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "uplink_log_errors_total",
				Help: "Raw uplink writes that failed",
			},
		)

		queryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_query_total",
				Help: "Total telemetry queries by kind and result",
			},
			[]string{"query", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "telemetry_query_latency_seconds",
				Help:    "Telemetry query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_export_total",
				Help: "Total history exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_export_latency_seconds",
				Help:    "History export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "latest_cache_lookups_total",
				Help: "Latest-point cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		streamClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_clients",
				Help: "Connected telemetry stream clients",
			},
		)
		streamDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_dropped_messages_total",
				Help: "Stream messages dropped for slow clients",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			pointsAppended,
			devicesCreated,
			uplinkLogErrors,
			queryTotal,
			queryLatency,
			exportTotal,
			exportLatency,
			cacheLookups,
			streamClients,
			streamDropped,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source, result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(source, reason string) {
	if source == "" {
		source = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(source, reason).Inc()
	}
}

// IncPointsAppended counts one stored telemetry point.
func IncPointsAppended() {
	if pointsAppended != nil {
		pointsAppended.Inc()
	}
}

// IncDeviceAutoRegistered counts a device created from traffic.
func IncDeviceAutoRegistered() {
	if devicesCreated != nil {
		devicesCreated.Inc()
	}
}

// IncUplinkLogError counts a failed raw uplink write.
func IncUplinkLogError() {
	if uplinkLogErrors != nil {
		uplinkLogErrors.Inc()
	}
}

// ObserveQuery records a telemetry query.
func ObserveQuery(query, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if queryTotal != nil {
		queryTotal.WithLabelValues(query, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(query).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncCacheLookup counts a latest-cache hit, miss or error.
func IncCacheLookup(outcome string) {
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(outcome).Inc()
	}
}

// SetStreamClients sets the connected stream client gauge.
func SetStreamClients(n int) {
	if streamClients != nil {
		streamClients.Set(float64(n))
	}
}

// IncStreamDropped counts a message dropped for a slow client.
func IncStreamDropped() {
	if streamDropped != nil {
		streamDropped.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultRejected = resultRejected
	ResultError    = resultError

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)
