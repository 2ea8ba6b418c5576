package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// ETL metrics
	ETLCyclesTotal      *prometheus.CounterVec
	ETLCycleDuration    prometheus.Histogram
	ETLCyclesInProgress prometheus.Gauge
	ETLAccountsTotal    *prometheus.CounterVec
	ETLRecordsProcessed *prometheus.CounterVec
	ETLRecordsFailed    *prometheus.CounterVec
	ETLValueWarnings    *prometheus.CounterVec
	ETLSchemaDrift      *prometheus.CounterVec
	ETLRowsUpserted     *prometheus.CounterVec

	// External API metrics
	ExternalAPICalls    *prometheus.CounterVec
	ExternalAPIDuration *prometheus.HistogramVec
	ExternalAPIFailures *prometheus.CounterVec

	// Notification metrics
	NotificationsSent *prometheus.CounterVec
}

// New registers collectors on the default prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		ETLCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_cycles_total",
				Help: "Total number of ETL cycles by outcome",
			},
			[]string{"status"},
		),

		ETLCycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "etl_cycle_duration_seconds",
				Help:    "ETL cycle duration in seconds",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),

		ETLCyclesInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_cycles_in_progress",
				Help: "Number of ETL cycles currently in progress",
			},
		),

		ETLAccountsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_accounts_total",
				Help: "Total number of ad accounts processed by outcome",
			},
			[]string{"status"},
		),

		ETLRecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_records_processed_total",
				Help: "Total number of records processed by ETL",
			},
			[]string{"source", "status"},
		),

		ETLRecordsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_records_failed_total",
				Help: "Total number of records that failed processing",
			},
			[]string{"source", "error_type"},
		),

		ETLValueWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_unparseable_values_total",
				Help: "Total number of field values coerced to zero",
			},
			[]string{"field"},
		),

		ETLSchemaDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_schema_drift_columns_total",
				Help: "Columns missing from or dropped before the load payload",
			},
			[]string{"kind"},
		),

		ETLRowsUpserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_upserted_total",
				Help: "Total number of rows sent to the upsert",
			},
			[]string{"table"},
		),

		ExternalAPICalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_calls_total",
				Help: "Total number of external API calls",
			},
			[]string{"api", "status"},
		),

		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_duration_seconds",
				Help:    "External API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),

		ExternalAPIFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_failures_total",
				Help: "Total number of external API failures",
			},
			[]string{"api", "error_type"},
		),

		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of operator notifications by level and outcome",
			},
			[]string{"level", "status"},
		),
	}
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ETL cycle metrics
func (m *Metrics) RecordETLCycle(status string, duration time.Duration) {
	m.ETLCyclesTotal.WithLabelValues(status).Inc()
	m.ETLCycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordETLAccount(status string) {
	m.ETLAccountsTotal.WithLabelValues(status).Inc()
}

// ETL record processing metrics
func (m *Metrics) RecordETLRecords(source, status string, count int) {
	m.ETLRecordsProcessed.WithLabelValues(source, status).Add(float64(count))
}

// ETL record failure metrics
func (m *Metrics) RecordETLRecordFailure(source, errorType string) {
	m.ETLRecordsFailed.WithLabelValues(source, errorType).Inc()
}

func (m *Metrics) RecordValueWarning(field string) {
	m.ETLValueWarnings.WithLabelValues(field).Inc()
}

func (m *Metrics) RecordSchemaDrift(kind string, columns int) {
	m.ETLSchemaDrift.WithLabelValues(kind).Add(float64(columns))
}

func (m *Metrics) RecordRowsUpserted(table string, count int) {
	m.ETLRowsUpserted.WithLabelValues(table).Add(float64(count))
}

// External API call metrics
func (m *Metrics) RecordExternalAPICall(api, status string, duration time.Duration) {
	m.ExternalAPICalls.WithLabelValues(api, status).Inc()
	m.ExternalAPIDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// External API failure metrics
func (m *Metrics) RecordExternalAPIFailure(api, errorType string) {
	m.ExternalAPIFailures.WithLabelValues(api, errorType).Inc()
}

func (m *Metrics) RecordNotification(level, status string) {
	m.NotificationsSent.WithLabelValues(level, status).Inc()
}

// ETL cycles in progress gauge
func (m *Metrics) IncETLCyclesInProgress() {
	m.ETLCyclesInProgress.Inc()
}

// ETL cycles in progress gauge
func (m *Metrics) DecETLCyclesInProgress() {
	m.ETLCyclesInProgress.Dec()
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
