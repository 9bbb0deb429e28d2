package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidewatch_http_request_size_bytes",
			Help:    "HTTP request body size in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method", "route"},
	)

	// Ingest metrics
	IngestReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_ingest_readings_total",
			Help: "Total number of readings submitted",
		},
		[]string{"source", "status"}, // status: accepted, duplicate, rejected, failed
	)

	IngestValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_ingest_validation_errors_total",
			Help: "Total number of validation errors",
		},
		[]string{"field"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidewatch_ingest_duration_seconds",
			Help:    "Time from submission to fan-out of one reading",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Reading store
	ReadingStoreSensors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_reading_store_sensors",
			Help: "Number of sensors with retained readings",
		},
	)

	ReadingStoreEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_reading_store_evictions_total",
			Help: "Readings evicted because a sensor buffer was full",
		},
	)

	// Rule engine
	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_alerts_emitted_total",
			Help: "Total number of alerts logged",
		},
		[]string{"type", "severity"},
	)

	RulesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_rules_skipped_total",
			Help: "Rules skipped because they are misconfigured",
		},
		[]string{"rule"},
	)

	// Alert log
	AlertLogAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidewatch_alert_log_append_duration_seconds",
			Help:    "Time taken to durably append alerts",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	AlertLogWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_alert_log_write_errors_total",
			Help: "Total number of failed alert log appends",
		},
	)

	// Fan-out hub
	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_hub_subscribers",
			Help: "Current number of live subscribers",
		},
	)

	HubEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_hub_events_published_total",
			Help: "Total number of events published to the hub",
		},
		[]string{"type"},
	)

	HubFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_hub_frames_dropped_total",
			Help: "Frames dropped for slow or closed subscribers",
		},
		[]string{"reason"},
	)

	HubDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_hub_delivery_failures_total",
			Help: "Subscribers disconnected after a failed write",
		},
	)

	// Export worker metrics
	ExportQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_export_queue_size",
			Help: "Current size of the export queue",
		},
	)

	ExportQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidewatch_export_queue_capacity",
			Help: "Capacity of the export queue",
		},
	)

	ExportDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_export_dropped_total",
			Help: "Envelopes dropped because the export queue was full",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_worker_processed_total",
			Help: "Total number of envelopes exported by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_worker_failed_total",
			Help: "Total number of envelopes that failed export",
		},
	)

	WorkerBatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidewatch_worker_batch_publish_duration_seconds",
			Help:    "Time taken to publish a batch to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidewatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidewatch_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_kafka_messages_consumed_total",
			Help: "Upstream readings consumed from Kafka",
		},
		[]string{"status"},
	)

	// MQTT
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_mqtt_messages_received_total",
			Help: "Readings received over MQTT",
		},
		[]string{"status"},
	)

	// Notifier
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_notifications_sent_total",
			Help: "Webhook notifications attempted",
		},
		[]string{"status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidewatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
