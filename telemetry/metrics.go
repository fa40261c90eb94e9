package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// RequestBuckets for synchronous API operations backed by the relational store
	RequestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// ActorBuckets for worker actors that talk to the KV store and CDN sinks
	ActorBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// Publish Metrics
var (
	// PublishesTotal counts publishes by outcome (created, committed, failed)
	PublishesTotal CounterVec = noopCounterVec

	// ItemsWrittenTotal counts items accepted by item writes
	ItemsWrittenTotal Counter = NoopStat{}

	// ItemValidationFailuresTotal counts items rejected by validation
	ItemValidationFailuresTotal Counter = NoopStat{}

	// CommitRequestsTotal counts commit requests by result (accepted, conflict, invalid, not_found)
	CommitRequestsTotal CounterVec = noopCounterVec

	// CommitDurationSeconds measures the synchronous part of commit
	CommitDurationSeconds Histogram = NoopStat{}
)

// Task & Queue Metrics
var (
	// TaskTransitionsTotal counts tasks entering each state
	TaskTransitionsTotal CounterVec = noopCounterVec

	// MessagesEnqueuedTotal counts queued messages by actor
	MessagesEnqueuedTotal CounterVec = noopCounterVec

	// MessagesProcessedTotal counts handled messages by actor and result (ok, error, dropped)
	MessagesProcessedTotal CounterVec = noopCounterVec

	// ActorDurationSeconds measures actor execution time by actor
	ActorDurationSeconds HistogramVec = noopHistogramVec

	// QueueDepth tracks queued messages by kind (due, delayed)
	QueueDepth GaugeVec = noopGaugeVec
)

// Deploy & CDN Metrics
var (
	// KVRecordsWrittenTotal counts records written to the KV store by kind (config, item)
	KVRecordsWrittenTotal CounterVec = noopCounterVec

	// KVUnprocessedTotal counts records the KV store reported as unprocessed
	KVUnprocessedTotal Counter = NoopStat{}

	// FlushPathsTotal counts paths submitted for cache invalidation
	FlushPathsTotal Counter = NoopStat{}

	// FlushFailuresTotal counts purge publish failures after retries
	FlushFailuresTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Publish Metrics
	PublishesTotal = NewCounterVec(
		"publishes_total",
		"Publishes by outcome",
		"outcome",
	)
	ItemsWrittenTotal = NewCounter(
		"items_written_total",
		"Total items accepted by item writes",
	)
	ItemValidationFailuresTotal = NewCounter(
		"item_validation_failures_total",
		"Total items rejected by validation",
	)
	CommitRequestsTotal = NewCounterVec(
		"commit_requests_total",
		"Commit requests by result",
		"result",
	)
	CommitDurationSeconds = NewHistogram(
		"commit_duration_seconds",
		"Synchronous commit duration in seconds",
		RequestBuckets,
	)

	// Task & Queue Metrics
	TaskTransitionsTotal = NewCounterVec(
		"task_transitions_total",
		"Tasks entering each state",
		"state",
	)
	MessagesEnqueuedTotal = NewCounterVec(
		"messages_enqueued_total",
		"Queued messages by actor",
		"actor",
	)
	MessagesProcessedTotal = NewCounterVec(
		"messages_processed_total",
		"Handled messages by actor and result",
		"actor", "result",
	)
	ActorDurationSeconds = NewHistogramVec(
		"actor_duration_seconds",
		"Actor execution time in seconds",
		ActorBuckets,
		"actor",
	)
	QueueDepth = NewGaugeVec(
		"queue_depth",
		"Queued messages by kind",
		"kind",
	)

	// Deploy & CDN Metrics
	KVRecordsWrittenTotal = NewCounterVec(
		"kv_records_written_total",
		"Records written to the KV store by kind",
		"kind",
	)
	KVUnprocessedTotal = NewCounter(
		"kv_unprocessed_total",
		"Records reported unprocessed by the KV store",
	)
	FlushPathsTotal = NewCounter(
		"flush_paths_total",
		"Paths submitted for cache invalidation",
	)
	FlushFailuresTotal = NewCounter(
		"flush_failures_total",
		"Purge publish failures after retries",
	)
}
