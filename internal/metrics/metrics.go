package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successfully completed operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (step or dependency issues).
	OutcomeError = "error"
)

var (
	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall_responder",
			Name:      "webhook_deliveries_total",
			Help:      "Total alert webhook deliveries handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	workflowStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall_responder",
			Name:      "workflow_steps_total",
			Help:      "Incident workflow step transitions, partitioned by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	workflowDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "oncall_responder",
			Name:      "workflow_seconds",
			Help:      "End-to-end background workflow latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 30},
		},
	)

	ingestedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall_responder",
			Name:      "ingested_chunks_total",
			Help:      "Chunks ingested into the vector index, partitioned by source type.",
		},
		[]string{"source_type"},
	)

	ingestFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall_responder",
			Name:      "ingest_failures_total",
			Help:      "Ingestion attempts that failed, partitioned by source type.",
		},
		[]string{"source_type"},
	)

	retrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oncall_responder",
			Name:      "retrievals_total",
			Help:      "Semantic retrieval queries, partitioned by collection and outcome.",
		},
		[]string{"collection", "outcome"},
	)

	backgroundTaskFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "oncall_responder",
			Name:      "background_task_failures_total",
			Help:      "Background tasks that ended in error or panic.",
		},
	)
)

// Register attaches responder collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		webhookDeliveriesTotal,
		workflowStepsTotal,
		workflowDurationSeconds,
		ingestedChunksTotal,
		ingestFailuresTotal,
		retrievalsTotal,
		backgroundTaskFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveWebhook records a webhook delivery outcome.
func ObserveWebhook(outcome string) {
	webhookDeliveriesTotal.WithLabelValues(normalise(outcome)).Inc()
}

// ObserveWorkflowStep records one step transition of an incident workflow.
func ObserveWorkflowStep(step, outcome string) {
	workflowStepsTotal.WithLabelValues(step, normalise(outcome)).Inc()
}

// ObserveWorkflowDuration records the end-to-end background workflow latency.
func ObserveWorkflowDuration(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	workflowDurationSeconds.Observe(duration.Seconds())
}

// ObserveIngest records chunks ingested for a source type.
func ObserveIngest(sourceType string, chunks int) {
	if chunks <= 0 {
		return
	}
	ingestedChunksTotal.WithLabelValues(sourceType).Add(float64(chunks))
}

// ObserveIngestFailure records a failed ingestion attempt.
func ObserveIngestFailure(sourceType string) {
	ingestFailuresTotal.WithLabelValues(sourceType).Inc()
}

// ObserveRetrieval records a retrieval query outcome for a collection.
func ObserveRetrieval(collection, outcome string) {
	retrievalsTotal.WithLabelValues(collection, normalise(outcome)).Inc()
}

// ObserveTaskFailure records a background task failure or panic.
func ObserveTaskFailure() {
	backgroundTaskFailuresTotal.Inc()
}

func normalise(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}
