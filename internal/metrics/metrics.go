package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ClassificationsTotal counts decisions per method.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelver_classifications_total",
			Help: "Total number of classification decisions",
		},
		[]string{"method", "media_type"},
	)

	// ClassificationConfidence tracks decision confidence per method.
	ClassificationConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelver_classification_confidence",
			Help:    "Confidence of classification decisions (0-100)",
			Buckets: []float64{0, 30, 50, 70, 80, 85, 90, 95, 100},
		},
		[]string{"method"},
	)

	// AIRequestsTotal counts AI classifier calls by outcome (ok, parse_error, error).
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelver_ai_requests_total",
			Help: "Total number of AI classifier requests",
		},
		[]string{"outcome"},
	)

	// AILatency tracks AI classifier call latency.
	AILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelver_ai_latency_seconds",
			Help:    "AI classifier latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	// RoutesTotal counts routing calls by context (live, batch) and outcome.
	RoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelver_routes_total",
			Help: "Total number of library routing calls",
		},
		[]string{"context", "outcome"},
	)

	// TasksProcessed counts finished task executions.
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelver_tasks_processed_total",
			Help: "Total number of task executions by result (completed, retry, failed)",
		},
		[]string{"task_type", "result"},
	)

	// TaskDuration tracks handler execution time.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelver_task_duration_seconds",
			Help:    "Task handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	// QueueDepth mirrors queue statistics per status.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelver_queue_tasks",
			Help: "Number of tasks per status",
		},
		[]string{"status"},
	)

	// WorkerAvailable is 1 while the AI backend probe succeeds.
	WorkerAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelver_worker_available",
			Help: "Whether the worker loop is dequeuing (1) or backing off (0)",
		},
	)

	// WorkerInFlight is the number of tasks currently executing.
	WorkerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelver_worker_in_flight",
			Help: "Number of tasks currently executing",
		},
	)

	// BatchItemsTotal counts batch item executions by result.
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelver_batch_items_total",
			Help: "Total number of reclassification batch items executed",
		},
		[]string{"result"},
	)
)

// ObserveDecision records one classification decision.
func ObserveDecision(method, mediaType string, confidence int) {
	ClassificationsTotal.WithLabelValues(method, mediaType).Inc()
	ClassificationConfidence.WithLabelValues(method).Observe(float64(confidence))
}

// SetQueueDepth replaces the per-status gauges.
func SetQueueDepth(counts map[string]int) {
	for status, count := range counts {
		QueueDepth.WithLabelValues(status).Set(float64(count))
	}
}

// SetAvailable mirrors the worker availability flag.
func SetAvailable(available bool) {
	if available {
		WorkerAvailable.Set(1)
		return
	}
	WorkerAvailable.Set(0)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
