package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the pipeline.
//
// Metrics:
//   - studyroom_operations_total{operation,status}
//   - studyroom_operation_duration_seconds{operation}
//   - studyroom_generation_failures_total{task}
//   - studyroom_quiz_parse_failures_total
//   - studyroom_quiz_fallbacks_total
//   - studyroom_chunks_indexed_total
type Metrics struct {
	OperationsTotal         *prometheus.CounterVec
	OperationDuration       *prometheus.HistogramVec
	GenerationFailuresTotal *prometheus.CounterVec
	QuizParseFailuresTotal  prometheus.Counter
	QuizFallbacksTotal      prometheus.Counter
	ChunksIndexedTotal      prometheus.Counter
}

// NewMetrics creates the pipeline metrics and registers them with reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyroom_operations_total",
				Help: "Total number of pipeline operations by outcome",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studyroom_operation_duration_seconds",
				Help:    "Duration of pipeline operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"operation"},
		),
		GenerationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyroom_generation_failures_total",
				Help: "Total number of failed model calls",
			},
			[]string{"task"}, // "summary", "chat" or "quiz"
		),
		QuizParseFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "studyroom_quiz_parse_failures_total",
				Help: "Total number of quiz responses that could not be parsed",
			},
		),
		QuizFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "studyroom_quiz_fallbacks_total",
				Help: "Total number of quizzes that exhausted their attempts",
			},
		),
		ChunksIndexedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "studyroom_chunks_indexed_total",
				Help: "Total number of chunks written to the index",
			},
		),
	}
}
