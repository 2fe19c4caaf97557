package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prediction_collection_duration_seconds",
			Help:    "Per-source fetch-and-extract duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	SourceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_source_outcomes_total",
			Help: "Collection outcomes per source and status",
		},
		[]string{"source", "status"},
	)

	ConsensusConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prediction_consensus_confidence",
			Help:    "Confidence score of consensus computations",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_verifications_total",
			Help: "Verification runs by resulting status",
		},
		[]string{"status"},
	)

	SchedulerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_scheduler_tasks_total",
			Help: "Scheduler task executions by task and result",
		},
		[]string{"task", "result"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prediction_cache_hits_total",
			Help: "Total prediction cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prediction_cache_misses_total",
			Help: "Total prediction cache misses",
		},
	)
)

func Init() {
	prometheus.MustRegister(CollectionDuration)
	prometheus.MustRegister(SourceOutcomes)
	prometheus.MustRegister(ConsensusConfidence)
	prometheus.MustRegister(VerificationsTotal)
	prometheus.MustRegister(SchedulerTasks)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
