package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// generation service.
type Metrics struct {
	JobsDispatched *prometheus.CounterVec // labels: model
	JobsSucceeded  *prometheus.CounterVec // labels: model
	JobsFailed     *prometheus.CounterVec // labels: model
	JobsAbandoned  *prometheus.CounterVec // labels: model

	FetchResults *prometheus.CounterVec // labels: model, status={ready,not_ready,failed}

	// Accumulation engine metrics.
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	BucketsSkipped prometheus.Counter

	ArtifactsGenerated *prometheus.CounterVec // labels: model, variable
	ArtifactsRetained  *prometheus.GaugeVec   // labels: model

	WorkersAllocated *prometheus.GaugeVec // labels: model
	SchedulerRunning prometheus.Gauge

	JobDuration       *prometheus.HistogramVec // labels: model
	PollCycleDuration *prometheus.HistogramVec // labels: model

	KafkaEventsPublished prometheus.Counter
	KafkaEventErrors     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.JobsDispatched,
		m.JobsSucceeded,
		m.JobsFailed,
		m.JobsAbandoned,
		m.FetchResults,
		m.CacheHits,
		m.CacheMisses,
		m.BucketsSkipped,
		m.ArtifactsGenerated,
		m.ArtifactsRetained,
		m.WorkersAllocated,
		m.SchedulerRunning,
		m.JobDuration,
		m.PollCycleDuration,
		m.KafkaEventsPublished,
		m.KafkaEventErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them,
// avoiding "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		JobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "jobs_dispatched_total",
			Help:      "Forecast-hour jobs handed to the worker pool.",
		}, []string{"model"}),
		JobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "jobs_succeeded_total",
			Help:      "Forecast-hour jobs that produced all requested variables.",
		}, []string{"model"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "jobs_failed_total",
			Help:      "Forecast-hour job attempts that failed.",
		}, []string{"model"}),
		JobsAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "jobs_abandoned_total",
			Help:      "Forecast hours dropped after exhausting the retry budget.",
		}, []string{"model"}),
		FetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "fetch_results_total",
			Help:      "Raw fetch outcomes by status tag.",
		}, []string{"model", "status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "accum_cache_hits_total",
			Help:      "Accumulation cache entries reused.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "accum_cache_misses_total",
			Help:      "Accumulation totals recomputed from raw buckets.",
		}),
		BucketsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "accum_buckets_skipped_total",
			Help:      "Buckets skipped inside a multi-bucket sum due to missing data.",
		}),
		ArtifactsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "artifacts_generated_total",
			Help:      "Artifacts written by model and variable.",
		}, []string{"model", "variable"}),
		ArtifactsRetained: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gridgen",
			Name:      "artifacts_retained_runs",
			Help:      "Run directories kept after retention cleanup.",
		}, []string{"model"}),
		WorkersAllocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gridgen",
			Name:      "workers_allocated",
			Help:      "Workers assigned to each model in the current cycle.",
		}, []string{"model"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gridgen",
			Name:      "scheduler_running",
			Help:      "1 while a generation cycle is in progress.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridgen",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one forecast-hour job.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"model"}),
		PollCycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gridgen",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of one availability check plus dispatched batch.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		}, []string{"model"}),
		KafkaEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "kafka_events_published_total",
			Help:      "Artifact events published to the sink topic.",
		}),
		KafkaEventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gridgen",
			Name:      "kafka_event_errors_total",
			Help:      "Artifact event publish failures.",
		}),
	}
}
