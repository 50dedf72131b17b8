package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels stages that completed.
	OutcomeSuccess = "success"
	// OutcomeRetryable labels stages that failed but may be retried.
	OutcomeRetryable = "retryable"
	// OutcomeFatal labels stages that failed permanently for the run.
	OutcomeFatal = "fatal"
)

const namespace = "aita_fusion"

var (
	stageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Pipeline entry point invocations, partitioned by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Pipeline entry point latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Log events evaluated by the correlator, partitioned by result.",
		},
		[]string{"result"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted to the configured sink, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchEvents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_events",
			Help:      "Counts reported by the most recent correlation batch.",
		},
		[]string{"kind"},
	)

	extractionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_confidence",
			Help:      "Aggregate confidence of extraction results.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	modelLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when the named model is loaded and serving, 0 otherwise.",
		},
		[]string{"model"},
	)

	modelTrainingMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_training_metric",
			Help:      "Fit metrics reported by the latest training run.",
		},
		[]string{"model", "metric"},
	)

	feedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_records_total",
			Help:      "Upstream threat records seen at the ingestion boundary.",
		},
		[]string{"result"},
	)

	schedulerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_retries_total",
			Help:      "Retries dispatched by the scheduler, partitioned by job.",
		},
		[]string{"job"},
	)
)

// Register attaches aita-fusion collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		stageRunsTotal,
		stageDurationSeconds,
		correlationsTotal,
		alertsTotal,
		batchEvents,
		extractionConfidence,
		modelLoaded,
		modelTrainingMetric,
		feedRecordsTotal,
		schedulerRetriesTotal,
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

// ObserveStage records an entry point duration and outcome label.
func ObserveStage(stage string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeRetryable, OutcomeFatal:
	default:
		outcome = OutcomeSuccess
	}
	stageRunsTotal.WithLabelValues(stage, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveCorrelation counts one correlator decision: matched, none, skipped or failed.
func ObserveCorrelation(result string) {
	correlationsTotal.WithLabelValues(result).Inc()
}

// ObserveAlert counts one alert delivery attempt.
func ObserveAlert(err error) {
	if err != nil {
		alertsTotal.WithLabelValues("error").Inc()
		return
	}
	alertsTotal.WithLabelValues("sent").Inc()
}

// ObserveBatch publishes the counts of the latest batch.
func ObserveBatch(processed, correlated, alerted, failed int) {
	batchEvents.WithLabelValues("processed").Set(float64(processed))
	batchEvents.WithLabelValues("correlated").Set(float64(correlated))
	batchEvents.WithLabelValues("alerted").Set(float64(alerted))
	batchEvents.WithLabelValues("failed").Set(float64(failed))
}

// ObserveExtraction records the confidence of one extraction result.
func ObserveExtraction(confidence float64) {
	extractionConfidence.Observe(confidence)
}

// SetModelLoaded flips the loaded gauge for a model.
func SetModelLoaded(model string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	modelLoaded.WithLabelValues(model).Set(v)
}

// ObserveTraining publishes the fit metrics of a training run.
func ObserveTraining(model string, values map[string]float64) {
	for name, v := range values {
		modelTrainingMetric.WithLabelValues(model, name).Set(v)
	}
}

// ObserveFeedRecords counts accepted and rejected upstream records.
func ObserveFeedRecords(accepted, rejected int) {
	feedRecordsTotal.WithLabelValues("accepted").Add(float64(accepted))
	feedRecordsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

// ObserveRetry counts one scheduler retry.
func ObserveRetry(job string) {
	schedulerRetriesTotal.WithLabelValues(job).Inc()
}
