package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aitastack/aita-fusion/internal/engine"
	"github.com/aitastack/aita-fusion/internal/models"
)

// Pipeline is the subset of the orchestrator the scheduler drives.
type Pipeline interface {
	ProcessPending(ctx context.Context) (models.BatchResult, engine.Outcome)
	TrainModels(ctx context.Context) (models.TrainingReport, engine.Outcome)
	IngestThreats(ctx context.Context) (models.IngestReport, engine.Outcome)
	EnrichThreat(ctx context.Context, threatID int64) (models.Enrichment, engine.Outcome)
}

// Schedules holds the cron specs of the periodic jobs. Empty specs are not scheduled.
type Schedules struct {
	Correlation string
	Retrain     string
	FeedSync    string
}

// Jobs binds pipeline entry points to dispatcher queues.
type Jobs struct {
	dispatcher *Dispatcher
	pipeline   Pipeline
	logger     *slog.Logger
}

// NewJobs constructs the job set.
func NewJobs(logger *slog.Logger, d *Dispatcher, p Pipeline) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{dispatcher: d, pipeline: p, logger: logger}
}

// Register installs the periodic jobs.
func (j *Jobs) Register(s Schedules) error {
	entries := []struct {
		spec string
		task func() Task
	}{
		{s.Correlation, j.correlationBatch},
		{s.Retrain, j.retrain},
		{s.FeedSync, j.feedSync},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		if err := j.dispatcher.Schedule(e.spec, e.task); err != nil {
			return err
		}
	}
	return nil
}

func (j *Jobs) correlationBatch() Task {
	return Task{
		Name:  "process_pending_logs",
		Queue: QueueCorrelation,
		Run: func(ctx context.Context) engine.Outcome {
			_, outcome := j.pipeline.ProcessPending(ctx)
			return outcome
		},
	}
}

func (j *Jobs) retrain() Task {
	return Task{
		Name:  "retrain_models",
		Queue: QueueML,
		Run: func(ctx context.Context) engine.Outcome {
			_, outcome := j.pipeline.TrainModels(ctx)
			return outcome
		},
	}
}

// feedSync ingests the upstream feed and queues enrichment for every stored threat.
func (j *Jobs) feedSync() Task {
	return Task{
		Name:  "sync_threat_feed",
		Queue: QueueIngestion,
		Run: func(ctx context.Context) engine.Outcome {
			report, outcome := j.pipeline.IngestThreats(ctx)
			for _, id := range report.ThreatIDs {
				if err := j.SubmitEnrichment(id); err != nil {
					j.logger.Warn("enrichment not queued", slog.Int64("threat_id", id), slog.Any("error", err))
				}
			}
			return outcome
		},
	}
}

// SubmitEnrichment queues on-demand enrichment of one threat.
func (j *Jobs) SubmitEnrichment(threatID int64) error {
	return j.dispatcher.Submit(Task{
		Name:  fmt.Sprintf("enrich_threat:%d", threatID),
		Queue: QueueNLP,
		Run: func(ctx context.Context) engine.Outcome {
			_, outcome := j.pipeline.EnrichThreat(ctx, threatID)
			return outcome
		},
	})
}
