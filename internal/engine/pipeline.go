package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aitastack/aita-fusion/internal/cache"
	"github.com/aitastack/aita-fusion/internal/extractors"
	"github.com/aitastack/aita-fusion/internal/ingest"
	"github.com/aitastack/aita-fusion/internal/metrics"
	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

// ErrTransient marks failures worth retrying. It aliases the shared sentinel.
var ErrTransient = utils.ErrTransient

// ThreatStore is the threat side of the read model.
type ThreatStore interface {
	GetThreat(ctx context.Context, id int64) (models.ThreatRecord, error)
	CandidateThreats(ctx context.Context) ([]models.ThreatRecord, error)
	CreateThreat(ctx context.Context, threat models.ThreatRecord) (int64, error)
	SaveExtraction(ctx context.Context, id int64, res models.ExtractionResult) error
	SaveClassification(ctx context.Context, id int64, c models.Classification) error
	SaveRiskAssessment(ctx context.Context, id int64, a models.RiskAssessment) error
	SaveSummary(ctx context.Context, id int64, summary string) error
}

// LogStore is the log-event side of the read model.
type LogStore interface {
	GetLogEvent(ctx context.Context, id int64) (models.LogEvent, error)
	PendingLogEvents(ctx context.Context) ([]models.LogEvent, error)
	SaveCorrelation(ctx context.Context, c models.CorrelationResult) error
	MarkProcessed(ctx context.Context, id int64) error
}

// AlertSink receives correlations above the alert threshold.
type AlertSink interface {
	Send(ctx context.Context, ev models.LogEvent, corr models.CorrelationResult) error
}

// Scorer predicts threat risk.
type Scorer interface {
	Score(ctx context.Context, fv models.FeatureVector) (models.RiskAssessment, error)
	Train(ctx context.Context, samples []ml.RiskSample, seed int64) (models.ModelReport, error)
}

// TextClassifier predicts threat categories from text.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (models.Classification, error)
	Train(ctx context.Context, corpus []ml.LabeledText, seed int64) (models.ModelReport, error)
}

// FeedSource yields upstream threat records.
type FeedSource interface {
	FetchThreats(ctx context.Context) ([]ingest.FeedRecord, error)
}

// Dependencies wires the pipeline collaborators. Threats, Logs, Extractor, Scorer and
// Classifier are required for their entry points; Alerts, Claims and Feed are optional.
type Dependencies struct {
	Threats    ThreatStore
	Logs       LogStore
	Extractor  *extractors.Extractor
	Scorer     Scorer
	Classifier TextClassifier
	Alerts     AlertSink
	Claims     cache.Provider
	Feed       FeedSource
}

// Options tunes batch execution and training.
type Options struct {
	Workers           int
	ItemTimeout       time.Duration
	ClaimTTL          time.Duration
	Prefilter         bool
	SourceReliability map[string]float64
	SummaryMaxChars   int
	Seed              int64
	TrainingSamples   int
	ClassifierCorpus  []ml.LabeledText
}

func (o *Options) normalise() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 30 * time.Second
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = time.Hour
	}
	if o.SummaryMaxChars <= 0 {
		o.SummaryMaxChars = 300
	}
	if o.TrainingSamples <= 0 {
		o.TrainingSamples = 1000
	}
	if len(o.ClassifierCorpus) == 0 {
		o.ClassifierCorpus = ml.DefaultClassifierCorpus()
	}
}

// Pipeline is the fusion orchestrator. Every entry point returns an Outcome instead of
// raising, so the scheduler and the RPC layer share one retry contract.
type Pipeline struct {
	logger     *slog.Logger
	deps       Dependencies
	opts       Options
	correlator *Correlator
	tracer     trace.Tracer
	now        func() time.Time
}

// NewPipeline constructs the orchestrator.
func NewPipeline(logger *slog.Logger, deps Dependencies, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Claims == nil {
		deps.Claims = cache.NewMemoryProvider()
	}
	opts.normalise()
	return &Pipeline{
		logger:     utils.Component(logger, "pipeline"),
		deps:       deps,
		opts:       opts,
		correlator: NewCorrelator(),
		tracer:     otel.Tracer("aita-fusion/engine"),
		now:        time.Now,
	}
}

// ExtractThreat runs IOC, entity and pattern extraction over a stored threat and
// overwrites its extraction.
func (p *Pipeline) ExtractThreat(ctx context.Context, threatID int64) (models.ExtractionResult, Outcome) {
	ctx, done := p.begin(ctx, "extract", attribute.Int64("threat.id", threatID))
	threat, err := p.deps.Threats.GetThreat(ctx, threatID)
	if err != nil {
		return models.ExtractionResult{}, done(outcomeFor(err, EnrichmentRetry))
	}
	res, err := p.extract(ctx, threat)
	return res, done(outcomeFor(err, EnrichmentRetry))
}

// ClassifyThreat predicts and stores the category of a threat.
func (p *Pipeline) ClassifyThreat(ctx context.Context, threatID int64) (models.Classification, Outcome) {
	ctx, done := p.begin(ctx, "classify", attribute.Int64("threat.id", threatID))
	threat, err := p.deps.Threats.GetThreat(ctx, threatID)
	if err != nil {
		return models.Classification{}, done(outcomeFor(err, EnrichmentRetry))
	}
	c, err := p.classify(ctx, threat)
	return c, done(outcomeFor(err, EnrichmentRetry))
}

// ScoreThreat predicts and stores the risk score of a threat.
func (p *Pipeline) ScoreThreat(ctx context.Context, threatID int64) (models.RiskAssessment, Outcome) {
	ctx, done := p.begin(ctx, "score", attribute.Int64("threat.id", threatID))
	threat, err := p.deps.Threats.GetThreat(ctx, threatID)
	if err != nil {
		return models.RiskAssessment{}, done(outcomeFor(err, EnrichmentRetry))
	}
	a, err := p.score(ctx, threat)
	return a, done(outcomeFor(err, EnrichmentRetry))
}

// EnrichThreat runs extraction, classification, scoring and summarisation in order,
// stopping at the first failure. Stages that completed stay persisted.
func (p *Pipeline) EnrichThreat(ctx context.Context, threatID int64) (models.Enrichment, Outcome) {
	ctx, done := p.begin(ctx, "enrich", attribute.Int64("threat.id", threatID))
	out := models.Enrichment{ThreatID: threatID}

	threat, err := p.deps.Threats.GetThreat(ctx, threatID)
	if err != nil {
		return out, done(outcomeFor(err, EnrichmentRetry))
	}

	res, err := p.extract(ctx, threat)
	if err != nil {
		return out, done(outcomeFor(err, EnrichmentRetry))
	}
	out.Extraction = res
	threat.Extraction = &res

	c, err := p.classify(ctx, threat)
	if err != nil {
		return out, done(outcomeFor(err, EnrichmentRetry))
	}
	out.Classification = &c

	a, err := p.score(ctx, threat)
	if err != nil {
		return out, done(outcomeFor(err, EnrichmentRetry))
	}
	out.Risk = &a

	summary := extractors.Summarize(threat.Text(), p.opts.SummaryMaxChars)
	if err := p.deps.Threats.SaveSummary(ctx, threatID, summary.Text); err != nil {
		return out, done(outcomeFor(err, EnrichmentRetry))
	}
	out.Summary = summary.Text
	return out, done(success())
}

func (p *Pipeline) extract(ctx context.Context, threat models.ThreatRecord) (models.ExtractionResult, error) {
	if p.deps.Extractor == nil {
		return models.ExtractionResult{}, fmt.Errorf("extractor: %w", ErrNotConfigured)
	}
	res := p.deps.Extractor.Extract(ctx, threat.Text())
	res.ThreatID = threat.ID
	if err := p.deps.Threats.SaveExtraction(ctx, threat.ID, res); err != nil {
		return res, fmt.Errorf("save extraction: %w", err)
	}
	metrics.ObserveExtraction(res.Confidence)
	return res, nil
}

func (p *Pipeline) classify(ctx context.Context, threat models.ThreatRecord) (models.Classification, error) {
	if p.deps.Classifier == nil {
		return models.Classification{}, ml.ErrModelUnavailable
	}
	c, err := p.deps.Classifier.Classify(ctx, threat.Text())
	if err != nil {
		return c, fmt.Errorf("classify threat %d: %w", threat.ID, err)
	}
	c.ThreatID = threat.ID
	if err := p.deps.Threats.SaveClassification(ctx, threat.ID, c); err != nil {
		return c, fmt.Errorf("save classification: %w", err)
	}
	return c, nil
}

func (p *Pipeline) score(ctx context.Context, threat models.ThreatRecord) (models.RiskAssessment, error) {
	if p.deps.Scorer == nil {
		return models.RiskAssessment{}, ml.ErrModelUnavailable
	}
	fv := ml.FeaturesFromThreat(threat, p.opts.SourceReliability, p.now())
	a, err := p.deps.Scorer.Score(ctx, fv)
	if err != nil {
		return a, fmt.Errorf("score threat %d: %w", threat.ID, err)
	}
	a.ThreatID = threat.ID
	if err := p.deps.Threats.SaveRiskAssessment(ctx, threat.ID, a); err != nil {
		return a, fmt.Errorf("save risk assessment: %w", err)
	}
	return a, nil
}

// CorrelateLog correlates one log event against the current candidate threats. A nil
// result with a successful outcome means nothing scored above the threshold.
func (p *Pipeline) CorrelateLog(ctx context.Context, logEventID int64) (*models.CorrelationResult, Outcome) {
	runID := uuid.NewString()
	ctx, done := p.begin(ctx, "correlate", attribute.Int64("log_event.id", logEventID), attribute.String("run.id", runID))

	ev, err := p.deps.Logs.GetLogEvent(ctx, logEventID)
	if err != nil {
		return nil, done(outcomeFor(err, CorrelationRetry))
	}
	threats, err := p.deps.Threats.CandidateThreats(ctx)
	if err != nil {
		return nil, done(outcomeFor(systemic("load candidate threats", err), CorrelationRetry))
	}

	d, err := p.correlateOne(ctx, runID, ev, NewCandidateSet(threats, p.opts.Prefilter))
	if err != nil {
		return nil, done(outcomeFor(err, CorrelationRetry))
	}
	if !d.Found {
		return nil, done(success())
	}
	return &d.Result, done(success())
}

// ProcessPending correlates every pending log event against one candidate snapshot.
// Events run on a bounded worker pool; a failing event is counted and left pending
// without affecting the others. Failing to load either input aborts the batch.
func (p *Pipeline) ProcessPending(ctx context.Context) (models.BatchResult, Outcome) {
	start := p.now()
	runID := uuid.NewString()
	ctx, done := p.begin(ctx, "batch", attribute.String("run.id", runID))
	result := models.BatchResult{RunID: runID}

	events, err := p.deps.Logs.PendingLogEvents(ctx)
	if err != nil {
		return result, done(outcomeFor(systemic("load pending log events", err), CorrelationRetry))
	}
	threats, err := p.deps.Threats.CandidateThreats(ctx)
	if err != nil {
		return result, done(outcomeFor(systemic("load candidate threats", err), CorrelationRetry))
	}
	set := NewCandidateSet(threats, p.opts.Prefilter)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.opts.Workers)
	)
	record := func(d Decision, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			result.Failures++
		case d.Skipped:
			result.Skipped++
		case d.Found:
			result.CorrelationsFound++
			if d.Alert {
				result.AlertsGenerated++
			}
		}
	}

dispatch:
	for _, ev := range events {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		result.LogsProcessed++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("correlation panicked",
						slog.Int64("log_event_id", ev.ID),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					record(Decision{}, fmt.Errorf("panic: %v", r))
				}
			}()
			d, err := p.correlateOne(ctx, runID, ev, set)
			if err != nil {
				p.logger.Warn("log event correlation failed",
					slog.String("run_id", runID),
					slog.Int64("log_event_id", ev.ID),
					slog.Any("error", err),
				)
			}
			record(d, err)
		}()
	}
	wg.Wait()

	result.Duration = p.now().Sub(start)
	metrics.ObserveBatch(result.LogsProcessed, result.CorrelationsFound, result.AlertsGenerated, result.Failures)
	p.logger.Info("correlation batch finished",
		slog.String("run_id", runID),
		slog.Int("logs_processed", result.LogsProcessed),
		slog.Int("correlations_found", result.CorrelationsFound),
		slog.Int("alerts_generated", result.AlertsGenerated),
		slog.Int("failures", result.Failures),
		slog.Int("skipped", result.Skipped),
		slog.Int("candidates", set.Len()),
	)
	if err := ctx.Err(); err != nil {
		return result, done(outcomeFor(err, CorrelationRetry))
	}
	return result, done(success())
}

// correlateOne scores ev, persists the winning correlation under a per-run claim,
// alerts when warranted and marks the event processed.
func (p *Pipeline) correlateOne(ctx context.Context, runID string, ev models.LogEvent, set *CandidateSet) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ItemTimeout)
	defer cancel()

	d := p.correlator.Correlate(ev, set)
	switch {
	case d.Skipped:
		metrics.ObserveCorrelation("skipped")
	case !d.Found:
		metrics.ObserveCorrelation("none")
	}
	if !d.Found {
		if err := p.deps.Logs.MarkProcessed(ctx, ev.ID); err != nil {
			return d, fmt.Errorf("mark log event %d processed: %w", ev.ID, err)
		}
		return d, nil
	}

	claimKey := "corr:" + runID + ":" + strconv.FormatInt(ev.ID, 10)
	claimed, err := p.deps.Claims.SetNX(ctx, claimKey, []byte(strconv.FormatInt(d.Result.ThreatID, 10)), p.opts.ClaimTTL)
	if err != nil {
		return d, fmt.Errorf("claim log event %d: %w", ev.ID, err)
	}
	if !claimed {
		metrics.ObserveCorrelation("duplicate")
		return Decision{Skipped: true}, nil
	}

	d.Result.ID = uuid.NewString()
	d.Result.RunID = runID
	d.Result.CreatedAt = p.now().UTC()
	if err := p.deps.Logs.SaveCorrelation(ctx, d.Result); err != nil {
		if delErr := p.deps.Claims.Del(ctx, claimKey); delErr != nil {
			p.logger.Warn("failed to release correlation claim", slog.String("key", claimKey), slog.Any("error", delErr))
		}
		metrics.ObserveCorrelation("failed")
		return d, fmt.Errorf("save correlation for log event %d: %w", ev.ID, err)
	}
	metrics.ObserveCorrelation("matched")

	if d.Alert && p.deps.Alerts != nil {
		err := p.deps.Alerts.Send(ctx, ev, d.Result)
		metrics.ObserveAlert(err)
		if err != nil {
			p.logger.Error("alert delivery failed",
				slog.String("correlation_id", d.Result.ID),
				slog.Int64("log_event_id", ev.ID),
				slog.Any("error", err),
			)
		}
	}

	if err := p.deps.Logs.MarkProcessed(ctx, ev.ID); err != nil {
		return d, fmt.Errorf("mark log event %d processed: %w", ev.ID, err)
	}
	return d, nil
}

// TrainModels retrains the risk scorer on a seeded synthetic corpus and the classifier
// on the labelled corpus, swapping each model in on success.
func (p *Pipeline) TrainModels(ctx context.Context) (models.TrainingReport, Outcome) {
	ctx, done := p.begin(ctx, "train", attribute.Int64("seed", p.opts.Seed))
	var report models.TrainingReport
	if p.deps.Scorer == nil || p.deps.Classifier == nil {
		return report, done(outcomeFor(fmt.Errorf("models: %w", ErrNotConfigured), TrainingRetry))
	}

	samples := ml.SyntheticRiskCorpus(p.opts.Seed, p.opts.TrainingSamples)
	scorerReport, err := p.deps.Scorer.Train(ctx, samples, p.opts.Seed)
	if err != nil {
		return report, done(outcomeFor(fmt.Errorf("train risk scorer: %w", err), TrainingRetry))
	}
	report.Scorer = scorerReport
	metrics.ObserveTraining(scorerReport.Name, scorerReport.Metrics)
	metrics.SetModelLoaded(scorerReport.Name, true)

	classifierReport, err := p.deps.Classifier.Train(ctx, p.opts.ClassifierCorpus, p.opts.Seed)
	if err != nil {
		return report, done(outcomeFor(fmt.Errorf("train classifier: %w", err), TrainingRetry))
	}
	report.Classifier = classifierReport
	metrics.ObserveTraining(classifierReport.Name, classifierReport.Metrics)
	metrics.SetModelLoaded(classifierReport.Name, true)

	return report, done(success())
}

// IngestThreats pulls the upstream feed, validates every record and upserts the valid
// ones. Invalid records are quarantined in the report and never stored.
func (p *Pipeline) IngestThreats(ctx context.Context) (models.IngestReport, Outcome) {
	ctx, done := p.begin(ctx, "ingest")
	var report models.IngestReport
	if p.deps.Feed == nil {
		return report, done(outcomeFor(fmt.Errorf("feed: %w", ErrNotConfigured), EnrichmentRetry))
	}

	records, err := p.deps.Feed.FetchThreats(ctx)
	if err != nil {
		return report, done(outcomeFor(systemic("fetch feed", err), EnrichmentRetry))
	}
	report.Fetched = len(records)

	accepted, rejected := ingest.NormalizeBatch(records, p.now().UTC())
	report.Rejections = rejected
	for _, r := range rejected {
		p.logger.Warn("threat record quarantined",
			slog.String("source", r.Source),
			slog.String("external_id", r.ExternalID),
			slog.String("reason", r.Reason),
		)
	}

	for _, threat := range accepted {
		id, err := p.deps.Threats.CreateThreat(ctx, threat)
		if err != nil {
			metrics.ObserveFeedRecords(report.Accepted, len(rejected))
			return report, done(outcomeFor(fmt.Errorf("store threat %s/%s: %w", threat.Source, threat.ExternalID, err), EnrichmentRetry))
		}
		report.Accepted++
		report.ThreatIDs = append(report.ThreatIDs, id)
	}
	metrics.ObserveFeedRecords(report.Accepted, len(rejected))
	return report, done(success())
}

// begin opens a span for stage and returns a finisher recording the outcome on the
// span, in metrics and in the log.
func (p *Pipeline) begin(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(Outcome) Outcome) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(attrs...))
	return ctx, func(o Outcome) Outcome {
		defer span.End()
		span.SetAttributes(attribute.String("outcome", o.Status.String()))
		if o.Err != nil {
			span.RecordError(o.Err)
			span.SetStatus(otelcodes.Error, o.Err.Error())
			p.logger.Warn("pipeline stage failed",
				slog.String("stage", stage),
				slog.String("outcome", o.Status.String()),
				slog.Any("error", o.Err),
			)
		}
		metrics.ObserveStage(stage, p.now().Sub(start), o.Status.String())
		return o
	}
}
