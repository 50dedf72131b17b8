package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitastack/aita-fusion/internal/cache"
	"github.com/aitastack/aita-fusion/internal/extractors"
	"github.com/aitastack/aita-fusion/internal/ingest"
	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/repo"
	"github.com/aitastack/aita-fusion/internal/utils"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []models.CorrelationResult
	panic bool
}

func (s *recordingSink) Send(_ context.Context, _ models.LogEvent, corr models.CorrelationResult) error {
	if s.panic {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, corr)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// flakyLogs fails SaveCorrelation for one event id.
type flakyLogs struct {
	*repo.MemoryStore
	failID     int64
	pendingErr error
}

func (f *flakyLogs) SaveCorrelation(ctx context.Context, c models.CorrelationResult) error {
	if c.LogEventID == f.failID {
		return errors.New("write rejected")
	}
	return f.MemoryStore.SaveCorrelation(ctx, c)
}

func (f *flakyLogs) PendingLogEvents(ctx context.Context) ([]models.LogEvent, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	return f.MemoryStore.PendingLogEvents(ctx)
}

type failingCandidates struct {
	*repo.MemoryStore
	err error
}

func (f failingCandidates) CandidateThreats(context.Context) ([]models.ThreatRecord, error) {
	return nil, f.err
}

func seedStore(t *testing.T) *repo.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemoryStore(repo.StoreOptions{})
	_, err := store.CreateThreat(ctx, models.ThreatRecord{
		Source:       "abuseipdb",
		ExternalID:   "ip-1",
		Title:        "Botnet controller",
		IPAddresses:  []string{"203.0.113.42"},
		Domains:      []string{"evil.example.com"},
		Severity:     models.SeverityHigh,
		DiscoveredAt: time.Now().Add(-48 * time.Hour),
		IsActive:     true,
	})
	require.NoError(t, err)
	return store
}

func newTestPipeline(deps Dependencies) *Pipeline {
	if deps.Extractor == nil {
		deps.Extractor = extractors.NewExtractor(extractors.Options{})
	}
	return NewPipeline(nil, deps, Options{Workers: 2, Prefilter: true, TrainingSamples: 200, Seed: 7})
}

func TestProcessPendingCorrelatesAndAlerts(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	matching, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42", Domain: "evil.example.com"})
	_, _ = store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "192.0.2.10"})
	sink := &recordingSink{}

	p := newTestPipeline(Dependencies{Threats: store, Logs: store, Alerts: sink})
	result, outcome := p.ProcessPending(ctx)

	require.True(t, outcome.OK(), outcome.String())
	assert.Equal(t, 2, result.LogsProcessed)
	assert.Equal(t, 1, result.CorrelationsFound)
	assert.Equal(t, 1, result.AlertsGenerated)
	assert.Equal(t, 0, result.Failures)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, sink.count())

	rows, _ := store.Correlations(ctx, matching)
	require.Len(t, rows, 1)
	assert.Equal(t, result.RunID, rows[0].RunID)
	assert.Equal(t, models.CorrelationIPMatch, rows[0].Type)

	pending, _ := store.PendingLogEvents(ctx)
	assert.Empty(t, pending)
}

func TestProcessPendingIsolatesItemFailures(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	good, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42", Domain: "evil.example.com"})
	bad, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42", Domain: "evil.example.com"})
	logs := &flakyLogs{MemoryStore: store, failID: bad}

	p := newTestPipeline(Dependencies{Threats: store, Logs: logs, Alerts: &recordingSink{}})
	result, outcome := p.ProcessPending(ctx)

	require.True(t, outcome.OK(), outcome.String())
	assert.Equal(t, 2, result.LogsProcessed)
	assert.Equal(t, 1, result.CorrelationsFound)
	assert.Equal(t, 1, result.Failures)

	goodRows, _ := store.Correlations(ctx, good)
	assert.Len(t, goodRows, 1)

	pending, _ := store.PendingLogEvents(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, bad, pending[0].ID)
}

func TestProcessPendingRecoversPanics(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	_, _ = store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42", Domain: "evil.example.com"})
	_, _ = store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "192.0.2.10"})

	p := newTestPipeline(Dependencies{Threats: store, Logs: store, Alerts: &recordingSink{panic: true}})
	result, outcome := p.ProcessPending(ctx)

	require.True(t, outcome.OK())
	assert.Equal(t, 2, result.LogsProcessed)
	assert.Equal(t, 1, result.Failures)
}

func TestProcessPendingSystemicFailure(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	_, _ = store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42"})

	p := newTestPipeline(Dependencies{Threats: failingCandidates{MemoryStore: store, err: errors.New("relation missing")}, Logs: store})
	result, outcome := p.ProcessPending(ctx)
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ErrSystemic))
	assert.Equal(t, 0, result.LogsProcessed)

	logs := &flakyLogs{MemoryStore: store, pendingErr: utils.Transient(errors.New("conn reset"))}
	p = newTestPipeline(Dependencies{Threats: store, Logs: logs})
	_, outcome = p.ProcessPending(ctx)
	assert.Equal(t, StatusRetryable, outcome.Status)
	assert.Equal(t, CorrelationRetry, outcome.Retry)
}

func TestCorrelationClaimIsAtMostOncePerRun(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	id, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42", Domain: "evil.example.com"})
	ev, _ := store.GetLogEvent(ctx, id)
	threats, _ := store.CandidateThreats(ctx)
	sink := &recordingSink{}

	p := newTestPipeline(Dependencies{Threats: store, Logs: store, Alerts: sink, Claims: cache.NewMemoryProvider()})
	set := NewCandidateSet(threats, true)

	first, err := p.correlateOne(ctx, "run-1", ev, set)
	require.NoError(t, err)
	assert.True(t, first.Found)

	second, err := p.correlateOne(ctx, "run-1", ev, set)
	require.NoError(t, err)
	assert.False(t, second.Found)
	assert.True(t, second.Skipped)

	rows, _ := store.Correlations(ctx, id)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, sink.count())

	third, err := p.correlateOne(ctx, "run-2", ev, set)
	require.NoError(t, err)
	assert.True(t, third.Found)
	rows, _ = store.Correlations(ctx, id)
	assert.Len(t, rows, 2)
}

func TestCorrelateLog(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	below, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42"})
	above, _ := store.CreateLogEvent(ctx, models.LogEvent{SourceIP: "203.0.113.42", Domain: "evil.example.com"})

	p := newTestPipeline(Dependencies{Threats: store, Logs: store})

	res, outcome := p.CorrelateLog(ctx, below)
	require.True(t, outcome.OK())
	assert.Nil(t, res)

	res, outcome = p.CorrelateLog(ctx, above)
	require.True(t, outcome.OK())
	require.NotNil(t, res)
	assert.InDelta(t, 0.95, res.Score, 1e-9)

	_, outcome = p.CorrelateLog(ctx, 999)
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, repo.ErrNotFound))
}

func TestMissingCollaboratorsAreFatal(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	p := NewPipeline(nil, Dependencies{Threats: store, Logs: store}, Options{})

	_, outcome := p.ExtractThreat(ctx, 1)
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ErrNotConfigured))
	assert.Zero(t, outcome.Retry.MaxRetries)

	_, outcome = p.TrainModels(ctx)
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ErrNotConfigured))

	_, outcome = p.IngestThreats(ctx)
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ErrNotConfigured))
}

func TestEnrichThreatWithoutModelsIsFatalButKeepsExtraction(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore(repo.StoreOptions{})
	id, _ := store.CreateThreat(ctx, models.ThreatRecord{
		Source:      "nvd",
		ExternalID:  "CVE-2024-1",
		Title:       "Ransomware campaign",
		Description: "Operators stage payloads on 45.77.10.20 and evil-cdn.net.",
		IsActive:    true,
	})
	modelStore := ml.NewMemoryStore()

	p := newTestPipeline(Dependencies{
		Threats:    store,
		Logs:       store,
		Scorer:     ml.NewRiskScorer(nil, modelStore, ml.BoostingParams{}, time.Second),
		Classifier: ml.NewClassifier(nil, modelStore, ml.ClassifierParams{}, time.Second),
	})

	enrichment, outcome := p.EnrichThreat(ctx, id)
	assert.Equal(t, StatusFatal, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, ml.ErrModelUnavailable))
	assert.Nil(t, enrichment.Classification)

	threat, _ := store.GetThreat(ctx, id)
	require.NotNil(t, threat.Extraction)
	assert.Contains(t, threat.Extraction.IOCs[models.IOCTypeIP], "45.77.10.20")
}

func TestTrainThenEnrichThreat(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore(repo.StoreOptions{})
	cvss := 9.8
	id, _ := store.CreateThreat(ctx, models.ThreatRecord{
		Source:       "nvd",
		ExternalID:   "CVE-2024-2",
		Title:        "Ransomware encrypts files and demands ransom",
		Description:  "The ransomware encrypts victim files and demands a bitcoin ransom payment. A public exploit is available.",
		BaseScore:    &cvss,
		Severity:     models.SeverityCritical,
		DiscoveredAt: time.Now().Add(-24 * time.Hour),
		IsActive:     true,
	})
	modelStore := ml.NewMemoryStore()
	p := newTestPipeline(Dependencies{
		Threats:    store,
		Logs:       store,
		Scorer:     ml.NewRiskScorer(nil, modelStore, ml.BoostingParams{Estimators: 20, LearningRate: 0.1, MaxDepth: 3, MinSamplesLeaf: 1}, time.Second),
		Classifier: ml.NewClassifier(nil, modelStore, ml.ClassifierParams{}, time.Second),
	})

	report, outcome := p.TrainModels(ctx)
	require.True(t, outcome.OK(), outcome.String())
	assert.Equal(t, ml.RiskModelName, report.Scorer.Name)
	assert.Equal(t, ml.ClassifierModelName, report.Classifier.Name)
	assert.Equal(t, int64(7), report.Scorer.Seed)

	enrichment, outcome := p.EnrichThreat(ctx, id)
	require.True(t, outcome.OK(), outcome.String())
	require.NotNil(t, enrichment.Classification)
	require.NotNil(t, enrichment.Risk)
	assert.Equal(t, models.CategoryRansomware, enrichment.Classification.Category)
	assert.GreaterOrEqual(t, enrichment.Risk.Score, 0.0)
	assert.LessOrEqual(t, enrichment.Risk.Score, 10.0)
	assert.NotEmpty(t, enrichment.Summary)

	threat, _ := store.GetThreat(ctx, id)
	require.NotNil(t, threat.RiskScore)
	require.NotNil(t, threat.Confidence)
	assert.Equal(t, enrichment.Risk.Level, threat.RiskLevel)
	assert.Equal(t, enrichment.Summary, threat.Summary)

	again, outcome := p.ExtractThreat(ctx, id)
	require.True(t, outcome.OK())
	assert.Equal(t, enrichment.Extraction, again)
}

type staticFeed struct {
	records []ingest.FeedRecord
	err     error
}

func (f staticFeed) FetchThreats(context.Context) ([]ingest.FeedRecord, error) {
	return f.records, f.err
}

func TestIngestThreatsQuarantinesInvalidRecords(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore(repo.StoreOptions{})
	cvss := 7.2
	feed := staticFeed{records: []ingest.FeedRecord{
		{Source: "nvd", ExternalID: "CVE-1", Title: "Valid", CVSSScore: &cvss, IPAddresses: []string{"203.0.113.5"}},
		{Source: "nvd", ExternalID: "CVE-2", Title: ""},
	}}

	p := newTestPipeline(Dependencies{Threats: store, Logs: store, Feed: feed})
	report, outcome := p.IngestThreats(ctx)

	require.True(t, outcome.OK(), outcome.String())
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Rejections, 1)
	assert.Equal(t, "CVE-2", report.Rejections[0].ExternalID)

	threat, err := store.GetThreat(ctx, report.ThreatIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, threat.Severity)

	p = newTestPipeline(Dependencies{Threats: store, Logs: store, Feed: staticFeed{err: utils.Transient(errors.New("502"))}})
	_, outcome = p.IngestThreats(ctx)
	assert.Equal(t, StatusRetryable, outcome.Status)
}
