package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aitastack/aita-fusion/internal/api"
	"github.com/aitastack/aita-fusion/internal/engine"
	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/repo"
	"github.com/aitastack/aita-fusion/internal/utils"
)

type engineStub struct {
	threatID  int64
	outcome   engine.Outcome
	corr      *models.CorrelationResult
	batch     models.BatchResult
	lastLogID int64
}

func (e *engineStub) ExtractThreat(_ context.Context, id int64) (models.ExtractionResult, engine.Outcome) {
	e.threatID = id
	return models.ExtractionResult{Confidence: 0.5}, e.outcome
}

func (e *engineStub) ClassifyThreat(_ context.Context, id int64) (models.Classification, engine.Outcome) {
	e.threatID = id
	return models.Classification{ThreatID: id}, e.outcome
}

func (e *engineStub) ScoreThreat(_ context.Context, id int64) (models.RiskAssessment, engine.Outcome) {
	e.threatID = id
	return models.RiskAssessment{ThreatID: id, Score: 0.42}, e.outcome
}

func (e *engineStub) EnrichThreat(_ context.Context, id int64) (models.Enrichment, engine.Outcome) {
	e.threatID = id
	return models.Enrichment{ThreatID: id}, e.outcome
}

func (e *engineStub) CorrelateLog(_ context.Context, id int64) (*models.CorrelationResult, engine.Outcome) {
	e.lastLogID = id
	return e.corr, e.outcome
}

func (e *engineStub) ProcessPending(context.Context) (models.BatchResult, engine.Outcome) {
	return e.batch, e.outcome
}

func (e *engineStub) TrainModels(context.Context) (models.TrainingReport, engine.Outcome) {
	return models.TrainingReport{}, e.outcome
}

func (e *engineStub) IngestThreats(context.Context) (models.IngestReport, engine.Outcome) {
	return models.IngestReport{Fetched: 2, Accepted: 1}, e.outcome
}

func idRequest(t *testing.T, field string, id interface{}) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]interface{}{field: id})
	require.NoError(t, err)
	return req
}

func TestScoreThreatReturnsAssessment(t *testing.T) {
	stub := &engineStub{}
	svc := NewFusionService(nil, stub)

	resp, err := svc.ScoreThreat(context.Background(), idRequest(t, "threat_id", 7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), stub.threatID)
	assert.Equal(t, 0.42, resp.GetFields()["risk_score"].GetNumberValue())
}

func TestThreatIDValidation(t *testing.T) {
	svc := NewFusionService(nil, &engineStub{})

	for _, v := range []interface{}{-1, 0, 1.5, "12"} {
		_, err := svc.ExtractThreat(context.Background(), idRequest(t, "threat_id", v))
		assert.Equal(t, codes.InvalidArgument, status.Code(err), "value %v", v)
	}
	_, err := svc.ExtractThreat(context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMissingPipeline(t *testing.T) {
	svc := NewFusionService(nil, nil)
	_, err := svc.ProcessPending(context.Background(), nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestStatusFromOutcome(t *testing.T) {
	cases := []struct {
		name    string
		outcome engine.Outcome
		want    codes.Code
	}{
		{"not found", engine.Outcome{Status: engine.StatusFatal, Err: fmt.Errorf("get: %w", repo.ErrNotFound)}, codes.NotFound},
		{"model", engine.Outcome{Status: engine.StatusFatal, Err: ml.ErrModelUnavailable}, codes.FailedPrecondition},
		{"not configured", engine.Outcome{Status: engine.StatusFatal, Err: fmt.Errorf("feed: %w", engine.ErrNotConfigured)}, codes.FailedPrecondition},
		{"no text", engine.Outcome{Status: engine.StatusFatal, Err: ml.ErrNoText}, codes.InvalidArgument},
		{"transient", engine.Outcome{Status: engine.StatusRetryable, Err: utils.Transient(errors.New("reset"))}, codes.Unavailable},
		{"other", engine.Outcome{Status: engine.StatusFatal, Err: errors.New("boom")}, codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, status.Code(statusFromOutcome(tc.outcome)))
		})
	}
}

func TestCorrelateLogNoMatch(t *testing.T) {
	stub := &engineStub{}
	svc := NewFusionService(nil, stub)

	resp, err := svc.CorrelateLog(context.Background(), idRequest(t, "log_event_id", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stub.lastLogID)
	assert.False(t, resp.GetFields()["found"].GetBoolValue())

	stub.corr = &models.CorrelationResult{ThreatID: 9, Score: 0.9}
	resp, err = svc.CorrelateLog(context.Background(), idRequest(t, "log_event_id", 3))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["found"].GetBoolValue())
	corr := resp.GetFields()["correlation"].GetStructValue()
	assert.Equal(t, 9.0, corr.GetFields()["threat_id"].GetNumberValue())
}

func TestHealthCheckDegraded(t *testing.T) {
	svc := NewFusionService(nil, &engineStub{},
		HealthCheck{Name: "store", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "cache", Check: func(context.Context) error { return errors.New("down") }},
	)
	resp, err := svc.HealthCheck(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "DEGRADED", resp.GetFields()["status"].GetStringValue())
	checks := resp.GetFields()["checks"].GetStructValue().GetFields()
	assert.Equal(t, "ok", checks["store"].GetStringValue())
	assert.Equal(t, "down", checks["cache"].GetStringValue())
}

func TestServiceOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	stub := &engineStub{batch: models.BatchResult{LogsProcessed: 4, CorrelationsFound: 1}}
	api.RegisterFusionEngineServer(srv, NewFusionService(nil, stub))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := api.NewFusionEngineClient(conn)

	resp, err := client.Call(context.Background(), "ProcessPending", nil)
	require.NoError(t, err)
	var batch models.BatchResult
	require.NoError(t, api.FromStruct(resp, &batch))
	assert.Equal(t, 4, batch.LogsProcessed)
	assert.Equal(t, 1, batch.CorrelationsFound)

	stub.outcome = engine.Outcome{Status: engine.StatusFatal, Err: repo.ErrNotFound}
	_, err = client.Call(context.Background(), "EnrichThreat", idRequest(t, "threat_id", 11))
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, int64(11), stub.threatID)
}
