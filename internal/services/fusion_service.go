package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aitastack/aita-fusion/internal/api"
	"github.com/aitastack/aita-fusion/internal/engine"
	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/repo"
	"github.com/aitastack/aita-fusion/internal/utils"
)

// Engine is the subset of the fusion pipeline exposed over gRPC.
type Engine interface {
	ExtractThreat(ctx context.Context, threatID int64) (models.ExtractionResult, engine.Outcome)
	ClassifyThreat(ctx context.Context, threatID int64) (models.Classification, engine.Outcome)
	ScoreThreat(ctx context.Context, threatID int64) (models.RiskAssessment, engine.Outcome)
	EnrichThreat(ctx context.Context, threatID int64) (models.Enrichment, engine.Outcome)
	CorrelateLog(ctx context.Context, logEventID int64) (*models.CorrelationResult, engine.Outcome)
	ProcessPending(ctx context.Context) (models.BatchResult, engine.Outcome)
	TrainModels(ctx context.Context) (models.TrainingReport, engine.Outcome)
	IngestThreats(ctx context.Context) (models.IngestReport, engine.Outcome)
}

// HealthCheck is one named dependency check reported by HealthCheck.
type HealthCheck = api.DependencyCheck

// FusionService implements api.FusionEngineServer on top of the pipeline.
type FusionService struct {
	logger    *slog.Logger
	engine    Engine
	checks    []HealthCheck
	latencies *utils.LatencyTracker
}

var _ api.FusionEngineServer = (*FusionService)(nil)

// NewFusionService constructs the service facade.
func NewFusionService(logger *slog.Logger, eng Engine, checks ...HealthCheck) *FusionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FusionService{
		logger:    logger,
		engine:    eng,
		checks:    checks,
		latencies: utils.NewLatencyTracker(1024),
	}
}

func (s *FusionService) ExtractThreat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.threatID(req)
	if err != nil {
		return nil, err
	}
	return s.respond("ExtractThreat", func() (interface{}, engine.Outcome) {
		return s.engine.ExtractThreat(ctx, id)
	})
}

func (s *FusionService) ClassifyThreat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.threatID(req)
	if err != nil {
		return nil, err
	}
	return s.respond("ClassifyThreat", func() (interface{}, engine.Outcome) {
		return s.engine.ClassifyThreat(ctx, id)
	})
}

func (s *FusionService) ScoreThreat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.threatID(req)
	if err != nil {
		return nil, err
	}
	return s.respond("ScoreThreat", func() (interface{}, engine.Outcome) {
		return s.engine.ScoreThreat(ctx, id)
	})
}

func (s *FusionService) EnrichThreat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.threatID(req)
	if err != nil {
		return nil, err
	}
	return s.respond("EnrichThreat", func() (interface{}, engine.Outcome) {
		return s.engine.EnrichThreat(ctx, id)
	})
}

// CorrelateLog returns {"found": false} when no threat clears the return threshold.
func (s *FusionService) CorrelateLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	id, err := api.IDField(req, "log_event_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.respond("CorrelateLog", func() (interface{}, engine.Outcome) {
		result, outcome := s.engine.CorrelateLog(ctx, id)
		if result == nil {
			return map[string]interface{}{"found": false}, outcome
		}
		return map[string]interface{}{"found": true, "correlation": result}, outcome
	})
}

func (s *FusionService) ProcessPending(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	return s.respond("ProcessPending", func() (interface{}, engine.Outcome) {
		return s.engine.ProcessPending(ctx)
	})
}

func (s *FusionService) TrainModels(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	return s.respond("TrainModels", func() (interface{}, engine.Outcome) {
		return s.engine.TrainModels(ctx)
	})
}

func (s *FusionService) IngestThreats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	return s.respond("IngestThreats", func() (interface{}, engine.Outcome) {
		return s.engine.IngestThreats(ctx)
	})
}

// HealthCheck runs every registered check. A failing check degrades the status but
// never fails the call.
func (s *FusionService) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	state := "SERVING"
	checks := make(map[string]interface{}, len(s.checks))
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			state = "DEGRADED"
			checks[c.Name] = err.Error()
			s.logger.Warn("health check failed", slog.String("dependency", c.Name), slog.Any("error", err))
			continue
		}
		checks[c.Name] = "ok"
	}
	return structpb.NewStruct(map[string]interface{}{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *FusionService) threatID(req *structpb.Struct) (int64, error) {
	if s.engine == nil {
		return 0, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	id, err := api.IDField(req, "threat_id")
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	return id, nil
}

func (s *FusionService) respond(method string, call func() (interface{}, engine.Outcome)) (*structpb.Struct, error) {
	start := time.Now()
	value, outcome := call()
	duration := time.Since(start)
	if !outcome.OK() {
		s.logger.Error("fusion call failed", slog.String("method", method), slog.String("outcome", outcome.String()))
		return nil, statusFromOutcome(outcome)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("fusion latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	out, err := api.ToStruct(value)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// statusFromOutcome maps a failed outcome onto a gRPC status.
func statusFromOutcome(o engine.Outcome) error {
	msg := o.String()
	switch {
	case errors.Is(o.Err, repo.ErrNotFound):
		return status.Error(codes.NotFound, msg)
	case errors.Is(o.Err, ml.ErrModelUnavailable), errors.Is(o.Err, engine.ErrNotConfigured):
		return status.Error(codes.FailedPrecondition, msg)
	case errors.Is(o.Err, ml.ErrNoText):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(o.Err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.Is(o.Err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	case o.Status == engine.StatusRetryable:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
