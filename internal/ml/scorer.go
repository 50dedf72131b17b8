package ml

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/aitastack/aita-fusion/internal/models"
)

// RiskModelName is the model store key of the risk scorer.
const RiskModelName = "risk_scorer"

type riskModel struct {
	Version  string             `json:"version"`
	Ensemble *gradientBoosting  `json:"ensemble"`
	Report   models.ModelReport `json:"report"`
}

// RiskScorer maps threat feature vectors to a 0-10 risk score and band.
type RiskScorer struct {
	logger  *slog.Logger
	model   *lazyModel[riskModel]
	params  BoostingParams
	timeout time.Duration
	now     func() time.Time
}

// NewRiskScorer builds a scorer reading and writing its model through store.
func NewRiskScorer(logger *slog.Logger, store ModelStore, params BoostingParams, timeout time.Duration) *RiskScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if params.Estimators <= 0 {
		params = DefaultBoostingParams()
	}
	return &RiskScorer{
		logger:  logger,
		model:   newLazyModel[riskModel](RiskModelName, store),
		params:  params,
		timeout: timeout,
		now:     time.Now,
	}
}

// Ready reports whether a model is loaded, loading it if one is persisted.
func (s *RiskScorer) Ready(ctx context.Context) bool {
	_, err := s.model.Get(ctx)
	return err == nil
}

// Score predicts the risk of fv. It fails with ErrModelUnavailable when no model exists.
func (s *RiskScorer) Score(ctx context.Context, fv models.FeatureVector) (models.RiskAssessment, error) {
	m, err := s.model.Get(ctx)
	if err != nil {
		return models.RiskAssessment{}, err
	}
	raw, err := withTimeout(ctx, s.timeout, func() float64 { return m.Ensemble.predict(fv.Slice()) })
	if err != nil {
		return models.RiskAssessment{}, err
	}
	score := clamp(raw, 0, 10)
	return models.RiskAssessment{
		Score:        score,
		Level:        Band(score),
		Features:     fv,
		ModelVersion: m.Version,
	}, nil
}

// Train fits a new ensemble on samples, persists it and swaps it in.
func (s *RiskScorer) Train(ctx context.Context, samples []RiskSample, seed int64) (models.ModelReport, error) {
	X := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, sample := range samples {
		X[i] = sample.Features.Slice()
		y[i] = sample.Risk
	}

	ensemble, err := fitGradientBoosting(X, y, s.params)
	if err != nil {
		return models.ModelReport{}, fmt.Errorf("fit risk model: %w", err)
	}

	pred := make([]float64, len(X))
	for i, row := range X {
		pred[i] = ensemble.predict(row)
	}
	mse := floats.Distance(pred, y, 2)
	mse = mse * mse / float64(len(y))

	trainedAt := s.now().UTC()
	report := models.ModelReport{
		Name:    RiskModelName,
		Version: modelVersion(RiskModelName, trainedAt),
		Samples: len(samples),
		Metrics: map[string]float64{
			"r2":  stat.RSquaredFrom(pred, y, nil),
			"mse": mse,
		},
		TrainedAt: trainedAt,
		Seed:      seed,
	}

	if err := s.model.Replace(ctx, &riskModel{Version: report.Version, Ensemble: ensemble, Report: report}); err != nil {
		return models.ModelReport{}, err
	}
	s.logger.Info("risk model trained",
		slog.String("version", report.Version),
		slog.Int("samples", report.Samples),
		slog.Float64("r2", report.Metrics["r2"]),
		slog.Float64("mse", report.Metrics["mse"]),
	)
	return report, nil
}

// Band maps a clamped score onto the closed-open risk bands.
func Band(score float64) models.RiskLevel {
	switch {
	case score >= 8.0:
		return models.RiskCritical
	case score >= 6.0:
		return models.RiskHigh
	case score >= 4.0:
		return models.RiskMedium
	case score >= 2.0:
		return models.RiskLow
	default:
		return models.RiskMinimal
	}
}
