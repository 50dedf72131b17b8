package ml

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// BoostingParams configures gradient-boosted regression.
type BoostingParams struct {
	Estimators     int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
}

// DefaultBoostingParams returns 100 depth-5 trees at learning rate 0.1.
func DefaultBoostingParams() BoostingParams {
	return BoostingParams{Estimators: 100, LearningRate: 0.1, MaxDepth: 5, MinSamplesLeaf: 1}
}

// gradientBoosting is a least-squares boosted tree ensemble over standardised features.
type gradientBoosting struct {
	Scaler       StandardScaler   `json:"scaler"`
	Init         float64          `json:"init"`
	LearningRate float64          `json:"learning_rate"`
	Trees        []regressionTree `json:"trees"`
}

func fitGradientBoosting(X [][]float64, y []float64, p BoostingParams) (*gradientBoosting, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("training set requires matching non-empty X and y, got %d and %d", len(X), len(y))
	}
	if p.Estimators <= 0 || p.LearningRate <= 0 || p.MaxDepth <= 0 {
		return nil, fmt.Errorf("invalid boosting params %+v", p)
	}

	scaler := fitScaler(X)
	scaled := make([][]float64, len(X))
	for i, row := range X {
		scaled[i] = scaler.transform(row)
	}

	model := &gradientBoosting{
		Scaler:       scaler,
		Init:         stat.Mean(y, nil),
		LearningRate: p.LearningRate,
		Trees:        make([]regressionTree, 0, p.Estimators),
	}

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = model.Init
	}
	residuals := make([]float64, len(y))
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}

	for m := 0; m < p.Estimators; m++ {
		for i := range residuals {
			residuals[i] = y[i] - pred[i]
		}
		tree := fitTree(scaled, residuals, idx, p.MaxDepth, p.MinSamplesLeaf)
		for i, row := range scaled {
			pred[i] += p.LearningRate * tree.predict(row)
		}
		model.Trees = append(model.Trees, tree)
	}
	return model, nil
}

func (g *gradientBoosting) predict(x []float64) float64 {
	scaled := g.Scaler.transform(x)
	out := g.Init
	for _, t := range g.Trees {
		out += g.LearningRate * t.predict(scaled)
	}
	return out
}
