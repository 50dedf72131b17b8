package ml

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/aitastack/aita-fusion/internal/models"
)

// ClassifierModelName is the model store key of the threat classifier.
const ClassifierModelName = "threat_classifier"

// ErrNoText is returned when there is no text to classify.
var ErrNoText = errors.New("no text to classify")

// ClassifierParams configures softmax regression training.
type ClassifierParams struct {
	Epochs       int
	LearningRate float64
	L2           float64
	Dim          int
}

// DefaultClassifierParams returns the training settings used in production.
func DefaultClassifierParams() ClassifierParams {
	return ClassifierParams{Epochs: 300, LearningRate: 1.0, L2: 1e-4, Dim: defaultHashDim}
}

type textModel struct {
	Version    string             `json:"version"`
	Vectorizer hashingVectorizer  `json:"vectorizer"`
	Weights    [][]float64        `json:"weights"`
	Bias       []float64          `json:"bias"`
	Report     models.ModelReport `json:"report"`
}

// Classifier maps threat text onto the closed category taxonomy.
type Classifier struct {
	logger  *slog.Logger
	model   *lazyModel[textModel]
	params  ClassifierParams
	timeout time.Duration
	now     func() time.Time
}

// NewClassifier builds a classifier reading and writing its model through store.
func NewClassifier(logger *slog.Logger, store ModelStore, params ClassifierParams, timeout time.Duration) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClassifierParams()
	if params.Epochs <= 0 {
		params.Epochs = defaults.Epochs
	}
	if params.LearningRate <= 0 {
		params.LearningRate = defaults.LearningRate
	}
	if params.Dim <= 0 {
		params.Dim = defaults.Dim
	}
	return &Classifier{
		logger:  logger,
		model:   newLazyModel[textModel](ClassifierModelName, store),
		params:  params,
		timeout: timeout,
		now:     time.Now,
	}
}

// Ready reports whether a model is loaded, loading it if one is persisted.
func (c *Classifier) Ready(ctx context.Context) bool {
	_, err := c.model.Get(ctx)
	return err == nil
}

// Classify returns the most probable category with the full distribution.
func (c *Classifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return models.Classification{}, ErrNoText
	}
	m, err := c.model.Get(ctx)
	if err != nil {
		return models.Classification{}, err
	}
	probs, err := withTimeout(ctx, c.timeout, func() []float64 {
		return m.probabilities(m.Vectorizer.transform(text))
	})
	if err != nil {
		return models.Classification{}, err
	}

	out := models.Classification{
		Probabilities: make(map[models.Category]float64, len(models.Categories)),
		ModelVersion:  m.Version,
	}
	best := 0
	for k, category := range models.Categories {
		out.Probabilities[category] = probs[k]
		if probs[k] > probs[best] {
			best = k
		}
	}
	out.Category = models.Categories[best]
	out.Confidence = probs[best]
	return out, nil
}

// Train fits softmax regression on corpus with a seeded initialisation, persists the
// model and swaps it in.
func (c *Classifier) Train(ctx context.Context, corpus []LabeledText, seed int64) (models.ModelReport, error) {
	if len(corpus) == 0 {
		return models.ModelReport{}, fmt.Errorf("classifier corpus is empty")
	}
	labelIndex := make(map[models.Category]int, len(models.Categories))
	for k, category := range models.Categories {
		labelIndex[category] = k
	}

	docs := make([]string, len(corpus))
	labels := make([]int, len(corpus))
	for i, ex := range corpus {
		k, ok := labelIndex[ex.Category]
		if !ok {
			return models.ModelReport{}, fmt.Errorf("example %d: unknown category %q", i, ex.Category)
		}
		docs[i], labels[i] = ex.Text, k
	}

	m := &textModel{Vectorizer: hashingVectorizer{Dim: c.params.Dim}}
	m.Vectorizer.fit(docs)
	X := make([][]sparseEntry, len(docs))
	for i, doc := range docs {
		X[i] = m.Vectorizer.transform(doc)
	}

	K := len(models.Categories)
	r := rand.New(rand.NewSource(seed))
	m.Weights = make([][]float64, K)
	m.Bias = make([]float64, K)
	for k := range m.Weights {
		m.Weights[k] = make([]float64, c.params.Dim)
		for j := range m.Weights[k] {
			m.Weights[k][j] = r.NormFloat64() * 0.01
		}
	}

	gradW := make([][]float64, K)
	for k := range gradW {
		gradW[k] = make([]float64, c.params.Dim)
	}
	gradB := make([]float64, K)
	n := float64(len(X))

	for epoch := 0; epoch < c.params.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return models.ModelReport{}, err
		}
		for k := range gradW {
			floats.Scale(0, gradW[k])
		}
		floats.Scale(0, gradB)

		for i, x := range X {
			p := m.probabilities(x)
			for k := 0; k < K; k++ {
				g := p[k]
				if k == labels[i] {
					g -= 1
				}
				gradB[k] += g
				for _, e := range x {
					gradW[k][e.Index] += g * e.Value
				}
			}
		}

		for k := 0; k < K; k++ {
			floats.Scale(1-c.params.LearningRate*c.params.L2, m.Weights[k])
			floats.AddScaled(m.Weights[k], -c.params.LearningRate/n, gradW[k])
			m.Bias[k] -= c.params.LearningRate * gradB[k] / n
		}
	}

	correct, logLoss := 0, 0.0
	for i, x := range X {
		p := m.probabilities(x)
		if floats.MaxIdx(p) == labels[i] {
			correct++
		}
		logLoss -= math.Log(math.Max(p[labels[i]], 1e-15))
	}

	trainedAt := c.now().UTC()
	m.Version = modelVersion(ClassifierModelName, trainedAt)
	m.Report = models.ModelReport{
		Name:    ClassifierModelName,
		Version: m.Version,
		Samples: len(corpus),
		Metrics: map[string]float64{
			"accuracy": float64(correct) / n,
			"log_loss": logLoss / n,
		},
		TrainedAt: trainedAt,
		Seed:      seed,
	}

	if err := c.model.Replace(ctx, m); err != nil {
		return models.ModelReport{}, err
	}
	c.logger.Info("threat classifier trained",
		slog.String("version", m.Version),
		slog.Int("samples", m.Report.Samples),
		slog.Float64("accuracy", m.Report.Metrics["accuracy"]),
	)
	return m.Report, nil
}

func (m *textModel) probabilities(x []sparseEntry) []float64 {
	logits := make([]float64, len(m.Weights))
	for k, w := range m.Weights {
		z := m.Bias[k]
		for _, e := range x {
			z += w[e.Index] * e.Value
		}
		logits[k] = z
	}
	peak := floats.Max(logits)
	sum := 0.0
	for k, z := range logits {
		logits[k] = math.Exp(z - peak)
		sum += logits[k]
	}
	floats.Scale(1/sum, logits)
	return logits
}
