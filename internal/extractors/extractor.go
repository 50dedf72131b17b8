package extractors

import (
	"context"
	"log/slog"
	"math"

	"github.com/aitastack/aita-fusion/internal/models"
)

// ConfidenceWeights holds the saturation denominators for each extracted group.
type ConfidenceWeights struct {
	IOC     float64
	Entity  float64
	Pattern float64
}

// DefaultConfidenceWeights mirrors the denominators the pipeline has always used.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{IOC: 5, Entity: 5, Pattern: 3}
}

// Options configures an Extractor.
type Options struct {
	Logger     *slog.Logger
	Entities   EntityRecognizer
	Vocabulary *Vocabulary
	Denylist   []string
	Weights    ConfidenceWeights
}

// Extractor pulls IOCs, named entities and attack patterns out of free text.
type Extractor struct {
	logger          *slog.Logger
	entities        EntityRecognizer
	entitiesEnabled bool
	vocab           Vocabulary
	denylist        []string
	weights         ConfidenceWeights
}

// NewExtractor constructs an extractor. Entity extraction availability is decided here,
// once, and never rechecked.
func NewExtractor(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	vocab := DefaultVocabulary()
	if opts.Vocabulary != nil {
		vocab = *opts.Vocabulary
	}
	denylist := opts.Denylist
	if denylist == nil {
		denylist = DefaultDomainDenylist
	}
	weights := opts.Weights
	if weights.IOC <= 0 || weights.Entity <= 0 || weights.Pattern <= 0 {
		weights = DefaultConfidenceWeights()
	}

	enabled := opts.Entities != nil && opts.Entities.Available()
	if !enabled {
		logger.Info("entity extraction unavailable, stage disabled")
	}

	return &Extractor{
		logger:          logger,
		entities:        opts.Entities,
		entitiesEnabled: enabled,
		vocab:           vocab,
		denylist:        denylist,
		weights:         weights,
	}
}

// EntityExtractionAvailable reports the capability flag computed at construction.
func (e *Extractor) EntityExtractionAvailable() bool {
	return e.entitiesEnabled
}

// Extract produces the full fact set for text. It never fails: a recognizer failure
// degrades to an empty entity set and is logged.
func (e *Extractor) Extract(ctx context.Context, text string) models.ExtractionResult {
	result := models.NewExtractionResult()
	if text == "" {
		return result
	}

	result.IOCs = ExtractIOCs(text, e.denylist)
	result.AttackPatterns = e.vocab.Match(text)

	if e.entitiesEnabled {
		entities, err := e.entities.Recognize(ctx, text)
		if err != nil {
			e.logger.Warn("entity extraction failed", slog.Any("error", err))
		} else {
			for kind, values := range entities {
				result.Entities[kind] = values
			}
		}
	}

	result.Confidence = Confidence(result.IOCCount(), result.EntityCount(), result.PatternCount(), e.weights)
	return result
}

// Confidence aggregates group counts into [0,1]; it is exactly zero when nothing was found.
func Confidence(iocs, entities, patterns int, w ConfidenceWeights) float64 {
	if iocs+entities+patterns == 0 {
		return 0
	}
	score := 0.4*math.Min(1, float64(iocs)/w.IOC) +
		0.3*math.Min(1, float64(entities)/w.Entity) +
		0.3*math.Min(1, float64(patterns)/w.Pattern)
	return math.Min(1, score)
}
