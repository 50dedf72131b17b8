package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aitastack/aita-fusion/internal/alerts"
	"github.com/aitastack/aita-fusion/internal/cache"
	"github.com/aitastack/aita-fusion/internal/config"
	"github.com/aitastack/aita-fusion/internal/engine"
	"github.com/aitastack/aita-fusion/internal/extractors"
	"github.com/aitastack/aita-fusion/internal/ingest"
	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/repo"
	"github.com/aitastack/aita-fusion/internal/services"
	"github.com/aitastack/aita-fusion/internal/utils"
)

type store interface {
	engine.ThreatStore
	engine.LogStore
	Ping(ctx context.Context) error
	Close() error
}

// app owns every long-lived dependency built from config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	extractor *extractors.Extractor
	scorer    *ml.RiskScorer
	pipeline  *engine.Pipeline
	checks    []services.HealthCheck
	closers   []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	storeOpts := repo.StoreOptions{CandidateWindow: cfg.Database.CandidateWindow}

	var st store
	if cfg.Database.DSN != "" {
		pg, err := repo.OpenPostgres(ctx, repo.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, storeOpts)
		if err != nil {
			return utils.NewAppError("build", "open postgres store", err)
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return err
			}
		}
		st = pg
	} else {
		a.logger.Warn("database.dsn empty, using in-memory store")
		st = repo.NewMemoryStore(storeOpts)
	}
	a.closers = append(a.closers, st.Close)
	a.checks = append(a.checks, services.HealthCheck{Name: "store", Required: true, Check: st.Ping})

	var claims cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			a.logger.Warn("redis cache unavailable, claims kept in memory", slog.Any("error", err))
		} else {
			claims = provider
			a.checks = append(a.checks, services.HealthCheck{Name: "cache", Check: provider.Ping})
		}
	}
	a.closers = append(a.closers, claims.Close)

	var modelStore ml.ModelStore = ml.NewMemoryStore()
	if cfg.Models.StorePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Models.StorePath), 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
		bolt, err := ml.OpenBoltStore(cfg.Models.StorePath)
		if err != nil {
			return utils.NewAppError("build", "open model store", err)
		}
		modelStore = bolt
		a.closers = append(a.closers, bolt.Close)
	}

	extractor, err := a.buildExtractor()
	if err != nil {
		return err
	}
	a.extractor = extractor

	boosting := ml.DefaultBoostingParams()
	boosting.Estimators = cfg.Models.Estimators
	boosting.LearningRate = cfg.Models.LearningRate
	boosting.MaxDepth = cfg.Models.MaxDepth
	a.scorer = ml.NewRiskScorer(a.logger, modelStore, boosting, cfg.Models.InferenceTimeout)
	classifier := ml.NewClassifier(a.logger, modelStore, ml.ClassifierParams{
		Epochs: cfg.Models.ClassifierEpochs,
	}, cfg.Models.InferenceTimeout)
	a.checks = append(a.checks,
		services.HealthCheck{Name: "risk_model", Check: readiness(a.scorer.Ready)},
		services.HealthCheck{Name: "classifier_model", Check: readiness(classifier.Ready)},
		services.HealthCheck{Name: "entity_extraction", Check: func(context.Context) error {
			if !extractor.EntityExtractionAvailable() {
				return errors.New("entity recognizer unavailable")
			}
			return nil
		}},
	)

	var corpus []ml.LabeledText
	if cfg.Models.ClassifierCorpus != "" {
		corpus, err = ml.LoadClassifierCorpus(cfg.Models.ClassifierCorpus)
		if err != nil {
			return err
		}
	}

	sink, err := a.buildSink()
	if err != nil {
		return utils.NewAppError("build", "connect alert sink "+cfg.Alerts.Sink, err)
	}
	a.closers = append(a.closers, sink.Close)

	var feed engine.FeedSource
	if cfg.Feed.BaseURL != "" {
		feed = ingest.NewFeedClient(cfg.Feed.BaseURL, cfg.Feed.ThreatsPath, cfg.Feed.Timeout)
	}

	a.pipeline = engine.NewPipeline(a.logger, engine.Dependencies{
		Threats:    st,
		Logs:       st,
		Extractor:  extractor,
		Scorer:     a.scorer,
		Classifier: classifier,
		Alerts:     sink,
		Claims:     claims,
		Feed:       feed,
	}, engine.Options{
		Workers:           cfg.Correlation.Workers,
		ItemTimeout:       cfg.Correlation.ItemTimeout,
		ClaimTTL:          cfg.Cache.ClaimTTL,
		Prefilter:         cfg.Correlation.Prefilter,
		SourceReliability: cfg.Models.SourceReliability,
		SummaryMaxChars:   cfg.Extraction.SummaryMaxChars,
		Seed:              cfg.Models.Seed,
		TrainingSamples:   cfg.Models.TrainingSamples,
		ClassifierCorpus:  corpus,
	})
	return nil
}

func (a *app) buildExtractor() (*extractors.Extractor, error) {
	cfg := a.cfg.Extraction
	vocab, err := extractors.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}

	opts := extractors.Options{
		Logger:     a.logger,
		Vocabulary: &vocab,
		Denylist:   cfg.DomainDenylist,
		Weights: extractors.ConfidenceWeights{
			IOC:     cfg.Confidence.IOCDenominator,
			Entity:  cfg.Confidence.EntityDenominator,
			Pattern: cfg.Confidence.PatternDenominator,
		},
	}
	if cfg.EntityLexicon != "" {
		recognizer, err := extractors.NewLexiconRecognizer(cfg.EntityLexicon)
		if err != nil {
			a.logger.Warn("entity lexicon unavailable", slog.String("path", cfg.EntityLexicon), slog.Any("error", err))
		} else {
			opts.Entities = recognizer
		}
	}
	return extractors.NewExtractor(opts), nil
}

func (a *app) buildSink() (alerts.Sink, error) {
	cfg := a.cfg.Alerts
	switch cfg.Sink {
	case "kafka":
		return alerts.NewKafkaSink(cfg.Brokers, cfg.Topic, cfg.SendTimeout)
	case "nats":
		return alerts.NewNATSSink(cfg.NATSURL, cfg.Subject, cfg.SendTimeout)
	default:
		return alerts.NewLogSink(a.logger), nil
	}
}

// Close releases dependencies in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close dependency", slog.Any("error", err))
		}
	}
	a.closers = nil
}

func readiness(ready func(context.Context) bool) func(context.Context) error {
	return func(ctx context.Context) error {
		if !ready(ctx) {
			return ml.ErrModelUnavailable
		}
		return nil
	}
}
