package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the fusion engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Models      ModelsConfig      `yaml:"models"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Feed        FeedConfig        `yaml:"feed"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	HealthInterval  time.Duration `yaml:"healthInterval"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DatabaseConfig selects the read-model backend. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Migrate         bool          `yaml:"migrate"`
	CandidateWindow time.Duration `yaml:"candidateWindow"`
}

// CacheConfig controls the Redis/Valkey provider used for run claims.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ClaimTTL     time.Duration `yaml:"claimTTL"`
}

// ModelsConfig controls persistence, training and inference of the ML models.
type ModelsConfig struct {
	StorePath         string             `yaml:"storePath"`
	InferenceTimeout  time.Duration      `yaml:"inferenceTimeout"`
	Seed              int64              `yaml:"seed"`
	TrainingSamples   int                `yaml:"trainingSamples"`
	Estimators        int                `yaml:"estimators"`
	LearningRate      float64            `yaml:"learningRate"`
	MaxDepth          int                `yaml:"maxDepth"`
	ClassifierCorpus  string             `yaml:"classifierCorpus"`
	ClassifierEpochs  int                `yaml:"classifierEpochs"`
	SourceReliability map[string]float64 `yaml:"sourceReliability"`
}

// ExtractionConfig controls the indicator/entity extractor.
type ExtractionConfig struct {
	EntityLexicon   string           `yaml:"entityLexicon"`
	VocabularyPath  string           `yaml:"vocabularyPath"`
	DomainDenylist  []string         `yaml:"domainDenylist"`
	Confidence      ConfidenceConfig `yaml:"confidence"`
	SummaryMaxChars int              `yaml:"summaryMaxChars"`
}

// ConfidenceConfig holds the saturation denominators of the extraction confidence.
type ConfidenceConfig struct {
	IOCDenominator     float64 `yaml:"iocDenominator"`
	EntityDenominator  float64 `yaml:"entityDenominator"`
	PatternDenominator float64 `yaml:"patternDenominator"`
}

// CorrelationConfig controls batch correlation.
type CorrelationConfig struct {
	Workers     int           `yaml:"workers"`
	ItemTimeout time.Duration `yaml:"itemTimeout"`
	Prefilter   bool          `yaml:"prefilter"`
}

// SchedulerConfig controls the in-process dispatcher.
type SchedulerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	CorrelationSchedule string `yaml:"correlationSchedule"`
	RetrainSchedule     string `yaml:"retrainSchedule"`
	FeedSyncSchedule    string `yaml:"feedSyncSchedule"`
	QueueWorkers        int    `yaml:"queueWorkers"`
	QueueDepth          int    `yaml:"queueDepth"`
}

// FeedConfig configures the upstream normalized-feed endpoint.
type FeedConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	ThreatsPath string        `yaml:"threatsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AlertsConfig selects the alert sink.
type AlertsConfig struct {
	Sink        string        `yaml:"sink"`
	Brokers     []string      `yaml:"brokers"`
	Topic       string        `yaml:"topic"`
	NATSURL     string        `yaml:"natsURL"`
	Subject     string        `yaml:"subject"`
	SendTimeout time.Duration `yaml:"sendTimeout"`
}

// TracingConfig controls OpenTelemetry span export. When disabled spans are no-ops.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AITA_FUSION_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			HealthInterval:  30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			CandidateWindow: 90 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ClaimTTL:     time.Hour,
		},
		Models: ModelsConfig{
			StorePath:        "data/models.db",
			InferenceTimeout: 5 * time.Second,
			Seed:             42,
			TrainingSamples:  1000,
			Estimators:       100,
			LearningRate:     0.1,
			MaxDepth:         5,
			ClassifierEpochs: 300,
			SourceReliability: map[string]float64{
				"nvd":          0.9,
				"cisa":         0.9,
				"abuseipdb":    0.7,
				"spamhaus":     0.8,
				"ip_blacklist": 0.6,
			},
		},
		Extraction: ExtractionConfig{
			DomainDenylist: []string{"example.com", "test.com", "localhost"},
			Confidence: ConfidenceConfig{
				IOCDenominator:     5,
				EntityDenominator:  5,
				PatternDenominator: 3,
			},
			SummaryMaxChars: 300,
		},
		Correlation: CorrelationConfig{
			Workers:     8,
			ItemTimeout: 30 * time.Second,
			Prefilter:   true,
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			CorrelationSchedule: "@every 5m",
			RetrainSchedule:     "@daily",
			FeedSyncSchedule:    "@every 30m",
			QueueWorkers:        2,
			QueueDepth:          64,
		},
		Feed: FeedConfig{
			ThreatsPath: "/api/v1/threats/normalized",
			Timeout:     30 * time.Second,
		},
		Alerts: AlertsConfig{
			Sink:        "log",
			Topic:       "aita.alerts",
			Subject:     "aita.alerts",
			SendTimeout: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "aita-fusion",
			SampleRatio: 1,
		},
	}
}

func (c Config) validate() error {
	conf := c.Extraction.Confidence
	if conf.IOCDenominator <= 0 || conf.EntityDenominator <= 0 || conf.PatternDenominator <= 0 {
		return fmt.Errorf("extraction.confidence denominators must be positive")
	}
	switch c.Alerts.Sink {
	case "log", "kafka", "nats":
	default:
		return fmt.Errorf("alerts.sink %q not supported", c.Alerts.Sink)
	}
	if c.Alerts.Sink == "kafka" && len(c.Alerts.Brokers) == 0 {
		return fmt.Errorf("alerts.brokers required for kafka sink")
	}
	if c.Alerts.Sink == "nats" && c.Alerts.NATSURL == "" {
		return fmt.Errorf("alerts.natsURL required for nats sink")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sampleRatio must be within [0,1]")
	}
	if c.Correlation.Workers <= 0 {
		return fmt.Errorf("correlation.workers must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AITA_FUSION_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("AITA_FUSION_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("AITA_FUSION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AITA_FUSION_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("AITA_FUSION_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AITA_FUSION_DATABASE_MIGRATE"); v != "" {
		cfg.Database.Migrate = parseBool(v)
	}
	if v := os.Getenv("AITA_FUSION_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("AITA_FUSION_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("AITA_FUSION_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("AITA_FUSION_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("AITA_FUSION_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("AITA_FUSION_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("AITA_FUSION_MODEL_STORE"); v != "" {
		cfg.Models.StorePath = v
	}
	if v := os.Getenv("AITA_FUSION_INFERENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Models.InferenceTimeout = d
		}
	}
	if v := os.Getenv("AITA_FUSION_MODEL_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Models.Seed = seed
		}
	}
	if v := os.Getenv("AITA_FUSION_ENTITY_LEXICON"); v != "" {
		cfg.Extraction.EntityLexicon = v
	}
	if v := os.Getenv("AITA_FUSION_VOCABULARY_PATH"); v != "" {
		cfg.Extraction.VocabularyPath = v
	}
	if v := os.Getenv("AITA_FUSION_CORRELATION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlation.Workers = n
		}
	}
	if v := os.Getenv("AITA_FUSION_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = parseBool(v)
	}
	if v := os.Getenv("AITA_FUSION_FEED_BASE_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("AITA_FUSION_FEED_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Feed.Timeout = d
		}
	}
	if v := os.Getenv("AITA_FUSION_ALERT_SINK"); v != "" {
		cfg.Alerts.Sink = v
	}
	if v := os.Getenv("AITA_FUSION_KAFKA_BROKERS"); v != "" {
		cfg.Alerts.Brokers = splitList(v)
	}
	if v := os.Getenv("AITA_FUSION_ALERT_TOPIC"); v != "" {
		cfg.Alerts.Topic = v
	}
	if v := os.Getenv("AITA_FUSION_NATS_URL"); v != "" {
		cfg.Alerts.NATSURL = v
	}
	if v := os.Getenv("AITA_FUSION_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
