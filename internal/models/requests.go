package models

import "time"

// FeatureVector is the fixed 7-dimensional input of the risk scorer.
type FeatureVector struct {
	CVSSScore           float64 `json:"cvss_score"`
	SourceReliability   float64 `json:"source_reliability"`
	ThreatAgeDays       float64 `json:"threat_age_days"`
	IOCCount            float64 `json:"ioc_count"`
	ExternalReferences  float64 `json:"external_references"`
	ExploitAvailability float64 `json:"exploit_availability"`
	TargetPrevalence    float64 `json:"target_prevalence"`
}

// FeatureNames lists the vector dimensions in model order.
var FeatureNames = []string{
	"cvss_score",
	"source_reliability",
	"threat_age_days",
	"ioc_count",
	"external_references",
	"exploit_availability",
	"target_prevalence",
}

// Slice returns the vector in model order.
func (f FeatureVector) Slice() []float64 {
	return []float64{
		f.CVSSScore,
		f.SourceReliability,
		f.ThreatAgeDays,
		f.IOCCount,
		f.ExternalReferences,
		f.ExploitAvailability,
		f.TargetPrevalence,
	}
}

// RiskAssessment is the scorer output for one threat.
type RiskAssessment struct {
	ThreatID     int64         `json:"threat_id"`
	Score        float64       `json:"risk_score"`
	Level        RiskLevel     `json:"risk_level"`
	Features     FeatureVector `json:"features"`
	ModelVersion string        `json:"model_version"`
}

// Classification is the classifier output for one threat.
type Classification struct {
	ThreatID      int64                `json:"threat_id"`
	Category      Category             `json:"category"`
	Confidence    float64              `json:"confidence"`
	Probabilities map[Category]float64 `json:"probabilities"`
	ModelVersion  string               `json:"model_version"`
}

// Enrichment bundles every derived field produced for one threat.
type Enrichment struct {
	ThreatID       int64            `json:"threat_id"`
	Extraction     ExtractionResult `json:"extraction"`
	Classification *Classification  `json:"classification,omitempty"`
	Risk           *RiskAssessment  `json:"risk,omitempty"`
	Summary        string           `json:"summary,omitempty"`
}

// ModelReport describes one training run.
type ModelReport struct {
	Name      string             `json:"name"`
	Version   string             `json:"version"`
	Samples   int                `json:"samples"`
	Metrics   map[string]float64 `json:"metrics"`
	TrainedAt time.Time          `json:"trained_at"`
	Seed      int64              `json:"seed"`
}

// TrainingReport summarises a retraining run across both models.
type TrainingReport struct {
	Scorer     ModelReport `json:"scorer"`
	Classifier ModelReport `json:"classifier"`
}

// Rejection describes an upstream record that failed validation at ingestion. Rejected
// records are reported, never stored.
type Rejection struct {
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	Reason     string    `json:"reason"`
	Payload    []byte    `json:"payload,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}

// IngestReport summarises one feed synchronisation.
type IngestReport struct {
	Fetched    int         `json:"fetched"`
	Accepted   int         `json:"accepted"`
	ThreatIDs  []int64     `json:"threat_ids"`
	Rejections []Rejection `json:"rejections"`
}
