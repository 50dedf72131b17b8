package models

import "time"

// CorrelationType tags which indicator family linked a log event to a threat.
type CorrelationType string

const (
	CorrelationIPMatch      CorrelationType = "ip_match"
	CorrelationDomainMatch  CorrelationType = "domain_match"
	CorrelationHashMatch    CorrelationType = "hash_match"
	CorrelationPatternMatch CorrelationType = "pattern_match"
)

// CorrelationResult links one log event to its best matching threat. Results are never
// mutated; a later correlation for the same event supersedes the earlier row.
type CorrelationResult struct {
	ID                string          `json:"id"`
	LogEventID        int64           `json:"log_event_id"`
	ThreatID          int64           `json:"threat_id"`
	RunID             string          `json:"run_id,omitempty"`
	Score             float64         `json:"score"`
	MatchedIndicators []string        `json:"matched_indicators"`
	Type              CorrelationType `json:"correlation_type"`
	CreatedAt         time.Time       `json:"created_at"`
}

// LogEvent is an observed security event awaiting correlation.
type LogEvent struct {
	ID            int64     `json:"id" db:"id"`
	SourceIP      string    `json:"source_ip" db:"source_ip"`
	DestinationIP string    `json:"destination_ip,omitempty" db:"destination_ip"`
	Domain        string    `json:"domain,omitempty" db:"domain"`
	URL           string    `json:"url,omitempty" db:"url"`
	FileHash      string    `json:"file_hash,omitempty" db:"file_hash"`
	Message       string    `json:"message" db:"message"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// BatchResult aggregates the counts of one correlation batch. Counts are reported even
// when individual events fail.
type BatchResult struct {
	RunID             string        `json:"run_id"`
	LogsProcessed     int           `json:"logs_processed"`
	CorrelationsFound int           `json:"correlations_found"`
	AlertsGenerated   int           `json:"alerts_generated"`
	Failures          int           `json:"failures"`
	Skipped           int           `json:"skipped"`
	Duration          time.Duration `json:"duration"`
}

// Alert is emitted for correlations scoring above the alert threshold.
type Alert struct {
	ID                string          `json:"id"`
	CorrelationID     string          `json:"correlation_id"`
	RunID             string          `json:"run_id"`
	LogEventID        int64           `json:"log_event_id"`
	ThreatID          int64           `json:"threat_id"`
	Score             float64         `json:"score"`
	Type              CorrelationType `json:"correlation_type"`
	MatchedIndicators []string        `json:"matched_indicators"`
	SourceIP          string          `json:"source_ip,omitempty"`
	Domain            string          `json:"domain,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
