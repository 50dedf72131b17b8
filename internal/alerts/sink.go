package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aitastack/aita-fusion/internal/models"
)

// Sink delivers alerts for high-scoring correlations. The pipeline calls Send exactly
// once per qualifying correlation; delivery guarantees beyond that belong to the sink.
type Sink interface {
	Send(ctx context.Context, ev models.LogEvent, corr models.CorrelationResult) error
	Close() error
}

// NewAlert builds the alert payload with a fresh alert id.
func NewAlert(ev models.LogEvent, corr models.CorrelationResult, now time.Time) models.Alert {
	return models.Alert{
		ID:                uuid.NewString(),
		CorrelationID:     corr.ID,
		RunID:             corr.RunID,
		LogEventID:        ev.ID,
		ThreatID:          corr.ThreatID,
		Score:             corr.Score,
		Type:              corr.Type,
		MatchedIndicators: corr.MatchedIndicators,
		SourceIP:          ev.SourceIP,
		Domain:            ev.Domain,
		CreatedAt:         now.UTC(),
	}
}
