package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/aitastack/aita-fusion/internal/models"
)

// LogSink writes alerts to the structured log. It is the default sink.
type LogSink struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLogSink constructs a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, now: time.Now}
}

// Send logs the alert at warn level.
func (s *LogSink) Send(ctx context.Context, ev models.LogEvent, corr models.CorrelationResult) error {
	alert := NewAlert(ev, corr, s.now())
	s.logger.WarnContext(ctx, "threat correlation alert",
		slog.String("alert_id", alert.ID),
		slog.Int64("log_event_id", alert.LogEventID),
		slog.Int64("threat_id", alert.ThreatID),
		slog.Float64("score", alert.Score),
		slog.String("correlation_type", string(alert.Type)),
		slog.Any("matched_indicators", alert.MatchedIndicators),
	)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
