package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSSink publishes alerts as JSON messages on a subject.
type NATSSink struct {
	conn    publisher
	subject string
	timeout time.Duration
	now     func() time.Time
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url, subject string, timeout time.Duration) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("aita-fusion"), nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSSink(conn, subject, timeout), nil
}

func newNATSSink(conn publisher, subject string, timeout time.Duration) *NATSSink {
	return &NATSSink{conn: conn, subject: subject, timeout: timeout, now: time.Now}
}

// Send publishes one message and flushes so failures surface to the caller.
func (s *NATSSink) Send(ctx context.Context, ev models.LogEvent, corr models.CorrelationResult) error {
	alert := NewAlert(ev, corr, s.now())
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return utils.Transient(fmt.Errorf("publish alert %s: %w", alert.ID, err))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return utils.Transient(fmt.Errorf("flush alert %s: %w", alert.ID, err))
	}
	return nil
}

// Close closes the connection.
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
