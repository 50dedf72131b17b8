package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/aitastack/aita-fusion/internal/models"
	"github.com/aitastack/aita-fusion/internal/utils"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink publishes alerts as JSON records keyed by log event id.
type KafkaSink struct {
	client  producer
	topic   string
	timeout time.Duration
	now     func() time.Time
}

// NewKafkaSink connects a franz-go producer to brokers.
func NewKafkaSink(brokers []string, topic string, timeout time.Duration) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaSink(client, topic, timeout), nil
}

func newKafkaSink(client producer, topic string, timeout time.Duration) *KafkaSink {
	return &KafkaSink{client: client, topic: topic, timeout: timeout, now: time.Now}
}

// Send produces one record and waits for the broker acknowledgement.
func (s *KafkaSink) Send(ctx context.Context, ev models.LogEvent, corr models.CorrelationResult) error {
	alert := NewAlert(ev, corr, s.now())
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(strconv.FormatInt(ev.ID, 10)),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "alert_id", Value: []byte(alert.ID)},
			{Key: "correlation_type", Value: []byte(alert.Type)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return utils.Transient(fmt.Errorf("produce alert %s: %w", alert.ID, err))
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}
