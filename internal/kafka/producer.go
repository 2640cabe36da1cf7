package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// OutcomeMessage is the terminal fulfillment result published for
// downstream consumers (order management, customer messaging).
type OutcomeMessage struct {
	TrackingID      string                   `json:"tracking_id"`
	LocalOrderID    string                   `json:"local_order_id"`
	LocalOrderType  string                   `json:"local_order_type"`
	Status          domain.FulfillmentStatus `json:"status"`
	ExternalMessage string                   `json:"external_message,omitempty"`
	OccurredAt      time.Time                `json:"occurred_at"`
}

// ProducerConfig configures the outcome producer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// DefaultProducerConfig returns sensible defaults for production.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "fulfillment.outcomes",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false, // Sync for reliability
	}
}

// OutcomeProducer publishes terminal outcomes to Kafka. It satisfies the
// tracker's notifier contract, so the publish happens exactly once per
// tracking record.
type OutcomeProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewOutcomeProducer(config ProducerConfig, logger *slog.Logger) *OutcomeProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.RoundRobin{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequireAll, // Wait for all replicas
		Async:        config.Async,
		Compression:  kafka.Snappy,
	}

	return &OutcomeProducer{
		writer: writer,
		logger: logger,
	}
}

// Send publishes one terminal outcome, keyed by local order ID so all
// outcomes for one order land on the same partition.
func (p *OutcomeProducer) Send(ctx context.Context, outcome domain.Outcome) error {
	value, err := json.Marshal(OutcomeMessage{
		TrackingID:      outcome.TrackingID,
		LocalOrderID:    outcome.LocalOrderID,
		LocalOrderType:  outcome.LocalOrderType,
		Status:          outcome.Status,
		ExternalMessage: outcome.ExternalMessage,
		OccurredAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(outcome.LocalOrderID),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}

	p.logger.Debug("outcome published",
		"tracking_id", outcome.TrackingID,
		"status", outcome.Status,
	)
	return nil
}

// Close closes the producer.
func (p *OutcomeProducer) Close() error {
	return p.writer.Close()
}
