// Package kafka is the order intake: paid orders arrive on a topic and are
// handed to the dispatcher. Offsets are committed manually after
// processing, and only up to the first order that failed durably, so a
// paid order is never lost to a commit that outran its dispatch. The
// tracker's duplicate check makes the resulting redeliveries safe.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// ConsumerConfig defines Kafka consumer parameters.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	InstanceID    string
	BatchTimeout  time.Duration // Max time to collect messages before processing
	CommitTimeout time.Duration // Timeout for offset commits
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Topic:         "orders.paid",
		GroupID:       "fulfillment-engine",
		BatchTimeout:  100 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
	}
}

// OrderMessage is one paid order awaiting fulfillment.
type OrderMessage struct {
	LocalOrderID   string         `json:"local_order_id"`
	LocalOrderType string         `json:"local_order_type"`
	RecipientPhone string         `json:"recipient_phone"`
	Network        domain.Network `json:"network,omitempty"`
	SizeGB         float64        `json:"size_gb"`
}

// BatchResult reports how a batch of paid orders fared. Handled counts the
// leading orders whose offsets are safe to commit; an order that failed
// before a durable record existed ends the prefix, so it and everything
// after it are redelivered.
type BatchResult struct {
	Handled    int
	Dispatched int
	Skipped    int
	Failed     int
}

// OrderHandler dispatches a batch of paid orders.
type OrderHandler interface {
	HandleBatch(ctx context.Context, orders []*OrderMessage) BatchResult
}

// Consumer reads paid orders from Kafka and feeds the dispatcher.
type Consumer struct {
	config  ConsumerConfig
	reader  *kafka.Reader
	handler OrderHandler
	logger  *slog.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
}

func NewConsumer(config ConsumerConfig, handler OrderHandler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        config.BatchTimeout,
		CommitInterval: 0, // Manual commits only
		StartOffset:    kafka.LastOffset,
		GroupBalancers: []kafka.GroupBalancer{
			kafka.RangeGroupBalancer{},
			kafka.RoundRobinGroupBalancer{},
		},
		IsolationLevel: kafka.ReadCommitted,
	})

	return &Consumer{
		config:   config,
		reader:   reader,
		handler:  handler,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Start begins consuming messages.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("kafka consumer started",
		"topic", c.config.Topic,
		"group", c.config.GroupID,
		"instance", c.config.InstanceID,
		"batch_timeout", c.config.BatchTimeout,
	)
}

// Stop gracefully shuts down the consumer.
func (c *Consumer) Stop() {
	close(c.shutdown)
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("failed to close kafka reader", "error", err)
	}
	c.logger.Info("kafka consumer stopped")
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		batch, orders, malformed := c.collectBatch(ctx)
		committed := true
		if len(batch) > 0 {
			committed = c.processBatchAndCommit(ctx, batch, orders)
		}
		// A malformed message is skipped, but only once every offset before
		// it is committed; committing it early would drag those along.
		if malformed != nil && committed {
			if err := c.commitMessages(ctx, []kafka.Message{*malformed}); err != nil {
				c.logger.Error("failed to commit malformed message", "error", err)
			}
		}
	}
}

// collectBatch fetches messages until the batch timeout elapses or a
// message fails to parse. The unparseable message ends the batch and is
// returned separately so the caller can commit it after the messages
// collected before it.
func (c *Consumer) collectBatch(ctx context.Context) ([]kafka.Message, []*OrderMessage, *kafka.Message) {
	var batch []kafka.Message
	var orders []*OrderMessage

	deadline := time.Now().Add(c.config.BatchTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return batch, orders, nil
		case <-c.shutdown:
			return batch, orders, nil
		default:
		}

		// Short timeout for each fetch to stay responsive
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > 10*time.Millisecond {
			remaining = 10 * time.Millisecond
		}

		readCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := c.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if err == context.DeadlineExceeded || err == context.Canceled {
				continue
			}
			c.logger.Error("failed to fetch message", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		var order OrderMessage
		if err := json.Unmarshal(msg.Value, &order); err != nil {
			c.logger.Error("failed to unmarshal order",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return batch, orders, &msg
		}

		batch = append(batch, msg)
		orders = append(orders, &order)
	}

	return batch, orders, nil
}

// processBatchAndCommit hands the batch to the dispatcher and commits the
// handled prefix. It reports whether the whole batch was committed.
func (c *Consumer) processBatchAndCommit(ctx context.Context, messages []kafka.Message, orders []*OrderMessage) bool {
	if len(orders) == 0 {
		return true
	}

	start := time.Now()
	result := c.handler.HandleBatch(ctx, orders)

	c.logger.Debug("batch processed",
		"total", len(orders),
		"handled", result.Handled,
		"dispatched", result.Dispatched,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// At-least-once: commit only the handled prefix. Offsets at and past
	// the first durable failure stay uncommitted so the broker redelivers
	// those orders; the tracker's duplicate check absorbs the overlap.
	if result.Handled < len(messages) {
		c.logger.Warn("batch partially handled, tail will be redelivered",
			"handled", result.Handled,
			"total", len(messages),
		)
	}
	if result.Handled == 0 {
		return false
	}
	if err := c.commitMessages(ctx, messages[:result.Handled]); err != nil {
		c.logger.Error("failed to commit messages",
			"error", err,
			"count", result.Handled,
		)
		return false
	}
	return result.Handled == len(messages)
}

func (c *Consumer) commitMessages(ctx context.Context, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.config.CommitTimeout)
	defer cancel()

	return c.reader.CommitMessages(commitCtx, messages...)
}

// Stats returns consumer statistics.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}
