// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Events are JSON; the consumer either hands messages
// to a handler one at a time or collects them into size/time bounded batches.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BScong/text-indexing/pkg/config"
)

// Message is a fetched Kafka record.
type Message = kafka.Message

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// BatchHandler processes a batch of messages. The batch is committed only
// when it returns nil.
type BatchHandler func(ctx context.Context, msgs []Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from one topic as part of a consumer group.
type Consumer struct {
	reader     messageReader
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewConsumer creates a Consumer for topic. With an empty group it joins the
// configured consumer group and a new group starts from the oldest message.
// A non-empty group is treated as private to this process, so that every
// searcher replica receives every index-complete event; it starts from the
// newest message.
func NewConsumer(cfg config.KafkaConfig, topic, group string) *Consumer {
	start := kafka.LastOffset
	if group == "" {
		group = cfg.ConsumerGroup
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: start,
	})
	return newConsumer(r, topic)
}

func newConsumer(r messageReader, topic string) *Consumer {
	return &Consumer{
		reader:     r,
		retryDelay: time.Second,
		logger:     slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start fetches and handles messages one at a time until ctx is cancelled.
// Messages whose handler fails are not committed.
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"value_size", len(msg.Value),
		)
		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

// StartBatch collects up to size messages, or whatever arrived within
// timeout of the first one, and passes them to handler. A failed batch is
// handed to handler again until it succeeds or ctx is cancelled.
func (c *Consumer) StartBatch(ctx context.Context, size int, timeout time.Duration, handler BatchHandler) error {
	if size < 1 {
		size = 1
	}
	c.logger.Info("batch consumer started", "batch_size", size, "batch_timeout", timeout)
	batch := make([]Message, 0, size)
	var deadline time.Time

	for {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if len(batch) > 0 {
			fetchCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		switch {
		case err == nil:
			if len(batch) == 0 {
				deadline = time.Now().Add(timeout)
			}
			batch = append(batch, msg)
			if len(batch) < size {
				continue
			}
		case ctx.Err() != nil:
			c.logger.Info("batch consumer stopping", "pending", len(batch), "reason", ctx.Err())
			return nil
		case errors.Is(err, context.DeadlineExceeded) && len(batch) > 0:
			// window closed with a partial batch
		default:
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		if err := c.flush(ctx, batch, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("batch failed, retrying", "messages", len(batch), "error", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil
			}
			deadline = time.Now()
			continue
		}
		batch = batch[:0]
	}
}

func (c *Consumer) flush(ctx context.Context, batch []Message, handler BatchHandler) error {
	if err := handler(ctx, batch); err != nil {
		return err
	}
	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		c.logger.Error("failed to commit batch", "messages", len(batch), "error", err)
	}
	c.logger.Debug("batch committed", "messages", len(batch))
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
