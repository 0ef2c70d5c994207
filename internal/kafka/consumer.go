package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

const (
	retryBackoff    = 500 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group    sarama.ConsumerGroup
	dlq      Publisher
	dlqTopic string
	logger   *slog.Logger
}

func ConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true
	return cfg
}

// NewConsumer joins groupID. Messages whose handler returns a DLQError are
// published to dlqTopic through dlq.
func NewConsumer(brokers []string, groupID string, dlq Publisher, dlqTopic string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, ConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return &Consumer{group: group, dlq: dlq, dlqTopic: dlqTopic, logger: logger}, nil
}

// Consume blocks until ctx is done, rejoining the group after each rebalance.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}
	cg := &groupHandler{handler: handler, dlq: c.dlq, dlqTopic: c.dlqTopic, logger: c.logger}
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("kafka consumer group error", "error", err)
		}
	}()
	for {
		if err := c.group.Consume(ctx, topics, cg); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct {
	handler  MessageHandler
	dlq      Publisher
	dlqTopic string
	logger   *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles messages in order. A transient failure is retried with
// backoff on the same message; the claim gives up only when the session ends,
// leaving the offset unmarked for the next owner.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		if !h.handle(ctx, msg) {
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *groupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	backoff := retryBackoff
	for {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			return true
		}
		var dlqErr *DLQError
		if errors.As(err, &dlqErr) {
			return h.deadLetter(ctx, msg, dlqErr)
		}
		h.logger.Warn("kafka message retry", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		if !wait(ctx, &backoff) {
			return false
		}
	}
}

// deadLetter reports whether msg reached the DLQ topic. A failed publish is
// retried like a failed handler, so a rejected message is never marked
// before it has been recorded somewhere.
func (h *groupHandler) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, err *DLQError) bool {
	h.logger.Warn("kafka message dead-lettered", "topic", msg.Topic, "offset", msg.Offset, "reason", err.Reason, "error", err.Err)
	if h.dlq == nil || h.dlqTopic == "" {
		return true
	}
	payload := BuildDLQPayload(msg, err)
	backoff := retryBackoff
	for {
		_, _, pubErr := h.dlq.PublishJSON(ctx, h.dlqTopic, string(msg.Key), payload)
		if pubErr == nil {
			return true
		}
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "offset", msg.Offset, "error", pubErr)
		if !wait(ctx, &backoff) {
			return false
		}
	}
}

// wait sleeps for *backoff, doubling it up to maxRetryBackoff, and reports
// false when ctx ends first.
func wait(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff = min(*backoff*2, maxRetryBackoff)
	return true
}
