package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 500 * time.Millisecond
	defaultRetryTTL     = 30 * time.Minute
	maxDLQBackoff       = 30 * time.Second
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retry        RetryPolicy
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		logger: logger,
		retry:  RetryPolicy{MaxAttempts: defaultMaxAttempts, Backoff: defaultRetryBackoff},
	}, nil
}

// WithDLQ routes messages that exhaust their retries, or fail with a DLQError, to topic.
func (c *Consumer) WithDLQ(publisher Publisher, topic string) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	return c
}

func (c *Consumer) WithRetry(policy RetryPolicy) *Consumer {
	if policy.MaxAttempts > 0 {
		c.retry.MaxAttempts = policy.MaxAttempts
	}
	if policy.Backoff > 0 {
		c.retry.Backoff = policy.Backoff
	}
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.retry.MaxAttempts, defaultRetryTTL),
		backoff:      c.retry.Backoff,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
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

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
	backoff      time.Duration
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		if !h.process(ctx, msg) {
			// Session ended mid-retry; the offset stays unmarked so the message is redelivered.
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// process runs the handler until it succeeds, the message is dead-lettered, or ctx ends.
// It reports whether the offset may be committed.
func (h *consumerGroupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	key := retryKey(msg)
	for {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			h.retryTracker.clear(key)
			return true
		}

		attempts := h.retryTracker.inc(key)
		var dlqErr *DLQError
		if errors.As(err, &dlqErr) || attempts >= h.retryTracker.maxAttempts {
			if dlqErr == nil {
				dlqErr = &DLQError{Err: err, Reason: "max_attempts_exceeded"}
			}
			h.logger.Error("kafka message dead-lettered", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempts", attempts, "reason", dlqErr.Reason, "error", err)
			if err := h.publishDLQ(ctx, msg, dlqErr, attempts); err != nil {
				return false
			}
			h.retryTracker.clear(key)
			return true
		}

		h.logger.Warn("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempt", attempts, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.backoff * time.Duration(attempts)):
		}
	}
}

// publishDLQ keeps retrying the dead-letter publish until it succeeds or ctx ends.
// The offset must not be committed before the record reaches the DLQ topic.
func (h *consumerGroupHandler) publishDLQ(ctx context.Context, msg *sarama.ConsumerMessage, dlqErr *DLQError, attempts int) error {
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		return nil
	}
	payload := BuildDLQPayload(msg, dlqErr, attempts)
	for try := 1; ; try++ {
		_, _, err := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), payload)
		if err == nil {
			return nil
		}
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "offset", msg.Offset, "try", try, "error", err)

		wait := h.backoff * time.Duration(try)
		if wait > maxDLQBackoff {
			wait = maxDLQBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func retryKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
