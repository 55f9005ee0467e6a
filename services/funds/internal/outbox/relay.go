package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
)

const (
	DefaultBatchSize   = 50
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 5
)

type Config struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

// Relay publishes committed outbox rows to Kafka. Several relays may run against the
// same database; each pass claims its rows with SKIP LOCKED.
type Relay struct {
	store     storage.TxRunner
	publisher kafka.RawPublisher
	dlq       kafka.Publisher
	dlqTopic  string
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
	wake      chan struct{}
	now       func() time.Time
}

func NewRelay(store storage.TxRunner, publisher kafka.RawPublisher, cfg Config, logger *slog.Logger, metrics *Metrics) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Relay) WithDLQ(publisher kafka.Publisher, topic string) *Relay {
	r.dlq = publisher
	r.dlqTopic = topic
	return r
}

// Notify schedules a relay pass without waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}

		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error("outbox relay pass failed", "error", err)
				}
				break
			}
			if n < r.cfg.BatchSize {
				break
			}
		}
	}
}

// RelayOnce publishes one batch and returns the number of rows it marked published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	if r.publisher == nil {
		return 0, fmt.Errorf("outbox publisher not configured")
	}

	var published int
	err := r.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.PendingOutbox(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("load pending outbox: %w", err)
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			done, err := r.publishRow(ctx, tx, row)
			if err != nil {
				return err
			}
			if done {
				published++
			}
		}

		backlog, err := tx.CountPendingOutbox(ctx)
		if err != nil {
			return fmt.Errorf("count pending outbox: %w", err)
		}
		r.metrics.setBacklog(backlog)
		return nil
	})
	return published, err
}

// publishRow reports whether the row left the backlog. Publish failures are recorded on
// the row; only storage errors and cancellation are returned.
func (r *Relay) publishRow(ctx context.Context, tx storage.Tx, row storage.OutboxEvent) (bool, error) {
	_, _, pubErr := r.publisher.Publish(ctx, kafka.Message{
		Topic:   row.RoutingKey,
		Key:     row.AggregateID,
		Value:   row.Payload,
		Headers: headersFor(row),
	})
	if pubErr == nil {
		r.metrics.incPublished(row.EventType)
		return true, tx.MarkOutboxPublished(ctx, row.ID, r.now())
	}
	if errors.Is(pubErr, context.Canceled) {
		return false, pubErr
	}

	r.metrics.incFailure(row.EventType)
	attempts, err := tx.MarkOutboxFailed(ctx, row.ID, pubErr.Error())
	if err != nil {
		return false, fmt.Errorf("mark outbox failed: %w", err)
	}
	r.logger.Warn("outbox publish failed",
		"outbox_id", row.ID,
		"event_type", row.EventType,
		"attempts", attempts,
		"error", pubErr,
	)
	if attempts < r.cfg.MaxAttempts {
		return false, nil
	}

	if r.dlq == nil || r.dlqTopic == "" {
		r.logger.Error("outbox event exhausted retries without dead-letter topic",
			"outbox_id", row.ID, "event_type", row.EventType)
		return false, nil
	}
	payload := kafka.BuildPublishDLQPayload(row.RoutingKey, row.AggregateID, json.RawMessage(row.Payload), pubErr, "max_attempts_exceeded", attempts)
	if _, _, err := r.dlq.PublishJSON(ctx, r.dlqTopic, row.AggregateID, payload); err != nil {
		r.logger.Error("outbox dead-letter publish failed", "outbox_id", row.ID, "error", err)
		return false, nil
	}
	r.metrics.incDeadLettered()
	return true, tx.MarkOutboxPublished(ctx, row.ID, r.now())
}

func headersFor(row storage.OutboxEvent) map[string]string {
	headers := map[string]string{
		"event_id":       row.EventID,
		"event_type":     row.EventType,
		"exchange":       row.Exchange,
		"aggregate_type": row.AggregateType,
	}
	if row.CorrelationID != "" {
		headers["correlation_id"] = row.CorrelationID
	}
	return headers
}
