package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "funds:processed:"
	defaultTTL    = 24 * time.Hour
)

// Guard records which (consumer, correlation id) pairs have already taken effect.
// Postgres is authoritative; redis, when configured, only short-circuits redeliveries.
type Guard struct {
	store  storage.TxRunner
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewGuard(store storage.TxRunner, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:  store,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithRedis enables the read-through fast path.
func (g *Guard) WithRedis(client *redis.Client, prefix string, ttl time.Duration) *Guard {
	g.redis = client
	if prefix != "" {
		g.prefix = prefix
	}
	if ttl > 0 {
		g.ttl = ttl
	}
	return g
}

var errAlreadyProcessed = errors.New("already processed")

// Key is the processed_events key for one consumer's view of a correlation id.
func Key(consumer, correlationID string) string {
	return strings.TrimSpace(consumer) + ":" + strings.TrimSpace(correlationID)
}

// Exists reports whether consumer has already processed correlationID.
func (g *Guard) Exists(ctx context.Context, consumer, correlationID string) (bool, error) {
	key := Key(consumer, correlationID)
	if g.cached(ctx, key) {
		return true, nil
	}
	var exists bool
	err := g.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		exists, err = tx.IsProcessed(ctx, key)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check processed %s: %w", key, err)
	}
	return exists, nil
}

// MarkAsProcessed records (consumer, correlationID) in the unit of work carried by ctx,
// or in its own.
func (g *Guard) MarkAsProcessed(ctx context.Context, consumer, correlationID string) error {
	key := Key(consumer, correlationID)
	return g.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.MarkProcessed(ctx, key, consumer, g.now()); err != nil {
			return fmt.Errorf("mark processed %s: %w", key, err)
		}
		tx.AfterCommit(func() { g.remember(key) })
		return nil
	})
}

// Run executes fn at most once per (consumer, correlationID). The key is claimed
// before fn runs and in the same unit of work: a concurrent delivery of the same key
// blocks on the claim and then skips fn, and a failing fn releases the claim for
// redelivery. applied is false when the key had already been processed.
func (g *Guard) Run(ctx context.Context, consumer, correlationID string, fn func(ctx context.Context) error) (bool, error) {
	if strings.TrimSpace(correlationID) == "" {
		return false, fmt.Errorf("correlation id is required")
	}
	key := Key(consumer, correlationID)
	if g.cached(ctx, key) {
		return false, nil
	}

	err := g.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		claimed, err := tx.MarkProcessed(ctx, key, consumer, g.now())
		if err != nil {
			return fmt.Errorf("mark processed %s: %w", key, err)
		}
		if !claimed {
			return errAlreadyProcessed
		}
		if err := fn(ctx); err != nil {
			return err
		}
		tx.AfterCommit(func() { g.remember(key) })
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyProcessed):
		g.remember(key)
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (g *Guard) cached(ctx context.Context, key string) bool {
	if g.redis == nil {
		return false
	}
	n, err := g.redis.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		g.logger.Warn("idempotency cache lookup failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

func (g *Guard) remember(key string) {
	if g.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.redis.Set(ctx, g.prefix+key, 1, g.ttl).Err(); err != nil {
		g.logger.Warn("idempotency cache write failed", "key", key, "error", err)
	}
}
