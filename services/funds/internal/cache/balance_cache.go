package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	defaultPrefix = "funds:balance:"
	defaultTTL    = 30 * time.Second
)

// Balance is the cached wallet summary.
type Balance struct {
	WalletID  string          `json:"wallet_id"`
	UserID    string          `json:"user_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// BalanceCache is a read-through cache in front of the wallet projection. A nil
// *BalanceCache is valid and always misses.
type BalanceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, prefix string, ttl time.Duration) *BalanceCache {
	if client == nil {
		return nil
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &BalanceCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *BalanceCache) key(userID string) string {
	return c.prefix + strings.TrimSpace(userID)
}

func (c *BalanceCache) Get(ctx context.Context, userID string) (*Balance, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var b Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false, fmt.Errorf("decode cached balance: %w", err)
	}
	return &b, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, b Balance) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(b.UserID), raw, c.ttl).Err()
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(userID)).Err()
}
