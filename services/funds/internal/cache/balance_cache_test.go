package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestCache(t *testing.T, ttl time.Duration) (*BalanceCache, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBalanceCache(client, "test:", ttl), s
}

func TestBalanceCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "user-1"); err != nil || ok {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}

	want := Balance{
		WalletID:  "wallet-1",
		UserID:    "user-1",
		Available: decimal.RequireFromString("9000.0000"),
		Locked:    decimal.RequireFromString("1000.0000"),
		Currency:  "INR",
		Status:    "ACTIVE",
	}
	if err := c.Set(ctx, want); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v %v", ok, err)
	}
	if !got.Available.Equal(want.Available) || !got.Locked.Equal(want.Locked) {
		t.Fatalf("unexpected cached balance %+v", got)
	}
	if !got.Total().Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("unexpected total %s", got.Total())
	}
}

func TestBalanceCacheInvalidateAndExpiry(t *testing.T) {
	c, s := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, Balance{UserID: "user-1", Available: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "user-1"); ok {
		t.Fatalf("expected miss after invalidate")
	}

	if err := c.Set(ctx, Balance{UserID: "user-2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "user-2"); ok {
		t.Fatalf("expected miss after ttl")
	}
}

func TestNilBalanceCacheAlwaysMisses(t *testing.T) {
	c := NewBalanceCache(nil, "", 0)
	ctx := context.Background()
	if err := c.Set(ctx, Balance{UserID: "u"}); err != nil {
		t.Fatalf("set on nil cache: %v", err)
	}
	if _, ok, err := c.Get(ctx, "u"); ok || err != nil {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
	if err := c.Invalidate(ctx, "u"); err != nil {
		t.Fatalf("invalidate on nil cache: %v", err)
	}
}
