package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/service"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type seedWallet struct {
	UserID  string
	Opening decimal.Decimal
}

var wallets = []seedWallet{
	{UserID: "00000000-0000-0000-0000-000000000001", Opening: decimal.NewFromInt(100000)},
	{UserID: "00000000-0000-0000-0000-000000000002", Opening: decimal.NewFromInt(250000)},
}

func main() {
	env := getEnv("CEX_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: CEX_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "funds")
	user := getEnv("POSTGRES_USER", "cex")
	password := getEnv("POSTGRES_PASSWORD", "cex")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	store := storage.NewPostgres(pool, nil)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	writer := outbox.NewWriter(events.DefaultRoutes())
	ledgerSvc := service.NewLedgerService(store, writer, nil, nil)
	walletSvc := service.NewWalletService(store, ledgerSvc, writer, nil, getEnv("FUNDS_CURRENCY", service.DefaultCurrency), nil, nil)
	lockSvc := service.NewFundsLockService(store, walletSvc, writer, nil, nil)

	fmt.Println("Seeding wallets...")

	for _, w := range wallets {
		if err := seedWalletFunds(ctx, walletSvc, ledgerSvc, w); err != nil {
			log.Fatalf("seed wallet %s: %v", w.UserID, err)
		}
	}
	fmt.Println("✓ Wallets seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestLock(ctx, lockSvc); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test lock seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	for _, w := range wallets {
		summary, err := walletSvc.BalanceSummary(ctx, w.UserID)
		if err != nil {
			log.Fatalf("balance %s: %v", w.UserID, err)
		}
		fmt.Printf("  %s: available %s, locked %s\n", w.UserID, ledger.Format(summary.Available), ledger.Format(summary.Locked))
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// seedWalletFunds creates the wallet and records the opening deposit once; the
// deposit reference makes reruns no-ops.
func seedWalletFunds(ctx context.Context, wallets *service.WalletService, ledgerSvc *service.LedgerService, w seedWallet) error {
	if _, _, err := wallets.CreateWallet(ctx, w.UserID); err != nil {
		return err
	}

	reference := "SEED-" + w.UserID
	existing, err := ledgerSvc.EntriesByReferenceID(ctx, reference)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = wallets.Credit(ctx, w.UserID, w.Opening, reference, ledger.ReferenceAdjustment, "Opening balance")
	return err
}

func seedTestLock(ctx context.Context, locks *service.FundsLockService) error {
	_, err := locks.Lock(ctx, service.LockRequest{
		UserID:  wallets[0].UserID,
		OrderID: "seed-order-0001",
		Amount:  decimal.NewFromInt(5000),
		Reason:  "Seeded open order",
		Symbol:  "RELIANCE",
		Side:    "BUY",
	})
	if errors.Is(err, ledger.ErrDuplicateLock) {
		return nil
	}
	return err
}
