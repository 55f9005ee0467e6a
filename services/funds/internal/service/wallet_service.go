package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/cache"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "INR"

// WalletService maintains the wallet projection. Every balance change goes through
// the ledger in the same unit of work as the projection update.
type WalletService struct {
	store    storage.TxRunner
	ledger   *LedgerService
	outbox   *outbox.Writer
	cache    *cache.BalanceCache
	currency string
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

func NewWalletService(store storage.TxRunner, ledgerSvc *LedgerService, writer *outbox.Writer, balances *cache.BalanceCache, currency string, logger *slog.Logger, metrics *Metrics) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &WalletService{
		store:    store,
		ledger:   ledgerSvc,
		outbox:   writer,
		cache:    balances,
		currency: currency,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateWallet opens an empty wallet for userID. created is false when one already existed.
func (s *WalletService) CreateWallet(ctx context.Context, userID string) (wallet *ledger.Wallet, created bool, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, fmt.Errorf("user_id is required")
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		now := s.now()
		candidate := &ledger.Wallet{
			ID:               uuid.New(),
			UserID:           userID,
			AvailableBalance: decimal.Zero,
			LockedBalance:    decimal.Zero,
			Currency:         s.currency,
			Status:           ledger.WalletActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		inserted, err := tx.InsertWallet(ctx, candidate)
		if err != nil {
			return fmt.Errorf("insert wallet: %w", err)
		}
		created = inserted
		if inserted {
			wallet = candidate
			return nil
		}
		wallet, err = tx.WalletByUserID(ctx, userID, false)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("wallet created", "user_id", userID, "wallet_id", wallet.ID.String())
	}
	return wallet, created, nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	var out *ledger.Wallet
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.WalletByUserID(ctx, userID, false)
		return err
	})
	return out, err
}

// Credit records a DEPOSIT and adds amount to the available balance.
func (s *WalletService) Credit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, referenceType, description string) (*ledger.Entry, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("credit", start)

	if err := ledger.ValidateAmount(amount); err != nil {
		s.metrics.IncWalletMutation("credit", "invalid")
		return nil, err
	}

	var entry *ledger.Entry
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, userID, true)
		if err != nil {
			return err
		}
		entry, err = s.apply(ctx, tx, wallet, ledger.EntryDeposit, amount, referenceID, referenceType, description)
		if err != nil {
			return err
		}
		return s.captureMovement(ctx, tx, events.TypeFundsDeposited, wallet, entry)
	})
	if err != nil {
		s.metrics.IncWalletMutation("credit", "error")
		return nil, err
	}
	s.metrics.IncWalletMutation("credit", "success")
	s.logger.Info("wallet credited", "user_id", userID, "amount", ledger.Format(amount), "reference_id", referenceID)
	return entry, nil
}

// Debit records a WITHDRAWAL. It fails with InsufficientFundsError when the
// available balance does not cover amount.
func (s *WalletService) Debit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, referenceType, description string) (*ledger.Entry, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("debit", start)

	if err := ledger.ValidateAmount(amount); err != nil {
		s.metrics.IncWalletMutation("debit", "invalid")
		return nil, err
	}

	var entry *ledger.Entry
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, userID, true)
		if err != nil {
			return err
		}
		if wallet.AvailableBalance.LessThan(amount) {
			return &ledger.InsufficientFundsError{Requested: amount, Available: wallet.AvailableBalance}
		}
		entry, err = s.apply(ctx, tx, wallet, ledger.EntryWithdrawal, amount, referenceID, referenceType, description)
		if err != nil {
			return err
		}
		return s.captureMovement(ctx, tx, events.TypeFundsWithdrawn, wallet, entry)
	})
	if err != nil {
		status := "error"
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			status = "insufficient"
		}
		s.metrics.IncWalletMutation("debit", status)
		return nil, err
	}
	s.metrics.IncWalletMutation("debit", "success")
	s.logger.Info("wallet debited", "user_id", userID, "amount", ledger.Format(amount), "reference_id", referenceID)
	return entry, nil
}

// BalanceSummary serves the cached balance when present and repopulates it on a miss.
func (s *WalletService) BalanceSummary(ctx context.Context, userID string) (cache.Balance, error) {
	if cached, ok, err := s.cache.Get(ctx, userID); err != nil {
		s.logger.Warn("balance cache read failed", "user_id", userID, "error", err)
	} else if ok {
		s.metrics.IncBalanceLookup("cache")
		return *cached, nil
	}

	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return cache.Balance{}, err
	}
	s.metrics.IncBalanceLookup("store")
	summary := balanceOf(wallet)
	if err := s.cache.Set(ctx, summary); err != nil {
		s.logger.Warn("balance cache write failed", "user_id", userID, "error", err)
	}
	return summary, nil
}

// RebuildFromLedger replaces the projection with the balances replayed from the ledger.
func (s *WalletService) RebuildFromLedger(ctx context.Context, userID string) (*Rebuild, error) {
	var result *Rebuild
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, userID, true)
		if err != nil {
			return err
		}
		result, err = replayWallet(ctx, tx, wallet)
		if err != nil {
			return err
		}
		if result.Consistent {
			return nil
		}
		wallet.SetBalances(result.Replayed)
		wallet.UpdatedAt = s.now()
		if err := tx.UpdateWalletBalances(ctx, wallet); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		s.invalidateAfterCommit(tx, wallet.UserID)
		return nil
	})
	if err != nil {
		s.metrics.IncRebuild("error")
		return nil, err
	}
	if result.Consistent {
		s.metrics.IncRebuild("consistent")
	} else {
		s.metrics.IncRebuild("corrected")
		s.logger.Warn("wallet projection drift corrected",
			"user_id", userID,
			"projected", result.Projected.String(),
			"replayed", result.Replayed.String(),
		)
	}
	return result, nil
}

// apply appends one entry for wallet and writes the resulting projection. wallet
// must have been read for update in tx.
func (s *WalletService) apply(ctx context.Context, tx storage.Tx, wallet *ledger.Wallet, entryType ledger.EntryType, amount decimal.Decimal, referenceID, referenceType, description string) (*ledger.Entry, error) {
	entry, after, err := ledger.NewEntry(wallet.ID, entryType, amount, wallet.Balances(), referenceID, referenceType, description)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, &entry); err != nil {
		return nil, err
	}
	wallet.SetBalances(after)
	wallet.UpdatedAt = s.now()
	if err := tx.UpdateWalletBalances(ctx, wallet); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	s.invalidateAfterCommit(tx, wallet.UserID)
	return &entry, nil
}

func (s *WalletService) invalidateAfterCommit(tx storage.Tx, userID string) {
	if s.cache == nil {
		return
	}
	tx.AfterCommit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("balance cache invalidation failed", "user_id", userID, "error", err)
		}
	})
}

func (s *WalletService) captureMovement(ctx context.Context, tx storage.Tx, eventType string, wallet *ledger.Wallet, entry *ledger.Entry) error {
	env := s.outbox.Envelope(ctx, eventType, entry.ID.String())
	return s.outbox.Capture(ctx, tx, events.AggregateWallet, wallet.ID.String(), env, events.FundsMovedEvent{
		Envelope:      env,
		WalletID:      wallet.ID.String(),
		UserID:        wallet.UserID,
		Amount:        ledger.Format(entry.Amount),
		ReferenceID:   entry.ReferenceID,
		ReferenceType: entry.ReferenceType,
		Available:     ledger.Format(wallet.AvailableBalance),
		Locked:        ledger.Format(wallet.LockedBalance),
	})
}

func balanceOf(w *ledger.Wallet) cache.Balance {
	return cache.Balance{
		WalletID:  w.ID.String(),
		UserID:    w.UserID,
		Available: w.AvailableBalance,
		Locked:    w.LockedBalance,
		Currency:  w.Currency,
		Status:    w.Status,
		UpdatedAt: w.UpdatedAt,
	}
}
