package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultLockReason = "Order placed"

type LockRequest struct {
	UserID  string
	OrderID string
	Amount  decimal.Decimal
	Reason  string

	// Order attributes carried on FundsLocked for downstream consumers.
	Symbol   string
	Side     string
	Quantity string
	Price    string
}

// LockResult is the lock after a release or settle call together with what the call did.
type LockResult struct {
	Lock    ledger.FundsLock
	Outcome ledger.Outcome
}

// FundsLockService moves funds between available and locked for orders.
// Lock order is wallet row then lock row on lock, and lock row then wallet row
// on release and settle.
type FundsLockService struct {
	store   storage.TxRunner
	wallets *WalletService
	outbox  *outbox.Writer
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewFundsLockService(store storage.TxRunner, wallets *WalletService, writer *outbox.Writer, logger *slog.Logger, metrics *Metrics) *FundsLockService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FundsLockService{
		store:   store,
		wallets: wallets,
		outbox:  writer,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Lock reserves req.Amount of the user's available balance for req.OrderID.
// A second lock for the same order returns DuplicateLockError carrying the first.
func (s *FundsLockService) Lock(ctx context.Context, req LockRequest) (*ledger.FundsLock, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("lock", start)

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required")
	}
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		s.metrics.IncLockOperation("lock", "invalid")
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultLockReason
	}

	var lock *ledger.FundsLock
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, req.UserID, true)
		if err != nil {
			return err
		}

		existing, err := tx.LockByOrderID(ctx, orderID, false)
		switch {
		case err == nil:
			return &ledger.DuplicateLockError{OrderID: orderID, Existing: existing}
		case !errors.Is(err, ledger.ErrLockNotFound):
			return fmt.Errorf("load lock: %w", err)
		}

		if wallet.AvailableBalance.LessThan(req.Amount) {
			return &ledger.InsufficientFundsError{Requested: req.Amount, Available: wallet.AvailableBalance}
		}

		if _, err := s.wallets.apply(ctx, tx, wallet, ledger.EntryLock, req.Amount, orderID, ledger.ReferenceOrder, "Funds locked for order: "+orderID); err != nil {
			return err
		}

		now := s.now()
		lock = &ledger.FundsLock{
			ID:        uuid.New(),
			WalletID:  wallet.ID,
			UserID:    wallet.UserID,
			OrderID:   orderID,
			Amount:    req.Amount,
			Status:    ledger.LockLocked,
			Reason:    reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertLock(ctx, lock); err != nil {
			return err
		}

		env := s.outbox.Envelope(ctx, events.TypeFundsLocked, lock.ID.String())
		return s.outbox.Capture(ctx, tx, events.AggregateFundsLock, lock.ID.String(), env, events.FundsLockedEvent{
			Envelope:  env,
			LockID:    lock.ID.String(),
			WalletID:  wallet.ID.String(),
			UserID:    wallet.UserID,
			OrderID:   orderID,
			Amount:    ledger.Format(req.Amount),
			Available: ledger.Format(wallet.AvailableBalance),
			Locked:    ledger.Format(wallet.LockedBalance),
			Symbol:    req.Symbol,
			Side:      req.Side,
			Quantity:  req.Quantity,
			Price:     req.Price,
		})
	})
	if err != nil {
		s.metrics.IncLockOperation("lock", lockOutcomeLabel(err))
		return nil, err
	}

	s.metrics.IncLockOperation("lock", string(ledger.OutcomeApplied))
	s.logger.Info("funds locked",
		"order_id", orderID,
		"user_id", lock.UserID,
		"lock_id", lock.ID.String(),
		"amount", ledger.Format(lock.Amount),
	)
	return lock, nil
}

// Release returns a LOCKED lock's amount to available.
func (s *FundsLockService) Release(ctx context.Context, orderID, reason string) (*LockResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Order cancelled"
	}
	return s.close(ctx, orderID, ledger.LockReleased, reason)
}

// Settle consumes a LOCKED lock's amount: it leaves locked without returning to available.
func (s *FundsLockService) Settle(ctx context.Context, orderID, reason string) (*LockResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Trade executed"
	}
	return s.close(ctx, orderID, ledger.LockSettled, reason)
}

func (s *FundsLockService) close(ctx context.Context, orderID string, target ledger.LockStatus, reason string) (*LockResult, error) {
	operation := "release"
	if target == ledger.LockSettled {
		operation = "settle"
	}
	start := time.Now()
	defer s.metrics.ObserveOperation(operation, start)

	orderID = strings.TrimSpace(orderID)
	var result *LockResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		lock, err := tx.LockByOrderID(ctx, orderID, true)
		if err != nil {
			return err
		}
		outcome := lock.Transition(target)
		result = &LockResult{Lock: *lock, Outcome: outcome}
		if outcome != ledger.OutcomeApplied {
			return nil
		}

		wallet, err := tx.WalletByID(ctx, lock.WalletID, true)
		if err != nil {
			return err
		}
		description := "Funds released: " + reason
		if target == ledger.LockSettled {
			description = "Trade executed for order: " + orderID
		}
		if _, err := s.wallets.apply(ctx, tx, wallet, target.EntryType(), lock.Amount, orderID, ledger.ReferenceOrder, description); err != nil {
			return err
		}

		now := s.now()
		lock.Status = target
		lock.Reason = reason
		lock.UpdatedAt = now
		lock.ClosedAt = &now
		if err := tx.UpdateLock(ctx, lock); err != nil {
			return fmt.Errorf("update lock: %w", err)
		}
		result.Lock = *lock

		held := now.Sub(lock.CreatedAt)
		status := string(target)
		tx.AfterCommit(func() { s.metrics.ObserveLockDuration(status, held) })

		return s.captureClosed(ctx, tx, lock, wallet, reason)
	})
	if err != nil {
		s.metrics.IncLockOperation(operation, lockOutcomeLabel(err))
		return nil, err
	}

	s.metrics.IncLockOperation(operation, string(result.Outcome))
	switch result.Outcome {
	case ledger.OutcomeApplied:
		s.logger.Info("funds lock closed",
			"order_id", orderID,
			"status", string(target),
			"amount", ledger.Format(result.Lock.Amount),
		)
	case ledger.OutcomeAlreadyTerminal:
		s.logger.Info("funds lock already closed", "order_id", orderID, "status", string(result.Lock.Status))
	case ledger.OutcomeConflict:
		s.logger.Warn("funds lock transition conflict",
			"order_id", orderID,
			"status", string(result.Lock.Status),
			"requested", string(target),
		)
	}
	return result, nil
}

func (s *FundsLockService) captureClosed(ctx context.Context, tx storage.Tx, lock *ledger.FundsLock, wallet *ledger.Wallet, reason string) error {
	if lock.Status == ledger.LockSettled {
		env := s.outbox.Envelope(ctx, events.TypeFundsSettled, lock.ID.String())
		return s.outbox.Capture(ctx, tx, events.AggregateFundsLock, lock.ID.String(), env, events.FundsSettledEvent{
			Envelope: env,
			LockID:   lock.ID.String(),
			WalletID: wallet.ID.String(),
			UserID:   wallet.UserID,
			OrderID:  lock.OrderID,
			Amount:   ledger.Format(lock.Amount),
			Reason:   reason,
		})
	}
	env := s.outbox.Envelope(ctx, events.TypeFundsReleased, lock.ID.String())
	return s.outbox.Capture(ctx, tx, events.AggregateFundsLock, lock.ID.String(), env, events.FundsReleasedEvent{
		Envelope:  env,
		LockID:    lock.ID.String(),
		WalletID:  wallet.ID.String(),
		UserID:    wallet.UserID,
		OrderID:   lock.OrderID,
		Amount:    ledger.Format(lock.Amount),
		Reason:    reason,
		Available: ledger.Format(wallet.AvailableBalance),
		Locked:    ledger.Format(wallet.LockedBalance),
	})
}

// RejectOrder captures the compensating OrderRejected event for an order whose
// lock was refused with cause.
func (s *FundsLockService) RejectOrder(ctx context.Context, orderID, userID string, cause error) error {
	event := events.OrderRejectedEvent{
		OrderID: orderID,
		UserID:  userID,
		Reason:  cause.Error(),
	}
	var insufficient *ledger.InsufficientFundsError
	if errors.As(cause, &insufficient) {
		event.Reason = fmt.Sprintf("Insufficient funds: requested %s, available %s",
			insufficient.Requested.StringFixed(2), insufficient.Available.StringFixed(2))
		event.Requested = ledger.Format(insufficient.Requested)
		event.Available = ledger.Format(insufficient.Available)
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		event.Envelope = s.outbox.Envelope(ctx, events.TypeOrderRejected, orderID)
		return s.outbox.Capture(ctx, tx, events.AggregateOrder, orderID, event.Envelope, event)
	})
	if err != nil {
		return err
	}
	s.metrics.IncLockOperation("reject", "applied")
	s.logger.Info("order rejected", "order_id", orderID, "user_id", userID, "reason", event.Reason)
	return nil
}

func (s *FundsLockService) GetLockByOrderID(ctx context.Context, orderID string) (*ledger.FundsLock, error) {
	var out *ledger.FundsLock
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.LockByOrderID(ctx, strings.TrimSpace(orderID), false)
		return err
	})
	return out, err
}

// LocksForUser lists the user's locks, newest first. An empty status lists all.
func (s *FundsLockService) LocksForUser(ctx context.Context, userID string, status ledger.LockStatus) ([]ledger.FundsLock, error) {
	var out []ledger.FundsLock
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, userID, false)
		if err != nil {
			return err
		}
		out, err = tx.LocksByWallet(ctx, wallet.ID, status)
		return err
	})
	return out, err
}

func lockOutcomeLabel(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrDuplicateLock):
		return "duplicate"
	case errors.Is(err, ledger.ErrLockNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrWalletNotFound):
		return "wallet_not_found"
	default:
		return "error"
	}
}
