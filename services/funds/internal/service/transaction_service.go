package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	depositReferencePrefix    = "DEP-"
	withdrawalReferencePrefix = "WDR-"
)

// TransactionResult is the transaction after a state change call together with what the call did.
type TransactionResult struct {
	Transaction ledger.Transaction
	Outcome     ledger.Outcome
}

type TransactionPage struct {
	Transactions []ledger.Transaction
	Page         int
	Size         int
	Total        int64
}

// TransactionService tracks deposit and withdrawal requests from PENDING to a
// terminal status. Only completion moves funds, through WalletService, in the same
// unit of work as the status change. Lock order is transaction row then wallet row.
type TransactionService struct {
	store   storage.TxRunner
	wallets *WalletService
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewTransactionService(store storage.TxRunner, wallets *WalletService, logger *slog.Logger, metrics *Metrics) *TransactionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionService{
		store:   store,
		wallets: wallets,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InitiateDeposit records a PENDING deposit. An empty externalRef gets a generated DEP- reference.
func (s *TransactionService) InitiateDeposit(ctx context.Context, userID string, amount decimal.Decimal, externalRef, description string) (*ledger.Transaction, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		externalRef = newReference(depositReferencePrefix)
	}
	if strings.TrimSpace(description) == "" {
		description = "Deposit"
	}
	return s.initiate(ctx, "initiate_deposit", userID, ledger.TransactionDeposit, amount, externalRef, description)
}

// InitiateWithdrawal records a PENDING withdrawal. It fails with InsufficientFundsError
// when the available balance does not cover amount now; the balance is checked again
// on completion since nothing is reserved.
func (s *TransactionService) InitiateWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, description string) (*ledger.Transaction, error) {
	if strings.TrimSpace(description) == "" {
		description = "Withdrawal"
	}
	return s.initiate(ctx, "initiate_withdrawal", userID, ledger.TransactionWithdrawal, amount, newReference(withdrawalReferencePrefix), description)
}

func (s *TransactionService) initiate(ctx context.Context, operation, userID string, txType ledger.TransactionType, amount decimal.Decimal, reference, description string) (*ledger.Transaction, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation(operation, start)

	if err := ledger.ValidateAmount(amount); err != nil {
		s.metrics.IncTransaction(operation, "invalid")
		return nil, err
	}

	var out *ledger.Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, userID, false)
		if err != nil {
			return err
		}
		if txType == ledger.TransactionWithdrawal && wallet.AvailableBalance.LessThan(amount) {
			return &ledger.InsufficientFundsError{Requested: amount, Available: wallet.AvailableBalance}
		}
		now := s.now()
		out = &ledger.Transaction{
			ID:                uuid.New(),
			WalletID:          wallet.ID,
			UserID:            wallet.UserID,
			Type:              txType,
			Amount:            amount,
			Status:            ledger.TransactionPending,
			ExternalReference: reference,
			Description:       description,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.InsertTransaction(ctx, out)
	})
	if err != nil {
		s.metrics.IncTransaction(operation, transactionOutcomeLabel(err))
		return nil, err
	}
	s.metrics.IncTransaction(operation, string(ledger.OutcomeApplied))
	s.logger.Info("transaction initiated",
		"reference", reference,
		"type", string(txType),
		"user_id", out.UserID,
		"amount", ledger.Format(amount),
	)
	return out, nil
}

// ConfirmDeposit completes a PENDING deposit and credits the wallet.
func (s *TransactionService) ConfirmDeposit(ctx context.Context, reference string) (*TransactionResult, error) {
	return s.transition(ctx, "confirm_deposit", reference, ledger.TransactionDeposit, ledger.TransactionCompleted, "")
}

// CompleteWithdrawal completes a PENDING withdrawal and debits the wallet. It fails
// with InsufficientFundsError, leaving the transaction PENDING, when the balance no
// longer covers the amount.
func (s *TransactionService) CompleteWithdrawal(ctx context.Context, reference string) (*TransactionResult, error) {
	return s.transition(ctx, "complete_withdrawal", reference, ledger.TransactionWithdrawal, ledger.TransactionCompleted, "")
}

// FailTransaction closes a PENDING transaction as FAILED without moving funds.
func (s *TransactionService) FailTransaction(ctx context.Context, reference, reason string) (*TransactionResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Transaction failed"
	}
	return s.transition(ctx, "fail", reference, "", ledger.TransactionFailed, reason)
}

// CancelTransaction closes a PENDING transaction as CANCELLED without moving funds.
func (s *TransactionService) CancelTransaction(ctx context.Context, reference, reason string) (*TransactionResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Cancelled by user"
	}
	return s.transition(ctx, "cancel", reference, "", ledger.TransactionCancelled, reason)
}

// transition moves the transaction to target. An empty want accepts either type.
func (s *TransactionService) transition(ctx context.Context, operation, reference string, want ledger.TransactionType, target ledger.TransactionStatus, reason string) (*TransactionResult, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation(operation, start)

	reference = strings.TrimSpace(reference)
	var result *TransactionResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		t, err := tx.TransactionByReference(ctx, reference, true)
		if err != nil {
			return err
		}
		if want != "" && t.Type != want {
			return fmt.Errorf("%w: %s is a %s", ledger.ErrTransactionTypeMismatch, reference, t.Type)
		}
		outcome := t.Transition(target)
		result = &TransactionResult{Transaction: *t, Outcome: outcome}
		if outcome != ledger.OutcomeApplied {
			return nil
		}

		if target == ledger.TransactionCompleted {
			if err := s.post(ctx, t); err != nil {
				return err
			}
		}
		t.Status = target
		t.FailureReason = reason
		t.UpdatedAt = s.now()
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		result.Transaction = *t
		return nil
	})
	if err != nil {
		s.metrics.IncTransaction(operation, transactionOutcomeLabel(err))
		return nil, err
	}

	s.metrics.IncTransaction(operation, string(result.Outcome))
	switch result.Outcome {
	case ledger.OutcomeApplied:
		s.logger.Info("transaction closed",
			"reference", reference,
			"status", string(target),
			"amount", ledger.Format(result.Transaction.Amount),
		)
	case ledger.OutcomeAlreadyTerminal:
		s.logger.Info("transaction already closed", "reference", reference, "status", string(result.Transaction.Status))
	case ledger.OutcomeConflict:
		s.logger.Warn("transaction transition conflict",
			"reference", reference,
			"status", string(result.Transaction.Status),
			"requested", string(target),
		)
	}
	return result, nil
}

func (s *TransactionService) post(ctx context.Context, t *ledger.Transaction) error {
	if t.Type == ledger.TransactionDeposit {
		_, err := s.wallets.Credit(ctx, t.UserID, t.Amount, t.ExternalReference, ledger.ReferenceTransaction, "Deposit confirmed")
		return err
	}
	_, err := s.wallets.Debit(ctx, t.UserID, t.Amount, t.ExternalReference, ledger.ReferenceTransaction, "Withdrawal completed")
	return err
}

func (s *TransactionService) GetTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error) {
	var out *ledger.Transaction
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.TransactionByReference(ctx, strings.TrimSpace(reference), false)
		return err
	})
	return out, err
}

// TransactionsForUser returns one page of the user's transactions, newest first. page is zero based.
func (s *TransactionService) TransactionsForUser(ctx context.Context, userID string, page, size int) (TransactionPage, error) {
	page, size, err := pageBounds(page, size)
	if err != nil {
		return TransactionPage{}, err
	}
	out := TransactionPage{Page: page, Size: size}
	err = s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByUserID(ctx, userID, false)
		if err != nil {
			return err
		}
		total, err := tx.CountTransactions(ctx, wallet.ID)
		if err != nil {
			return err
		}
		list, err := tx.TransactionsByWallet(ctx, wallet.ID, page*size, size)
		if err != nil {
			return err
		}
		out.Total = total
		out.Transactions = list
		return nil
	})
	return out, err
}

func newReference(prefix string) string {
	return prefix + strings.ToUpper(uuid.NewString()[:8])
}

func transactionOutcomeLabel(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrTransactionTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ledger.ErrWalletNotFound):
		return "wallet_not_found"
	default:
		return "error"
	}
}
