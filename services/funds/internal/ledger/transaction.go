package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrDuplicateTransaction     = errors.New("duplicate transaction reference")
	ErrTransactionTypeMismatch  = errors.New("transaction type mismatch")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
)

// ReferenceTransaction marks ledger entries posted by a completed deposit or withdrawal.
const ReferenceTransaction = "TRANSACTION"

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCancelled TransactionStatus = "CANCELLED"
)

func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed || s == TransactionCancelled
}

func ParseTransactionStatus(value string) (TransactionStatus, error) {
	switch s := TransactionStatus(value); s {
	case TransactionPending, TransactionCompleted, TransactionFailed, TransactionCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, value)
}

// Transaction is a deposit or withdrawal request. Funds only move when a PENDING
// transaction completes; FAILED and CANCELLED close it without a ledger entry.
type Transaction struct {
	ID                uuid.UUID
	WalletID          uuid.UUID
	UserID            string
	Type              TransactionType
	Amount            decimal.Decimal
	Status            TransactionStatus
	ExternalReference string
	Description       string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transition decides the outcome of moving t to target, with the same rules as a
// funds lock: only PENDING moves.
func (t Transaction) Transition(target TransactionStatus) Outcome {
	switch {
	case !t.Status.Terminal():
		return OutcomeApplied
	case t.Status == target:
		return OutcomeAlreadyTerminal
	default:
		return OutcomeConflict
	}
}

// DuplicateTransactionError carries the transaction already holding the reference.
type DuplicateTransactionError struct {
	Reference string
	Existing  *Transaction
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("transaction reference %s already exists", e.Reference)
}

func (e *DuplicateTransactionError) Is(target error) bool {
	return target == ErrDuplicateTransaction
}
