package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateLock        = errors.New("duplicate funds lock")
	ErrLockNotFound         = errors.New("funds lock not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrEntryNotFound        = errors.New("ledger entry not found")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrBrokenChain          = errors.New("ledger chain broken")
)

type InsufficientFundsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s", Format(e.Requested), Format(e.Available))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// DuplicateLockError carries the lock that already exists for the order.
type DuplicateLockError struct {
	OrderID  string
	Existing *FundsLock
}

func (e *DuplicateLockError) Error() string {
	return fmt.Sprintf("funds already locked for order %s", e.OrderID)
}

func (e *DuplicateLockError) Is(target error) bool {
	return target == ErrDuplicateLock
}

// UnsupportedOperationError is returned for every attempt to mutate a recorded entry.
type UnsupportedOperationError struct {
	Op      string
	EntryID uuid.UUID
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("ledger entries are immutable: %s of %s is not permitted", e.Op, e.EntryID)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

type ChainError struct {
	WalletID uuid.UUID
	Sequence int64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain broken for wallet %s at sequence %d: %s", e.WalletID, e.Sequence, e.Reason)
}

func (e *ChainError) Is(target error) bool {
	return target == ErrBrokenChain
}

// IsRejection reports whether err is a business outcome that must not be retried.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrDuplicateLock) ||
		errors.Is(err, ErrLockNotFound) ||
		errors.Is(err, ErrInvalidAmount)
}
