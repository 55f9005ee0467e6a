package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LockStatus string

const (
	LockLocked   LockStatus = "LOCKED"
	LockReleased LockStatus = "RELEASED"
	LockSettled  LockStatus = "SETTLED"
)

func (s LockStatus) Terminal() bool {
	return s == LockReleased || s == LockSettled
}

func ParseLockStatus(value string) (LockStatus, bool) {
	switch s := LockStatus(value); s {
	case LockLocked, LockReleased, LockSettled:
		return s, true
	}
	return "", false
}

type FundsLock struct {
	ID        uuid.UUID
	WalletID  uuid.UUID
	UserID    string
	OrderID   string
	Amount    decimal.Decimal
	Status    LockStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Outcome describes what a release or settle call did to a lock.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeAlreadyTerminal Outcome = "already_terminal"
	OutcomeConflict        Outcome = "conflict"
)

// Transition decides the outcome of moving l to target. Only LOCKED locks move;
// a terminal lock reports whether target matches the state it already holds.
func (l FundsLock) Transition(target LockStatus) Outcome {
	switch {
	case !l.Status.Terminal():
		return OutcomeApplied
	case l.Status == target:
		return OutcomeAlreadyTerminal
	default:
		return OutcomeConflict
	}
}

// EntryType is the ledger entry recorded when a lock moves into s.
func (s LockStatus) EntryType() EntryType {
	if s == LockSettled {
		return EntrySettlement
	}
	return EntryRelease
}
