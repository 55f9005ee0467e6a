package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WalletActive = "ACTIVE"
	WalletFrozen = "FROZEN"
)

type Wallet struct {
	ID               uuid.UUID
	UserID           string
	AvailableBalance decimal.Decimal
	LockedBalance    decimal.Decimal
	Currency         string
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (w Wallet) Balances() Balances {
	return Balances{Available: w.AvailableBalance, Locked: w.LockedBalance}
}

func (w Wallet) TotalBalance() decimal.Decimal {
	return w.AvailableBalance.Add(w.LockedBalance)
}

// SetBalances replaces the projected balances.
func (w *Wallet) SetBalances(b Balances) {
	w.AvailableBalance = b.Available
	w.LockedBalance = b.Locked
}
