package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDeposit    EntryType = "DEPOSIT"
	EntryWithdrawal EntryType = "WITHDRAWAL"
	EntryLock       EntryType = "LOCK"
	EntryRelease    EntryType = "RELEASE"
	EntrySettlement EntryType = "SETTLEMENT"
	EntryTradeBuy   EntryType = "TRADE_BUY"
	EntryTradeSell  EntryType = "TRADE_SELL"
	EntryFee        EntryType = "FEE"
	EntryRefund     EntryType = "REFUND"
)

// effect is the per-unit movement an entry type applies to the available and locked buckets.
type effect struct {
	available int
	locked    int
}

var effects = map[EntryType]effect{
	EntryDeposit:    {available: 1},
	EntryTradeSell:  {available: 1},
	EntryRefund:     {available: 1},
	EntryWithdrawal: {available: -1},
	EntryTradeBuy:   {available: -1},
	EntryFee:        {available: -1},
	EntryLock:       {available: -1, locked: 1},
	EntryRelease:    {available: 1, locked: -1},
	EntrySettlement: {locked: -1},
}

func ParseEntryType(value string) (EntryType, error) {
	t := EntryType(strings.ToUpper(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, value)
	}
	return t, nil
}

func (t EntryType) Valid() bool {
	_, ok := effects[t]
	return ok
}

// TotalSign is the sign with which the entry amount moves the total balance.
func (t EntryType) TotalSign() int {
	e := effects[t]
	return e.available + e.locked
}

// Reference types used by this service.
const (
	ReferenceOrder      = "ORDER"
	ReferencePayment    = "PAYMENT"
	ReferenceWithdrawal = "WITHDRAWAL"
	ReferenceTrade      = "TRADE"
	ReferenceAdjustment = "ADJUSTMENT"
)

// Entry is one immutable ledger record. BalanceBefore and BalanceAfter track the
// wallet total (available plus locked).
type Entry struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	Sequence      int64
	EntryType     EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceID   string
	ReferenceType string
	Description   string
	CreatedAt     time.Time
}

// ExpectedAfter applies the sign convention of the entry type to BalanceBefore.
func (e Entry) ExpectedAfter() decimal.Decimal {
	return e.BalanceBefore.Add(e.Amount.Mul(decimal.NewFromInt(int64(e.EntryType.TotalSign()))))
}

// Validate checks the fields an entry must carry before it is appended.
func (e Entry) Validate() error {
	if e.WalletID == uuid.Nil {
		return fmt.Errorf("wallet_id is required")
	}
	if !e.EntryType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, e.EntryType)
	}
	if err := ValidateAmount(e.Amount); err != nil {
		return err
	}
	if !e.BalanceAfter.Equal(e.ExpectedAfter()) {
		return &ChainError{
			WalletID: e.WalletID,
			Sequence: e.Sequence,
			Reason:   fmt.Sprintf("balance_after %s does not follow %s of %s from %s", Format(e.BalanceAfter), e.EntryType, Format(e.Amount), Format(e.BalanceBefore)),
		}
	}
	return nil
}
