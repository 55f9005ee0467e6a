package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balances is the available/locked split of a wallet.
type Balances struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
}

func (b Balances) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

func (b Balances) Equal(other Balances) bool {
	return b.Available.Equal(other.Available) && b.Locked.Equal(other.Locked)
}

func (b Balances) String() string {
	return fmt.Sprintf("available=%s locked=%s", Format(b.Available), Format(b.Locked))
}

// Apply returns the balances after an entry of type t and amount. It does not check
// sufficiency; replay must reproduce overdraft states recorded for audit.
func (b Balances) Apply(t EntryType, amount decimal.Decimal) (Balances, error) {
	e, ok := effects[t]
	if !ok {
		return b, fmt.Errorf("%w: %q", ErrInvalidEntryType, t)
	}
	return Balances{
		Available: b.Available.Add(amount.Mul(decimal.NewFromInt(int64(e.available)))),
		Locked:    b.Locked.Add(amount.Mul(decimal.NewFromInt(int64(e.locked)))),
	}, nil
}

// NewEntry builds the entry that moves a wallet from before by amount of type t.
// Identity, sequence and timestamp are assigned on append.
func NewEntry(walletID uuid.UUID, t EntryType, amount decimal.Decimal, before Balances, referenceID, referenceType, description string) (Entry, Balances, error) {
	if err := ValidateAmount(amount); err != nil {
		return Entry{}, before, err
	}
	after, err := before.Apply(t, amount)
	if err != nil {
		return Entry{}, before, err
	}
	return Entry{
		WalletID:      walletID,
		EntryType:     t,
		Amount:        amount,
		BalanceBefore: before.Total(),
		BalanceAfter:  after.Total(),
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		Description:   description,
	}, after, nil
}

// Replay folds entries in ascending sequence order into the terminal balances,
// verifying that each entry links to its predecessor and follows its sign convention.
func Replay(walletID uuid.UUID, entries []Entry) (Balances, error) {
	state := Balances{Available: decimal.Zero, Locked: decimal.Zero}
	var prevSeq int64
	for i, e := range entries {
		if e.WalletID != walletID {
			return state, &ChainError{WalletID: walletID, Sequence: e.Sequence, Reason: "entry belongs to wallet " + e.WalletID.String()}
		}
		if i > 0 && e.Sequence <= prevSeq {
			return state, &ChainError{WalletID: walletID, Sequence: e.Sequence, Reason: "entries out of order"}
		}
		if !e.BalanceBefore.Equal(state.Total()) {
			return state, &ChainError{
				WalletID: walletID,
				Sequence: e.Sequence,
				Reason:   fmt.Sprintf("balance_before %s does not match running total %s", Format(e.BalanceBefore), Format(state.Total())),
			}
		}
		if err := e.Validate(); err != nil {
			return state, err
		}
		next, err := state.Apply(e.EntryType, e.Amount)
		if err != nil {
			return state, err
		}
		state = next
		prevSeq = e.Sequence
	}
	return state, nil
}
