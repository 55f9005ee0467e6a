package storage

import (
	"context"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tx is the set of queries available inside one unit of work. Methods taking forUpdate
// hold an exclusive row lock until the unit commits or rolls back.
type Tx interface {
	InsertWallet(ctx context.Context, w *ledger.Wallet) (bool, error)
	WalletByUserID(ctx context.Context, userID string, forUpdate bool) (*ledger.Wallet, error)
	WalletByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*ledger.Wallet, error)
	UpdateWalletBalances(ctx context.Context, w *ledger.Wallet) error

	InsertEntry(ctx context.Context, e *ledger.Entry) error
	LatestEntry(ctx context.Context, walletID uuid.UUID) (*ledger.Entry, error)
	LatestEntryAt(ctx context.Context, walletID uuid.UUID, at time.Time) (*ledger.Entry, error)
	EntryByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	ListEntries(ctx context.Context, walletID uuid.UUID, offset, limit int) ([]ledger.Entry, error)
	CountEntries(ctx context.Context, walletID uuid.UUID) (int64, error)
	EntriesAscending(ctx context.Context, walletID uuid.UUID) ([]ledger.Entry, error)
	EntriesByReference(ctx context.Context, referenceID string) ([]ledger.Entry, error)
	EntriesByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) ([]ledger.Entry, error)
	SumByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) (decimal.Decimal, error)

	InsertLock(ctx context.Context, l *ledger.FundsLock) error
	LockByOrderID(ctx context.Context, orderID string, forUpdate bool) (*ledger.FundsLock, error)
	UpdateLock(ctx context.Context, l *ledger.FundsLock) error
	LocksByWallet(ctx context.Context, walletID uuid.UUID, status ledger.LockStatus) ([]ledger.FundsLock, error)

	InsertTransaction(ctx context.Context, t *ledger.Transaction) error
	TransactionByReference(ctx context.Context, reference string, forUpdate bool) (*ledger.Transaction, error)
	UpdateTransaction(ctx context.Context, t *ledger.Transaction) error
	TransactionsByWallet(ctx context.Context, walletID uuid.UUID, offset, limit int) ([]ledger.Transaction, error)
	CountTransactions(ctx context.Context, walletID uuid.UUID) (int64, error)

	InsertOutbox(ctx context.Context, e *OutboxEvent) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id int64, errMsg string) (int, error)
	CountPendingOutbox(ctx context.Context) (int64, error)

	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key, consumer string, at time.Time) (bool, error)

	// AfterCommit registers fn to run once the outermost unit of work commits.
	AfterCommit(fn func())
}

// TxRunner runs fn inside a unit of work. A unit already carried by ctx is joined
// rather than nested, so callers compose operations into one transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type txKey struct{}

func withTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the unit of work carried by ctx.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	return tx, ok
}

type hooks struct {
	fns []func()
}

func (h *hooks) AfterCommit(fn func()) {
	if fn != nil {
		h.fns = append(h.fns, fn)
	}
}

func (h *hooks) run() {
	for _, fn := range h.fns {
		fn()
	}
}
