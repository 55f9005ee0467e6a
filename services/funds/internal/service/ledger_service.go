package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrPageOutOfRange = errors.New("page out of range")

// LedgerService owns the append-only ledger. It never updates or deletes an entry.
type LedgerService struct {
	store   storage.TxRunner
	outbox  *outbox.Writer
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewLedgerService(store storage.TxRunner, writer *outbox.Writer, logger *slog.Logger, metrics *Metrics) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		store:   store,
		outbox:  writer,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append records entry as the next entry of its wallet. Callers that mutate the
// wallet projection must hold the wallet row lock in the same unit of work.
// ID, Sequence and CreatedAt are assigned here.
func (s *LedgerService) Append(ctx context.Context, entry *ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByID(ctx, entry.WalletID, false)
		if err != nil {
			return err
		}

		before := decimal.Zero
		seq := int64(1)
		prev, err := tx.LatestEntry(ctx, entry.WalletID)
		switch {
		case err == nil:
			before = prev.BalanceAfter
			seq = prev.Sequence + 1
		case !errors.Is(err, ledger.ErrEntryNotFound):
			return fmt.Errorf("load latest entry: %w", err)
		}
		if !entry.BalanceBefore.Equal(before) {
			return &ledger.ChainError{
				WalletID: entry.WalletID,
				Sequence: seq,
				Reason:   fmt.Sprintf("balance_before %s does not match previous balance_after %s", ledger.Format(entry.BalanceBefore), ledger.Format(before)),
			}
		}

		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.Sequence = seq
		entry.CreatedAt = s.now()
		if prev != nil && entry.CreatedAt.Before(prev.CreatedAt) {
			entry.CreatedAt = prev.CreatedAt
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		env := s.outbox.Envelope(ctx, events.TypeLedgerEntryRecorded, entry.ID.String())
		if err := s.outbox.Capture(ctx, tx, events.AggregateLedger, entry.ID.String(), env, events.LedgerEntryRecordedEvent{
			Envelope: env,
			UserID:   wallet.UserID,
			Entry:    EntryDTO(*entry),
		}); err != nil {
			return err
		}

		entryType := string(entry.EntryType)
		tx.AfterCommit(func() { s.metrics.IncEntry(entryType) })
		return nil
	})
}

// DeleteEntry always fails: recorded entries are immutable.
func (s *LedgerService) DeleteEntry(_ context.Context, id uuid.UUID) error {
	return &ledger.UnsupportedOperationError{Op: "delete", EntryID: id}
}

// UpdateEntry always fails: corrections are new compensating entries.
func (s *LedgerService) UpdateEntry(_ context.Context, id uuid.UUID) error {
	return &ledger.UnsupportedOperationError{Op: "update", EntryID: id}
}

type Page struct {
	Entries []ledger.Entry
	Page    int
	Size    int
	Total   int64
}

// pageBounds clamps a zero based page request and rejects pages whose offset overflows.
func pageBounds(page, size int) (int, int, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page > math.MaxInt/size {
		return 0, 0, fmt.Errorf("%w: %d", ErrPageOutOfRange, page)
	}
	return page, size, nil
}

// EntriesForWallet returns one page of entries, newest first. page is zero based.
func (s *LedgerService) EntriesForWallet(ctx context.Context, walletID uuid.UUID, page, size int) (Page, error) {
	page, size, err := pageBounds(page, size)
	if err != nil {
		return Page{}, err
	}

	out := Page{Page: page, Size: size}
	err = s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.WalletByID(ctx, walletID, false); err != nil {
			return err
		}
		total, err := tx.CountEntries(ctx, walletID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, walletID, page*size, size)
		if err != nil {
			return err
		}
		out.Total = total
		out.Entries = entries
		return nil
	})
	return out, err
}

func (s *LedgerService) EntriesByReferenceID(ctx context.Context, referenceID string) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.EntriesByReference(ctx, referenceID)
		return err
	})
	return out, err
}

func (s *LedgerService) EntriesByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) ([]ledger.Entry, error) {
	if !entryType.Valid() {
		return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidEntryType, entryType)
	}
	var out []ledger.Entry
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.EntriesByType(ctx, walletID, entryType)
		return err
	})
	return out, err
}

func (s *LedgerService) EntryByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	var out *ledger.Entry
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.EntryByID(ctx, id)
		return err
	})
	return out, err
}

func (s *LedgerService) LatestEntry(ctx context.Context, walletID uuid.UUID) (*ledger.Entry, error) {
	var out *ledger.Entry
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.LatestEntry(ctx, walletID)
		return err
	})
	return out, err
}

func (s *LedgerService) CountEntries(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var out int64
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.CountEntries(ctx, walletID)
		return err
	})
	return out, err
}

// BalanceAt returns the total balance recorded by the last entry at or before at,
// or zero when the wallet had no entries yet.
func (s *LedgerService) BalanceAt(ctx context.Context, walletID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		entry, err := tx.LatestEntryAt(ctx, walletID, at)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		balance = entry.BalanceAfter
		return nil
	})
	return balance, err
}

func (s *LedgerService) SumByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) (decimal.Decimal, error) {
	if !entryType.Valid() {
		return decimal.Zero, fmt.Errorf("%w: %q", ledger.ErrInvalidEntryType, entryType)
	}
	sum := decimal.Zero
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		sum, err = tx.SumByType(ctx, walletID, entryType)
		return err
	})
	return sum, err
}

// Rebuild compares the balances replayed from the ledger with the live projection.
type Rebuild struct {
	WalletID   uuid.UUID
	UserID     string
	Entries    int
	Replayed   ledger.Balances
	Projected  ledger.Balances
	Consistent bool
}

// RebuildWallet replays the wallet's entries without touching the projection.
func (s *LedgerService) RebuildWallet(ctx context.Context, walletID uuid.UUID) (*Rebuild, error) {
	var out *Rebuild
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		wallet, err := tx.WalletByID(ctx, walletID, false)
		if err != nil {
			return err
		}
		out, err = replayWallet(ctx, tx, wallet)
		return err
	})
	return out, err
}

func replayWallet(ctx context.Context, tx storage.Tx, wallet *ledger.Wallet) (*Rebuild, error) {
	entries, err := tx.EntriesAscending(ctx, wallet.ID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	replayed, err := ledger.Replay(wallet.ID, entries)
	if err != nil {
		return nil, err
	}
	projected := wallet.Balances()
	return &Rebuild{
		WalletID:   wallet.ID,
		UserID:     wallet.UserID,
		Entries:    len(entries),
		Replayed:   replayed,
		Projected:  projected,
		Consistent: replayed.Equal(projected),
	}, nil
}

// ChainReport is the result of walking a wallet's entries in sequence order.
type ChainReport struct {
	WalletID uuid.UUID
	Entries  int
	Valid    bool
	BrokenAt int64
	Reason   string
}

func (s *LedgerService) VerifyChain(ctx context.Context, walletID uuid.UUID) (*ChainReport, error) {
	report := &ChainReport{WalletID: walletID}
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.WalletByID(ctx, walletID, false); err != nil {
			return err
		}
		entries, err := tx.EntriesAscending(ctx, walletID)
		if err != nil {
			return err
		}
		report.Entries = len(entries)
		_, err = ledger.Replay(walletID, entries)
		var chainErr *ledger.ChainError
		switch {
		case err == nil:
			report.Valid = true
		case errors.As(err, &chainErr):
			report.BrokenAt = chainErr.Sequence
			report.Reason = chainErr.Reason
		default:
			report.Reason = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		s.logger.Warn("ledger chain broken", "wallet_id", walletID.String(), "sequence", report.BrokenAt, "reason", report.Reason)
	}
	return report, nil
}

// EntryDTO renders an entry with fixed-scale decimal strings.
func EntryDTO(e ledger.Entry) events.LedgerEntry {
	return events.LedgerEntry{
		ID:            e.ID.String(),
		WalletID:      e.WalletID.String(),
		Sequence:      e.Sequence,
		EntryType:     string(e.EntryType),
		Amount:        ledger.Format(e.Amount),
		BalanceBefore: ledger.Format(e.BalanceBefore),
		BalanceAfter:  ledger.Format(e.BalanceAfter),
		ReferenceID:   e.ReferenceID,
		ReferenceType: e.ReferenceType,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
