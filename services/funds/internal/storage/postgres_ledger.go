package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, wallet_id, sequence, entry_type, amount::text, balance_before::text, balance_after::text,
	reference_id, reference_type, description, created_at`

func (t *pgTx) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, sequence, entry_type, amount, balance_before, balance_after,
			reference_id, reference_type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.WalletID, e.Sequence, string(e.EntryType), e.Amount.String(), e.BalanceBefore.String(), e.BalanceAfter.String(),
		e.ReferenceID, e.ReferenceType, e.Description, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &ledger.ChainError{WalletID: e.WalletID, Sequence: e.Sequence, Reason: "sequence already recorded"}
		}
		return err
	}
	return nil
}

func (t *pgTx) LatestEntry(ctx context.Context, walletID uuid.UUID) (*ledger.Entry, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, walletID)
	return scanEntry(row)
}

func (t *pgTx) LatestEntryAt(ctx context.Context, walletID uuid.UUID, at time.Time) (*ledger.Entry, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE wallet_id = $1 AND created_at <= $2
		ORDER BY sequence DESC
		LIMIT 1
	`, walletID, at)
	return scanEntry(row)
}

func (t *pgTx) EntryByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (t *pgTx) ListEntries(ctx context.Context, walletID uuid.UUID, offset, limit int) ([]ledger.Entry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY sequence DESC
		OFFSET $2 LIMIT $3
	`, walletID, offset, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *pgTx) CountEntries(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE wallet_id = $1`, walletID).Scan(&count)
	return count, err
}

func (t *pgTx) EntriesAscending(ctx context.Context, walletID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY sequence ASC
	`, walletID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *pgTx) EntriesByReference(ctx context.Context, referenceID string) ([]ledger.Entry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE reference_id = $1
		ORDER BY created_at ASC, sequence ASC
	`, referenceID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *pgTx) EntriesByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) ([]ledger.Entry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE wallet_id = $1 AND entry_type = $2
		ORDER BY sequence ASC
	`, walletID, string(entryType))
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *pgTx) SumByType(ctx context.Context, walletID uuid.UUID, entryType ledger.EntryType) (decimal.Decimal, error) {
	var sumStr string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM ledger_entries
		WHERE wallet_id = $1 AND entry_type = $2
	`, walletID, string(entryType)).Scan(&sumStr)
	if err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(sumStr, "sum")
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntryRow(row pgx.Row) (ledger.Entry, error) {
	var e ledger.Entry
	var entryType, amountStr, beforeStr, afterStr string
	if err := row.Scan(&e.ID, &e.WalletID, &e.Sequence, &entryType, &amountStr, &beforeStr, &afterStr,
		&e.ReferenceID, &e.ReferenceType, &e.Description, &e.CreatedAt); err != nil {
		return ledger.Entry{}, err
	}
	e.EntryType = ledger.EntryType(entryType)
	var err error
	if e.Amount, err = parseDecimal(amountStr, "amount"); err != nil {
		return ledger.Entry{}, err
	}
	if e.BalanceBefore, err = parseDecimal(beforeStr, "balance_before"); err != nil {
		return ledger.Entry{}, err
	}
	if e.BalanceAfter, err = parseDecimal(afterStr, "balance_after"); err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return e, nil
}
