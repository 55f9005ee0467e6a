package storage

import (
	"context"
	"errors"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const lockColumns = `id, wallet_id, user_id, order_id, amount::text, status, reason, created_at, updated_at, closed_at`

func (t *pgTx) InsertLock(ctx context.Context, l *ledger.FundsLock) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO funds_locks (id, wallet_id, user_id, order_id, amount, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, l.ID, l.WalletID, l.UserID, l.OrderID, l.Amount.String(), string(l.Status), l.Reason, l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &ledger.DuplicateLockError{OrderID: l.OrderID}
		}
		return err
	}
	return nil
}

func (t *pgTx) LockByOrderID(ctx context.Context, orderID string, lock bool) (*ledger.FundsLock, error) {
	row := t.tx.QueryRow(ctx, forUpdate(`SELECT `+lockColumns+` FROM funds_locks WHERE order_id = $1`, lock), orderID)
	l, err := scanLock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrLockNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) UpdateLock(ctx context.Context, l *ledger.FundsLock) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE funds_locks
		SET status = $1, reason = $2, updated_at = $3, closed_at = $4
		WHERE id = $5
	`, string(l.Status), l.Reason, l.UpdatedAt, l.ClosedAt, l.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrLockNotFound
	}
	return nil
}

func (t *pgTx) LocksByWallet(ctx context.Context, walletID uuid.UUID, status ledger.LockStatus) ([]ledger.FundsLock, error) {
	query := `SELECT ` + lockColumns + ` FROM funds_locks WHERE wallet_id = $1`
	args := []any{walletID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.FundsLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLock(row pgx.Row) (ledger.FundsLock, error) {
	var l ledger.FundsLock
	var amountStr, status string
	if err := row.Scan(&l.ID, &l.WalletID, &l.UserID, &l.OrderID, &amountStr, &status, &l.Reason, &l.CreatedAt, &l.UpdatedAt, &l.ClosedAt); err != nil {
		return ledger.FundsLock{}, err
	}
	l.Status = ledger.LockStatus(status)
	amount, err := parseDecimal(amountStr, "lock amount")
	if err != nil {
		return ledger.FundsLock{}, err
	}
	l.Amount = amount
	return l, nil
}
