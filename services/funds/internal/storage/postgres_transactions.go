package storage

import (
	"context"
	"errors"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, wallet_id, user_id, transaction_type, amount::text, status, external_reference, description, failure_reason, created_at, updated_at`

func (t *pgTx) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, wallet_id, user_id, transaction_type, amount, status, external_reference, description, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, tr.ID, tr.WalletID, tr.UserID, string(tr.Type), tr.Amount.String(), string(tr.Status), tr.ExternalReference, tr.Description, tr.FailureReason, tr.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &ledger.DuplicateTransactionError{Reference: tr.ExternalReference}
		}
		return err
	}
	return nil
}

func (t *pgTx) TransactionByReference(ctx context.Context, reference string, lock bool) (*ledger.Transaction, error) {
	row := t.tx.QueryRow(ctx, forUpdate(`SELECT `+transactionColumns+` FROM transactions WHERE external_reference = $1`, lock), reference)
	tr, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return &tr, nil
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tr *ledger.Transaction) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4
	`, string(tr.Status), tr.FailureReason, tr.UpdatedAt, tr.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (t *pgTx) TransactionsByWallet(ctx context.Context, walletID uuid.UUID, offset, limit int) ([]ledger.Transaction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, external_reference DESC
		OFFSET $2 LIMIT $3
	`, walletID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgTx) CountTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE wallet_id = $1`, walletID).Scan(&n)
	return n, err
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var tr ledger.Transaction
	var txType, status, amountStr string
	if err := row.Scan(&tr.ID, &tr.WalletID, &tr.UserID, &txType, &amountStr, &status, &tr.ExternalReference, &tr.Description, &tr.FailureReason, &tr.CreatedAt, &tr.UpdatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	tr.Type = ledger.TransactionType(txType)
	tr.Status = ledger.TransactionStatus(status)
	amount, err := parseDecimal(amountStr, "transaction amount")
	if err != nil {
		return ledger.Transaction{}, err
	}
	tr.Amount = amount
	return tr, nil
}
