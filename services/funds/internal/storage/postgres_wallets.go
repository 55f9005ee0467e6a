package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, available_balance::text, locked_balance::text, currency, status, created_at, updated_at`

func (t *pgTx) InsertWallet(ctx context.Context, w *ledger.Wallet) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, available_balance, locked_balance, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, w.ID, w.UserID, w.AvailableBalance.String(), w.LockedBalance.String(), w.Currency, w.Status, w.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) WalletByUserID(ctx context.Context, userID string, lock bool) (*ledger.Wallet, error) {
	row := t.tx.QueryRow(ctx, forUpdate(`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, lock), userID)
	return scanWallet(row)
}

func (t *pgTx) WalletByID(ctx context.Context, id uuid.UUID, lock bool) (*ledger.Wallet, error) {
	row := t.tx.QueryRow(ctx, forUpdate(`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, lock), id)
	return scanWallet(row)
}

func (t *pgTx) UpdateWalletBalances(ctx context.Context, w *ledger.Wallet) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets
		SET available_balance = $1, locked_balance = $2, updated_at = $3
		WHERE id = $4
	`, w.AvailableBalance.String(), w.LockedBalance.String(), w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrWalletNotFound
	}
	return nil
}

func scanWallet(row pgx.Row) (*ledger.Wallet, error) {
	var w ledger.Wallet
	var availableStr, lockedStr string
	if err := row.Scan(&w.ID, &w.UserID, &availableStr, &lockedStr, &w.Currency, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrWalletNotFound
		}
		return nil, err
	}
	var err error
	if w.AvailableBalance, err = parseDecimal(availableStr, "available balance"); err != nil {
		return nil, err
	}
	if w.LockedBalance, err = parseDecimal(lockedStr, "locked balance"); err != nil {
		return nil, fmt.Errorf("wallet %s: %w", w.ID, err)
	}
	return &w, nil
}
