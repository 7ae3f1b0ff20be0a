package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, wallet_id, counterparty_wallet_id, amount::text, direction, status, external_tx, reference, memo, created_at, updated_at`

func scanTransaction(row interface{ Scan(dest ...any) error }) (*domain.Transaction, error) {
	var (
		t                 domain.Transaction
		amount, dir, stat string
	)
	if err := row.Scan(&t.ID, &t.WalletID, &t.CounterpartyWalletID, &amount, &dir, &stat,
		&t.ExternalTx, &t.Reference, &t.Memo, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	a, err := parseNumeric(amount)
	if err != nil {
		return nil, err
	}
	t.Amount = a
	t.Direction = domain.Direction(dir)
	t.Status = domain.TransactionStatus(stat)
	return &t, nil
}

func (q *queries) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, wallet_id, counterparty_wallet_id, amount, direction, status,
			external_tx, reference, memo, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)`
	_, err := q.db.Exec(ctx, query,
		t.ID, t.WalletID, t.CounterpartyWalletID, t.Amount.String(), string(t.Direction), string(t.Status),
		t.ExternalTx, t.Reference, t.Memo, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", mapUniqueViolation(err))
	}
	return nil
}

// UpdateTransactionStatus only moves pending rows; any other current
// status yields domain.ErrInvalidState.
func (q *queries) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus, externalTx *string, at time.Time) error {
	query := `
		UPDATE transactions
		SET status = $2,
		    external_tx = COALESCE($3, external_tx),
		    updated_at = $4
		WHERE id = $1 AND status = 'pending'`
	tag, err := q.db.Exec(ctx, query, id, string(status), externalTx, at)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", mapUniqueViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s is not pending", domain.ErrInvalidState, id)
	}
	return nil
}

func (q *queries) FindTransaction(ctx context.Context, reference string, dir domain.Direction, status domain.TransactionStatus) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE reference = $1 AND direction = $2 AND status = $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	t, err := scanTransaction(q.db.QueryRow(ctx, query, reference, string(dir), string(status)))
	if err != nil {
		return nil, fmt.Errorf("find %s %s transaction: %w", status, dir, notFound(err))
	}
	return t, nil
}

func (q *queries) HasPendingDebits(ctx context.Context, walletID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE wallet_id = $1 AND direction = 'debit' AND status = 'pending'
		)`
	var exists bool
	if err := q.db.QueryRow(ctx, query, walletID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending debits: %w", err)
	}
	return exists, nil
}

func (q *queries) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WalletID != nil {
		add("wallet_id = $%d", *f.WalletID)
	}
	if f.Reference != nil {
		add("reference = $%d", *f.Reference)
	}
	if f.Direction != nil {
		add("direction = $%d", string(*f.Direction))
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collect(rows, scanTransaction)
}

func collect[T any](rows pgx.Rows, scan func(interface{ Scan(dest ...any) error }) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
