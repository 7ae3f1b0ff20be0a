package postgres

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

const walletColumns = `id, owner_id, service_kind, address, currency, balance::text, status, created_at, updated_at, deleted_at`

func scanWallet(row interface{ Scan(dest ...any) error }) (*domain.Wallet, error) {
	var (
		w       domain.Wallet
		kind    *string
		balance string
		status  string
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &kind, &w.Address, &w.Currency, &balance, &status,
		&w.CreatedAt, &w.UpdatedAt, &w.DeletedAt); err != nil {
		return nil, err
	}
	bal, err := parseNumeric(balance)
	if err != nil {
		return nil, err
	}
	w.Balance = bal
	w.Status = domain.WalletStatus(status)
	if kind != nil {
		k := domain.ServiceWalletKind(*kind)
		w.ServiceKind = &k
	}
	return &w, nil
}

func (q *queries) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", id, notFound(err))
	}
	return w, nil
}

// GetWalletForUpdate locks the wallet row until the transaction ends.
func (q *queries) GetWalletForUpdate(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", id, notFound(err))
	}
	return w, nil
}

func (q *queries) GetWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE address = $1 AND deleted_at IS NULL`, address))
	if err != nil {
		return nil, fmt.Errorf("get wallet by address: %w", notFound(err))
	}
	return w, nil
}

func (q *queries) FindActiveWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE owner_id = $1
		  AND currency = $2
		  AND status = 'active'
		  AND deleted_at IS NULL
		ORDER BY created_at, id
		LIMIT 1`
	w, err := scanWallet(q.db.QueryRow(ctx, query, ownerID, currency))
	if err != nil {
		return nil, fmt.Errorf("find active wallet: %w", notFound(err))
	}
	return w, nil
}

func (q *queries) FindServiceWallet(ctx context.Context, kind domain.ServiceWalletKind) (*domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE service_kind = $1 AND deleted_at IS NULL`, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("find service wallet %s: %w", kind, notFound(err))
	}
	return w, nil
}

func (q *queries) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	var kind *string
	if w.ServiceKind != nil {
		k := string(*w.ServiceKind)
		kind = &k
	}
	query := `
		INSERT INTO wallets (id, owner_id, service_kind, address, currency, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)`
	_, err := q.db.Exec(ctx, query, w.ID, w.OwnerID, kind, w.Address, w.Currency,
		w.Balance.String(), string(w.Status), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create wallet: %w", mapUniqueViolation(err))
	}
	return nil
}

func (q *queries) UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET balance = $2::numeric, updated_at = $3 WHERE id = $1`,
		id, balance.String(), at)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update wallet balance %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (q *queries) SoftDeleteWallet(ctx context.Context, id string, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("soft delete wallet %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
