package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"
)

const intentColumns = `
	id, user_id, wallet_id, amount::text, currency, destination, memo, status, reference,
	external_tx, failure_reason, attempts, executing_since, notes, refunded_at, refund_reason,
	created_at, updated_at, completed_at, failed_permanently_at`

func scanIntent(row interface{ Scan(dest ...any) error }) (*domain.PaymentIntent, error) {
	var (
		p              domain.PaymentIntent
		amount, status string
		notes          []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.WalletID, &amount, &p.Currency, &p.Destination, &p.Memo,
		&status, &p.Reference, &p.ExternalTx, &p.FailureReason, &p.Attempts, &p.ExecutingSince,
		&notes, &p.RefundedAt, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.FailedPermanentlyAt); err != nil {
		return nil, err
	}
	a, err := parseNumeric(amount)
	if err != nil {
		return nil, err
	}
	p.Amount = a
	p.Status = domain.IntentStatus(status)
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &p.Notes); err != nil {
			return nil, fmt.Errorf("decode intent notes: %w", err)
		}
	}
	return &p, nil
}

func encodeNotes(notes []domain.IntentNote) (string, error) {
	if notes == nil {
		notes = []domain.IntentNote{}
	}
	b, err := json.Marshal(notes)
	if err != nil {
		return "", fmt.Errorf("encode intent notes: %w", err)
	}
	return string(b), nil
}

func (q *queries) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	p, err := scanIntent(q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get intent %s: %w", id, notFound(err))
	}
	return p, nil
}

// GetIntentForUpdate locks the intent row until the transaction ends.
func (q *queries) GetIntentForUpdate(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	p, err := scanIntent(q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock intent %s: %w", id, notFound(err))
	}
	return p, nil
}

func (q *queries) ListIntentsByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	return collect(rows, scanIntent)
}

func (q *queries) ListExecutingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status = 'executing'
		  AND (executing_since IS NULL OR executing_since < $1)
		ORDER BY executing_since NULLS FIRST
		LIMIT $2`
	rows, err := q.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck intents: %w", err)
	}
	return collect(rows, scanIntent)
}

func (q *queries) InsertIntent(ctx context.Context, p *domain.PaymentIntent) error {
	notes, err := encodeNotes(p.Notes)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payment_intents (
			id, user_id, wallet_id, amount, currency, destination, memo, status, reference,
			external_tx, failure_reason, attempts, executing_since, notes, refunded_at, refund_reason,
			created_at, updated_at, completed_at, failed_permanently_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14::jsonb, $15, $16,
			$17, $18, $19, $20
		)`
	_, err = q.db.Exec(ctx, query,
		p.ID, p.UserID, p.WalletID, p.Amount.String(), p.Currency, p.Destination, p.Memo, string(p.Status), p.Reference,
		p.ExternalTx, p.FailureReason, p.Attempts, p.ExecutingSince, notes, p.RefundedAt, p.RefundReason,
		p.CreatedAt, p.UpdatedAt, p.CompletedAt, p.FailedPermanentlyAt)
	if err != nil {
		return fmt.Errorf("insert intent: %w", mapUniqueViolation(err))
	}
	return nil
}

// UpdateIntent writes the mutable columns. Amount, wallet, destination and
// reference are fixed at creation.
func (q *queries) UpdateIntent(ctx context.Context, p *domain.PaymentIntent) error {
	notes, err := encodeNotes(p.Notes)
	if err != nil {
		return err
	}
	query := `
		UPDATE payment_intents
		SET status = $2,
		    external_tx = $3,
		    failure_reason = $4,
		    attempts = $5,
		    executing_since = $6,
		    notes = $7::jsonb,
		    refunded_at = $8,
		    refund_reason = $9,
		    updated_at = $10,
		    completed_at = $11,
		    failed_permanently_at = $12
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query,
		p.ID, string(p.Status), p.ExternalTx, p.FailureReason, p.Attempts, p.ExecutingSince,
		notes, p.RefundedAt, p.RefundReason, p.UpdatedAt, p.CompletedAt, p.FailedPermanentlyAt)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update intent %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}
