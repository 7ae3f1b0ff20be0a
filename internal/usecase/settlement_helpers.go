package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"

	"go.uber.org/zap"
)

// releaseReservation credits a pending reservation back to its wallet and
// marks the debit failed. It reports false when no pending debit exists.
func releaseReservation(ctx context.Context, l *ledger.Ledger, tx repository.Tx, p *domain.PaymentIntent, now time.Time) (bool, error) {
	debit, err := tx.FindTransaction(ctx, p.Reference, domain.DirectionDebit, domain.TransactionPending)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := l.Credit(ctx, tx, debit.WalletID, debit.Amount); err != nil {
		return false, fmt.Errorf("credit back reservation: %w", err)
	}
	if err := tx.UpdateTransactionStatus(ctx, debit.ID, domain.TransactionFailed, nil, now); err != nil {
		return false, fmt.Errorf("fail reservation debit: %w", err)
	}
	return true, nil
}

// settleDebit completes the pending debit with the external id and, when
// the destination address belongs to a local wallet, credits it with a
// paired completed credit under the same reference.
func settleDebit(ctx context.Context, l *ledger.Ledger, tx repository.Tx, log *zap.Logger, p *domain.PaymentIntent, debit *domain.Transaction, externalTx *string, now time.Time) error {
	if err := tx.UpdateTransactionStatus(ctx, debit.ID, domain.TransactionCompleted, externalTx, now); err != nil {
		return fmt.Errorf("complete debit: %w", err)
	}

	dest, err := tx.GetWalletByAddress(ctx, p.Destination)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if dest.Currency != p.Currency {
		log.Warn("local destination wallet holds another currency, no local credit",
			zap.String("destination_wallet_id", dest.ID),
			zap.String("destination_currency", dest.Currency))
		return nil
	}
	if _, err := tx.FindTransaction(ctx, p.Reference, domain.DirectionCredit, domain.TransactionCompleted); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if _, err := l.Credit(ctx, tx, dest.ID, p.Amount); err != nil {
		return fmt.Errorf("credit destination: %w", err)
	}
	source := debit.WalletID
	if _, err := l.RecordTransaction(ctx, tx, domain.TransactionInput{
		WalletID:             dest.ID,
		CounterpartyWalletID: &source,
		Amount:               p.Amount,
		Direction:            domain.DirectionCredit,
		Status:               domain.TransactionCompleted,
		ExternalTx:           externalTx,
		Reference:            p.Reference,
		Memo:                 p.Memo,
	}); err != nil {
		return fmt.Errorf("record destination credit: %w", err)
	}
	return nil
}

// notifier runs the side effects that follow a committed intent change.
// Failures are logged; the database stays the source of truth.
type notifier struct {
	publisher EventPublisher
	cache     IntentCache
	logger    *zap.Logger
}

func newNotifier(publisher EventPublisher, cache IntentCache, logger *zap.Logger) notifier {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cache == nil {
		cache = nopCache{}
	}
	return notifier{publisher: publisher, cache: cache, logger: logger}
}

func (n notifier) intentChanged(ctx context.Context, t domain.IntentEventType, p *domain.PaymentIntent, now time.Time) {
	metrics.IntentEvents.WithLabelValues(string(t)).Inc()
	if err := n.cache.Invalidate(ctx, p.ID); err != nil {
		n.logger.Warn("failed to invalidate intent cache", zap.String("intent_id", p.ID), zap.Error(err))
	}
	if err := n.publisher.PublishIntentEvent(ctx, domain.NewIntentEvent(t, p, now)); err != nil {
		n.logger.Warn("failed to publish intent event",
			zap.String("intent_id", p.ID),
			zap.String("event", string(t)),
			zap.Error(err))
	}
}

// consistencyViolation records a path that could not guarantee fund
// conservation.
func consistencyViolation(log *zap.Logger, path string, p *domain.PaymentIntent, externalTx string, err error) {
	metrics.ConsistencyViolations.WithLabelValues(path).Inc()
	fields := []zap.Field{
		zap.String("path", path),
		zap.String("intent_id", p.ID),
		zap.String("reference", p.Reference),
		zap.String("external_tx", externalTx),
		zap.String("status", string(p.Status)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	log.Error("settlement consistency violation", fields...)
}

func authorize(actor Actor, p *domain.PaymentIntent) error {
	if actor.UserID == "" {
		return domain.ErrUnauthorized
	}
	if actor.IsAdmin() || p.UserID == actor.UserID {
		return nil
	}
	return fmt.Errorf("%w: intent %s belongs to another user", domain.ErrUnauthorized, p.ID)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
