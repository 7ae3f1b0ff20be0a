package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/repository"

	"go.uber.org/zap"
)

const refundReferencePrefix = "refund-"

// AdminUsecase resolves intents that left the normal flow.
type AdminUsecase struct {
	store  repository.Store
	ledger *ledger.Ledger
	notify notifier
	lease  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewAdminUsecase(
	store repository.Store,
	l *ledger.Ledger,
	publisher EventPublisher,
	cache IntentCache,
	lease time.Duration,
	logger *zap.Logger,
) *AdminUsecase {
	return &AdminUsecase{
		store:  store,
		ledger: l,
		notify: newNotifier(publisher, cache, logger),
		lease:  lease,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile records a settlement confirmed out of band: the pending debit
// is completed with externalTx, a local destination is credited and the
// intent completes. Reconciling a completed intent is a no-op.
func (uc *AdminUsecase) Reconcile(ctx context.Context, actor Actor, intentID string, externalTx, notes *string) (*domain.PaymentIntent, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrUnauthorized
	}
	externalTx, err := trimOptional(externalTx, maxReasonLength, "external_tx")
	if err != nil {
		return nil, err
	}
	notes, err = trimOptional(notes, maxReasonLength, "notes")
	if err != nil {
		return nil, err
	}

	now := uc.now()
	log := uc.logger.With(zap.String("intent_id", intentID), zap.String("admin_id", actor.UserID))
	var (
		intent  *domain.PaymentIntent
		changed bool
	)
	err = uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		intent = p
		if p.Status == domain.IntentCompleted {
			return nil
		}
		debit, err := tx.FindTransaction(ctx, p.Reference, domain.DirectionDebit, domain.TransactionPending)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no pending reservation for %s", domain.ErrReconciliationConflict, p.Reference)
		}
		if err != nil {
			return err
		}
		if p.Status != domain.IntentExecuting {
			return fmt.Errorf("%w: intent is %s", domain.ErrReconciliationConflict, p.Status)
		}
		if err := settleDebit(ctx, uc.ledger, tx, log, p, debit, externalTx, now); err != nil {
			return err
		}
		if externalTx != nil {
			p.ExternalTx = externalTx
		}
		if err := p.Transition(domain.IntentCompleted, now); err != nil {
			return err
		}
		p.AddNote(actor.UserID, "reconcile", deref(notes), now)
		changed = true
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		log.Warn("reconcile rejected", zap.Error(err))
		return nil, err
	}
	if changed {
		log.Info("intent reconciled",
			zap.String("reference", intent.Reference),
			zap.String("external_tx", deref(externalTx)))
		uc.notify.intentChanged(ctx, domain.EventIntentReconciled, intent, now)
	}
	return intent, nil
}

// Refund credits the full amount of a completed intent back to its source
// wallet, once.
func (uc *AdminUsecase) Refund(ctx context.Context, actor Actor, intentID string, reason *string) (*domain.PaymentIntent, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrUnauthorized
	}
	reason, err := trimOptional(reason, maxReasonLength, "reason")
	if err != nil {
		return nil, err
	}

	now := uc.now()
	log := uc.logger.With(zap.String("intent_id", intentID), zap.String("admin_id", actor.UserID))
	var intent *domain.PaymentIntent
	err = uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if p.Status != domain.IntentCompleted {
			return fmt.Errorf("%w: only completed intents can be refunded, intent is %s", domain.ErrInvalidState, p.Status)
		}
		if p.IsRefunded() {
			return fmt.Errorf("%w: intent already refunded", domain.ErrInvalidState)
		}
		if _, err := uc.ledger.Credit(ctx, tx, p.WalletID, p.Amount); err != nil {
			return err
		}
		if _, err := uc.ledger.RecordTransaction(ctx, tx, domain.TransactionInput{
			WalletID:   p.WalletID,
			Amount:     p.Amount,
			Direction:  domain.DirectionCredit,
			Status:     domain.TransactionCompleted,
			ExternalTx: p.ExternalTx,
			Reference:  refundReferencePrefix + p.Reference,
			Memo:       reason,
		}); err != nil {
			if errors.Is(err, domain.ErrDuplicateReference) {
				return fmt.Errorf("%w: intent already refunded", domain.ErrInvalidState)
			}
			return err
		}
		p.RefundedAt = &now
		p.RefundReason = reason
		p.AddNote(actor.UserID, "refund", deref(reason), now)
		intent = p
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		log.Warn("refund rejected", zap.Error(err))
		return nil, err
	}

	log.Info("intent refunded",
		zap.String("reference", intent.Reference),
		zap.String("amount", domain.FormatAmount(intent.Amount)))
	uc.notify.intentChanged(ctx, domain.EventIntentRefunded, intent, now)
	return intent, nil
}

// ListStuckIntents returns executing intents whose lease started more than
// olderThan ago. A zero olderThan uses the execution lease.
func (uc *AdminUsecase) ListStuckIntents(ctx context.Context, actor Actor, olderThan time.Duration, limit int) ([]*domain.PaymentIntent, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrUnauthorized
	}
	if olderThan <= 0 {
		olderThan = uc.lease
	}
	limit, _ = clampPage(limit, 0)
	return uc.store.ListExecutingBefore(ctx, uc.now().Add(-olderThan), limit)
}
