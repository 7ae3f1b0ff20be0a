package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/metrics"
	"settlement-service/internal/queue"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	referencePrefix   = "pi"
	defaultListLimit  = 20
	maxListLimit      = 100
	maxMemoLength     = 256
	maxReasonLength   = 512
	defaultCancelNote = "cancelled by owner"
)

type CreateIntentInput struct {
	WalletID    string
	Amount      decimal.Decimal
	Currency    string
	Destination string
	Memo        *string
}

// IntentUsecase is the payment intent manager: it reserves funds, moves
// intents toward execution and hands them to the execution queue.
type IntentUsecase struct {
	store    repository.Store
	ledger   *ledger.Ledger
	producer queue.Producer
	registry *domain.ServiceWalletRegistry
	ids      *utils.IDGenerator
	notify   notifier
	cache    IntentCache
	logger   *zap.Logger
	now      func() time.Time
}

func NewIntentUsecase(
	store repository.Store,
	l *ledger.Ledger,
	producer queue.Producer,
	registry *domain.ServiceWalletRegistry,
	ids *utils.IDGenerator,
	publisher EventPublisher,
	cache IntentCache,
	logger *zap.Logger,
) *IntentUsecase {
	if cache == nil {
		cache = nopCache{}
	}
	return &IntentUsecase{
		store:    store,
		ledger:   l,
		producer: producer,
		registry: registry,
		ids:      ids,
		notify:   newNotifier(publisher, cache, logger),
		cache:    cache,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateIntent reserves the amount on the user's wallet and records the
// intent in one transaction. Nothing is written when any step fails.
func (uc *IntentUsecase) CreateIntent(ctx context.Context, actor Actor, in CreateIntentInput) (*domain.PaymentIntent, error) {
	if actor.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	currency := domain.NormalizeCurrency(in.Currency)
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", domain.ErrInvalidInput)
	}
	destination, err := uc.registry.ResolveDestination(in.Destination)
	if err != nil {
		return nil, err
	}
	memo, err := trimOptional(in.Memo, maxMemoLength, "memo")
	if err != nil {
		return nil, err
	}

	now := uc.now()
	intent := &domain.PaymentIntent{
		ID:          uc.ids.NewID(),
		UserID:      actor.UserID,
		Amount:      in.Amount,
		Currency:    currency,
		Destination: destination,
		Memo:        memo,
		Status:      domain.IntentCreated,
		Reference:   uc.ids.NewReference(referencePrefix),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = uc.store.WithTx(ctx, func(tx repository.Tx) error {
		wallet, err := uc.sourceWallet(ctx, tx, actor.UserID, in.WalletID, currency)
		if err != nil {
			return err
		}
		if wallet.Address == destination {
			return fmt.Errorf("%w: destination is the source wallet", domain.ErrInvalidDestination)
		}
		if _, err := uc.ledger.Debit(ctx, tx, wallet.ID, in.Amount); err != nil {
			return err
		}
		if _, err := uc.ledger.RecordTransaction(ctx, tx, domain.TransactionInput{
			WalletID:  wallet.ID,
			Amount:    in.Amount,
			Direction: domain.DirectionDebit,
			Status:    domain.TransactionPending,
			Reference: intent.Reference,
			Memo:      memo,
		}); err != nil {
			return err
		}
		intent.WalletID = wallet.ID
		return tx.InsertIntent(ctx, intent)
	})
	if err != nil {
		uc.logger.Info("create intent rejected",
			zap.String("user_id", actor.UserID),
			zap.String("currency", currency),
			zap.String("amount", domain.FormatAmount(in.Amount)),
			zap.Error(err))
		return nil, err
	}

	metrics.IntentsCreated.WithLabelValues(currency).Inc()
	uc.logger.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("reference", intent.Reference),
		zap.String("user_id", intent.UserID),
		zap.String("wallet_id", intent.WalletID),
		zap.String("amount", domain.FormatAmount(intent.Amount)),
		zap.String("currency", intent.Currency))
	uc.notify.intentChanged(ctx, domain.EventIntentCreated, intent, now)
	return intent, nil
}

func (uc *IntentUsecase) sourceWallet(ctx context.Context, tx repository.Tx, userID, walletID, currency string) (*domain.Wallet, error) {
	if walletID == "" {
		w, err := tx.FindActiveWallet(ctx, userID, currency)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveWallet, currency)
		}
		return w, err
	}

	w, err := tx.GetWalletForUpdate(ctx, walletID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: wallet %s", domain.ErrNoActiveWallet, walletID)
	}
	if err != nil {
		return nil, err
	}
	if !w.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: wallet %s belongs to another owner", domain.ErrUnauthorized, walletID)
	}
	if !w.IsActive() {
		return nil, fmt.Errorf("%w: wallet %s is not active", domain.ErrNoActiveWallet, walletID)
	}
	if w.Currency != currency {
		return nil, fmt.Errorf("%w: wallet holds %s, intent is %s", domain.ErrCurrencyMismatch, w.Currency, currency)
	}
	return w, nil
}

// MarkReady moves a created intent to ready.
func (uc *IntentUsecase) MarkReady(ctx context.Context, actor Actor, intentID string) (*domain.PaymentIntent, error) {
	now := uc.now()
	var intent *domain.PaymentIntent
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if err := authorize(actor, p); err != nil {
			return err
		}
		if p.Status != domain.IntentCreated {
			return fmt.Errorf("%w: intent is %s", domain.ErrInvalidState, p.Status)
		}
		if err := p.Transition(domain.IntentReady, now); err != nil {
			return err
		}
		intent = p
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	uc.notify.intentChanged(ctx, domain.EventIntentReady, intent, now)
	return intent, nil
}

// RequestExecution marks the intent ready and enqueues it. Intents that
// are already executing or completed are returned unchanged.
func (uc *IntentUsecase) RequestExecution(ctx context.Context, actor Actor, intentID string) (*domain.PaymentIntent, error) {
	now := uc.now()
	var (
		intent  *domain.PaymentIntent
		changed bool
		enqueue bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if actor.UserID == "" || p.UserID != actor.UserID {
			return fmt.Errorf("%w: only the owner can execute an intent", domain.ErrUnauthorized)
		}
		intent = p
		switch p.Status {
		case domain.IntentExecuting, domain.IntentCompleted:
			return nil
		case domain.IntentCreated:
			if err := p.Transition(domain.IntentReady, now); err != nil {
				return err
			}
			changed, enqueue = true, true
			return tx.UpdateIntent(ctx, p)
		case domain.IntentReady:
			enqueue = true
			return nil
		default:
			return fmt.Errorf("%w: intent is %s", domain.ErrInvalidState, p.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if changed {
		uc.notify.intentChanged(ctx, domain.EventIntentReady, intent, now)
	}
	if !enqueue {
		return intent, nil
	}

	if err := uc.producer.Enqueue(ctx, queue.ExecuteIntent{
		IntentID:   intent.ID,
		EnqueuedAt: now,
		Source:     queue.SourceClient,
	}); err != nil {
		uc.logger.Error("failed to enqueue intent execution",
			zap.String("intent_id", intent.ID),
			zap.String("reference", intent.Reference),
			zap.Error(err))
		return nil, fmt.Errorf("enqueue execution: %w", err)
	}
	uc.logger.Info("intent execution requested",
		zap.String("intent_id", intent.ID),
		zap.String("reference", intent.Reference))
	return intent, nil
}

// Cancel releases the reservation of an intent that has not started
// executing and marks it cancelled.
func (uc *IntentUsecase) Cancel(ctx context.Context, actor Actor, intentID, reason string) (*domain.PaymentIntent, error) {
	reasonPtr, err := trimOptional(&reason, maxReasonLength, "reason")
	if err != nil {
		return nil, err
	}
	if reasonPtr == nil {
		r := defaultCancelNote
		reasonPtr = &r
	}

	now := uc.now()
	var intent *domain.PaymentIntent
	err = uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if err := authorize(actor, p); err != nil {
			return err
		}
		if err := p.Transition(domain.IntentCancelled, now); err != nil {
			return err
		}
		released, err := releaseReservation(ctx, uc.ledger, tx, p, now)
		if err != nil {
			return err
		}
		if !released {
			consistencyViolation(uc.logger, "cancel", p, "", errors.New("no pending reservation"))
		}
		p.FailureReason = reasonPtr
		intent = p
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("payment intent cancelled",
		zap.String("intent_id", intent.ID),
		zap.String("reference", intent.Reference),
		zap.String("reason", *reasonPtr))
	uc.notify.intentChanged(ctx, domain.EventIntentCancelled, intent, now)
	return intent, nil
}

// GetIntent returns an intent visible to actor, served from the cache
// when possible.
func (uc *IntentUsecase) GetIntent(ctx context.Context, actor Actor, intentID string) (*domain.PaymentIntent, error) {
	if p, err := uc.cache.Get(ctx, intentID); err == nil && p != nil {
		if err := authorize(actor, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	p, err := uc.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, p); err != nil {
		return nil, err
	}
	if err := uc.cache.Set(ctx, p); err != nil {
		uc.logger.Debug("failed to cache intent", zap.String("intent_id", p.ID), zap.Error(err))
	}
	return p, nil
}

// ListIntents returns the actor's intents, newest first.
func (uc *IntentUsecase) ListIntents(ctx context.Context, actor Actor, limit, offset int) ([]*domain.PaymentIntent, error) {
	if actor.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	limit, offset = clampPage(limit, offset)
	return uc.store.ListIntentsByUser(ctx, actor.UserID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func trimOptional(s *string, max int, field string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil, nil
	}
	if len(v) > max {
		return nil, fmt.Errorf("%w: %s exceeds %d characters", domain.ErrInvalidInput, field, max)
	}
	return &v, nil
}
