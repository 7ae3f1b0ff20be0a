package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/metrics"
	"settlement-service/internal/provider"
	"settlement-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ExecutionConfig struct {
	// Lease is how long an executing intent belongs to its executor before
	// another job may take it over.
	Lease time.Duration
	// TransferTimeout bounds one settlement worker call. It must be
	// shorter than Lease.
	TransferTimeout time.Duration
}

// ExecutionUsecase drives one intent through the settlement protocol:
// claim and reserve, call the worker, then finalize or roll back.
type ExecutionUsecase struct {
	store  repository.Store
	ledger *ledger.Ledger
	worker provider.SettlementWorker
	notify notifier
	cfg    ExecutionConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewExecutionUsecase(
	store repository.Store,
	l *ledger.Ledger,
	worker provider.SettlementWorker,
	publisher EventPublisher,
	cache IntentCache,
	cfg ExecutionConfig,
	logger *zap.Logger,
) *ExecutionUsecase {
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 20 * time.Second
	}
	return &ExecutionUsecase{
		store:  store,
		ledger: l,
		worker: worker,
		notify: newNotifier(publisher, cache, logger),
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// execScope is the per-run context of one execution attempt. It is passed
// explicitly through every step.
type execScope struct {
	traceID  string
	intentID string
	started  time.Time
	log      *zap.Logger
}

func (uc *ExecutionUsecase) newScope(intentID string) *execScope {
	traceID := uuid.NewString()
	return &execScope{
		traceID:  traceID,
		intentID: intentID,
		started:  time.Now(),
		log:      uc.logger.With(zap.String("trace_id", traceID), zap.String("intent_id", intentID)),
	}
}

// claimed is what a successful claim hands to the transfer step.
type claimed struct {
	intent     *domain.PaymentIntent
	source     *domain.Wallet
	takeover   bool
	reReserved bool
}

// Execute runs the settlement protocol for intentID once. The returned
// error is nil, a *RetryableError or a *FatalError.
func (uc *ExecutionUsecase) Execute(ctx context.Context, intentID string) (Outcome, error) {
	sc := uc.newScope(intentID)
	outcome, err := uc.execute(ctx, sc)

	metrics.JobOutcomes.WithLabelValues(string(outcome), ErrorKind(err)).Inc()
	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.String("error_kind", ErrorKind(err)),
		zap.Duration("elapsed", time.Since(sc.started)),
	}
	if err != nil {
		sc.log.Warn("execution attempt ended with error", append(fields, zap.Error(err))...)
	} else {
		sc.log.Info("execution attempt finished", fields...)
	}
	return outcome, err
}

func (uc *ExecutionUsecase) execute(ctx context.Context, sc *execScope) (Outcome, error) {
	intent, err := uc.store.GetIntent(ctx, sc.intentID)
	if errors.Is(err, domain.ErrNotFound) {
		sc.log.Error("execution requested for unknown intent")
		return OutcomeSkipped, fatal(err)
	}
	if err != nil {
		return OutcomeFailed, retryable(err)
	}
	sc.log = sc.log.With(zap.String("reference", intent.Reference))

	// A completed debit under the reference means a previous run settled.
	settled, err := uc.store.FindTransaction(ctx, intent.Reference, domain.DirectionDebit, domain.TransactionCompleted)
	if err == nil {
		return uc.markSettled(ctx, sc, settled)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return OutcomeFailed, retryable(err)
	}

	c, outcome, err := uc.claim(ctx, sc)
	if c == nil {
		return outcome, err
	}

	res, err := uc.transfer(ctx, sc, c)
	if err != nil {
		return uc.rollback(ctx, sc, err)
	}
	if !res.Success {
		return uc.rollback(ctx, sc, fmt.Errorf("%w: %s", domain.ErrWorkerTransferFailed, res.Error))
	}
	return uc.finalize(ctx, sc, res)
}

func (uc *ExecutionUsecase) markSettled(ctx context.Context, sc *execScope, debit *domain.Transaction) (Outcome, error) {
	now := uc.now()
	var (
		intent  *domain.PaymentIntent
		changed bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, sc.intentID)
		if err != nil {
			return err
		}
		intent = p
		switch p.Status {
		case domain.IntentCompleted:
			return nil
		case domain.IntentExecuting:
			p.ExternalTx = debit.ExternalTx
			if err := p.Transition(domain.IntentCompleted, now); err != nil {
				return err
			}
			changed = true
			return tx.UpdateIntent(ctx, p)
		default:
			return fatal(fmt.Errorf("%w: completed debit exists for %s intent", domain.ErrReconciliationConflict, p.Status))
		}
	})
	if err != nil {
		if IsFatal(err) {
			consistencyViolation(sc.log, "idempotency_check", intent, deref(debit.ExternalTx), err)
			return OutcomeFailed, err
		}
		return OutcomeFailed, retryable(err)
	}
	if changed {
		uc.notify.intentChanged(ctx, domain.EventIntentCompleted, intent, now)
	}
	sc.log.Info("intent already settled", zap.String("external_tx", deref(debit.ExternalTx)))
	return OutcomeAlreadySettled, nil
}

var (
	errIntentCancelled         = errors.New("intent was cancelled")
	errIntentNotReady          = errors.New("intent was never made ready")
	errIntentFailedPermanently = errors.New("intent failed permanently")
)

// claim moves the intent to executing and makes sure its funds are
// reserved. Row locks are released when it returns, before any network call.
func (uc *ExecutionUsecase) claim(ctx context.Context, sc *execScope) (*claimed, Outcome, error) {
	now := uc.now()
	var (
		c       claimed
		settled bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, sc.intentID)
		if err != nil {
			return err
		}
		if p.IsFailedPermanently() {
			return errIntentFailedPermanently
		}
		switch p.Status {
		case domain.IntentCompleted:
			settled = true
			return nil
		case domain.IntentCancelled:
			return errIntentCancelled
		case domain.IntentCreated:
			return errIntentNotReady
		case domain.IntentExecuting:
			if !p.LeaseExpired(now, uc.cfg.Lease) {
				return domain.ErrExecutionInProgress
			}
			sc.log.Warn("execution lease expired, taking over",
				zap.Int("attempts", p.Attempts),
				zap.Timep("executing_since", p.ExecutingSince))
			p.RenewLease(now)
			c.takeover = true
		default:
			if err := p.Transition(domain.IntentExecuting, now); err != nil {
				return err
			}
		}

		wallet, err := tx.GetWalletForUpdate(ctx, p.WalletID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: source wallet %s does not exist", domain.ErrNonRetryableConfig, p.WalletID)
		}
		if err != nil {
			return err
		}
		if !wallet.IsActive() {
			return fmt.Errorf("%w: %w", domain.ErrNonRetryableConfig, domain.ErrWalletDisabled)
		}
		if wallet.Currency != p.Currency {
			return fmt.Errorf("%w: %w: wallet holds %s, intent is %s",
				domain.ErrNonRetryableConfig, domain.ErrCurrencyMismatch, wallet.Currency, p.Currency)
		}

		reserved, err := tx.FindTransaction(ctx, p.Reference, domain.DirectionDebit, domain.TransactionPending)
		switch {
		case err == nil:
			if !reserved.Amount.Equal(p.Amount) || reserved.WalletID != wallet.ID {
				return fmt.Errorf("%w: reservation %s on wallet %s does not match intent %s on wallet %s",
					domain.ErrNonRetryableConfig, domain.FormatAmount(reserved.Amount), reserved.WalletID,
					domain.FormatAmount(p.Amount), wallet.ID)
			}
		case errors.Is(err, domain.ErrNotFound):
			// A previous attempt rolled back and released the funds.
			if _, err := uc.ledger.Debit(ctx, tx, wallet.ID, p.Amount); err != nil {
				return err
			}
			if _, err := uc.ledger.RecordTransaction(ctx, tx, domain.TransactionInput{
				WalletID:  wallet.ID,
				Amount:    p.Amount,
				Direction: domain.DirectionDebit,
				Status:    domain.TransactionPending,
				Reference: p.Reference,
				Memo:      p.Memo,
			}); err != nil {
				return err
			}
			c.reReserved = true
		default:
			return err
		}

		if err := tx.UpdateIntent(ctx, p); err != nil {
			return err
		}
		c.intent = p
		c.source = wallet
		return nil
	})

	switch {
	case err == nil && settled:
		return nil, OutcomeAlreadySettled, nil
	case err == nil:
		sc.log.Info("intent claimed for execution",
			zap.Int("attempt", c.intent.Attempts),
			zap.Bool("takeover", c.takeover),
			zap.Bool("re_reserved", c.reReserved))
		uc.notify.intentChanged(ctx, domain.EventIntentExecuting, c.intent, now)
		return &c, "", nil
	case errors.Is(err, domain.ErrExecutionInProgress):
		return nil, OutcomeInProgress, retryable(err)
	case errors.Is(err, errIntentCancelled), errors.Is(err, errIntentNotReady), errors.Is(err, errIntentFailedPermanently):
		sc.log.Info("intent is not executable, dropping job", zap.Error(err))
		return nil, OutcomeSkipped, fatal(fmt.Errorf("%w: %w", domain.ErrInvalidState, err))
	case errors.Is(err, domain.ErrInsufficientFunds):
		sc.log.Error("balance no longer covers a released reservation", zap.Error(err))
		return nil, OutcomeFailed, uc.failIntent(ctx, sc, err)
	case errors.Is(err, domain.ErrNonRetryableConfig):
		sc.log.Error("non-retryable execution error", zap.Error(err))
		return nil, OutcomeFailed, uc.failIntent(ctx, sc, err)
	default:
		return nil, OutcomeFailed, retryable(err)
	}
}

// failIntent ends the intent in failed with no reservation left. It
// returns the FatalError for cause, or a RetryableError when the failure
// itself could not be persisted.
func (uc *ExecutionUsecase) failIntent(ctx context.Context, sc *execScope, cause error) error {
	now := uc.now()
	var (
		intent  *domain.PaymentIntent
		changed bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, sc.intentID)
		if err != nil {
			return err
		}
		intent = p
		if p.Status.IsTerminal() || p.IsFailedPermanently() {
			return nil
		}
		if _, err := releaseReservation(ctx, uc.ledger, tx, p, now); err != nil {
			return err
		}
		if p.Status == domain.IntentFailed {
			reason := cause.Error()
			p.FailureReason = &reason
			p.UpdatedAt = now
		} else if err := p.Fail(cause.Error(), now); err != nil {
			return err
		}
		if err := p.MarkFailedPermanently(now); err != nil {
			return err
		}
		changed = true
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		sc.log.Error("failed to mark intent failed", zap.NamedError("cause", cause), zap.Error(err))
		return retryable(errors.Join(cause, err))
	}
	if changed {
		uc.notify.intentChanged(ctx, domain.EventIntentFailed, intent, now)
	}
	return fatal(cause)
}

func (uc *ExecutionUsecase) transfer(ctx context.Context, sc *execScope, c *claimed) (*provider.TransferResult, error) {
	tctx, cancel := context.WithTimeout(ctx, uc.cfg.TransferTimeout)
	defer cancel()

	start := time.Now()
	res, err := uc.worker.Transfer(tctx, &provider.TransferRequest{
		Mint:        c.intent.Currency,
		Amount:      c.intent.Amount,
		FromAddress: c.source.Address,
		ToAddress:   c.intent.Destination,
		Reference:   c.intent.Reference,
	})
	elapsed := time.Since(start)

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case res == nil:
		result = "error"
		err = fmt.Errorf("%w: empty result", provider.ErrWorkerUnavailable)
	case !res.Success:
		result = "rejected"
	}
	metrics.WorkerTransferDuration.WithLabelValues(uc.worker.Name(), result).Observe(elapsed.Seconds())
	sc.log.Info("settlement worker call returned",
		zap.String("worker", uc.worker.Name()),
		zap.String("result", result),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
	return res, err
}

func (uc *ExecutionUsecase) finalize(ctx context.Context, sc *execScope, res *provider.TransferResult) (Outcome, error) {
	now := uc.now()
	externalTx := res.ExternalTxID
	var (
		intent      *domain.PaymentIntent
		alreadyDone bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, sc.intentID)
		if err != nil {
			return err
		}
		intent = p
		if p.Status == domain.IntentCompleted {
			alreadyDone = true
			return nil
		}
		if p.Status != domain.IntentExecuting {
			return fmt.Errorf("%w: intent is %s after a successful transfer", domain.ErrReconciliationConflict, p.Status)
		}
		debit, err := tx.FindTransaction(ctx, p.Reference, domain.DirectionDebit, domain.TransactionPending)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no pending reservation after a successful transfer", domain.ErrReconciliationConflict)
		}
		if err != nil {
			return err
		}
		if err := settleDebit(ctx, uc.ledger, tx, sc.log, p, debit, &externalTx, now); err != nil {
			return err
		}
		p.ExternalTx = &externalTx
		if err := p.Transition(domain.IntentCompleted, now); err != nil {
			return err
		}
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		if errors.Is(err, domain.ErrReconciliationConflict) {
			consistencyViolation(sc.log, "finalize", intent, externalTx, err)
			return OutcomeFailed, fatal(err)
		}
		// The worker moved the funds. The intent stays executing so a
		// takeover after the lease repeats the idempotent call and retries this step.
		sc.log.Error("failed to record successful transfer",
			zap.String("external_tx", externalTx),
			zap.Error(err))
		return OutcomeFailed, retryable(err)
	}
	if alreadyDone {
		return OutcomeAlreadySettled, nil
	}

	sc.log.Info("intent settled", zap.String("external_tx", externalTx))
	uc.notify.intentChanged(ctx, domain.EventIntentCompleted, intent, now)
	return OutcomeSettled, nil
}

// rollback releases the reservation of an executing intent after a failed
// transfer and marks it failed.
func (uc *ExecutionUsecase) rollback(ctx context.Context, sc *execScope, cause error) (Outcome, error) {
	if !errors.Is(cause, domain.ErrWorkerTransferFailed) {
		cause = fmt.Errorf("%w: %w", domain.ErrWorkerTransferFailed, cause)
	}
	now := uc.now()
	var (
		intent     *domain.PaymentIntent
		rolledBack bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, sc.intentID)
		if err != nil {
			return err
		}
		intent = p
		if p.Status != domain.IntentExecuting {
			return nil
		}
		released, err := releaseReservation(ctx, uc.ledger, tx, p, now)
		if err != nil {
			return err
		}
		if !released {
			consistencyViolation(sc.log, "rollback", p, "", errors.New("executing intent had no pending reservation"))
		}
		if err := p.Fail(cause.Error(), now); err != nil {
			return err
		}
		rolledBack = true
		return tx.UpdateIntent(ctx, p)
	})
	if err != nil {
		sc.log.Error("rollback failed, reservation still held",
			zap.NamedError("cause", cause),
			zap.Error(err))
		return OutcomeFailed, retryable(errors.Join(cause, err))
	}
	if intent.Status == domain.IntentCompleted {
		return OutcomeAlreadySettled, nil
	}
	if rolledBack {
		sc.log.Warn("transfer failed, reservation released", zap.Error(cause))
		uc.notify.intentChanged(ctx, domain.EventIntentFailed, intent, now)
	}
	return OutcomeFailed, retryable(cause)
}

// OnPermanentFailure runs after the last attempt of a job failed. It makes
// sure the intent ends failed with its reservation released, then checks
// that no pending debit is left behind.
func (uc *ExecutionUsecase) OnPermanentFailure(ctx context.Context, intentID string, lastErr error) error {
	sc := uc.newScope(intentID)
	now := uc.now()

	if errors.Is(lastErr, domain.ErrExecutionInProgress) {
		// Another executor holds a live lease and will settle or fail it.
		sc.log.Warn("retries exhausted while another execution owns the intent", zap.Error(lastErr))
		return nil
	}

	var (
		intent  *domain.PaymentIntent
		changed bool
	)
	err := uc.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		intent = p
		switch p.Status {
		case domain.IntentCompleted, domain.IntentCancelled:
			return nil
		case domain.IntentFailed:
			if p.IsFailedPermanently() {
				return nil
			}
			released, err := releaseReservation(ctx, uc.ledger, tx, p, now)
			if err != nil {
				return err
			}
			if released {
				consistencyViolation(sc.log, "permanent_failure", p, "", errors.New("failed intent still held a reservation"))
				p.AddNote(SystemActor.UserID, "reservation_released", "reservation left on failed intent released", now)
			}
			if err := p.MarkFailedPermanently(now); err != nil {
				return err
			}
			return tx.UpdateIntent(ctx, p)
		default:
			if _, err := releaseReservation(ctx, uc.ledger, tx, p, now); err != nil {
				return err
			}
			if err := p.Fail(fmt.Sprintf("retries exhausted: %v", lastErr), now); err != nil {
				return err
			}
			if err := p.MarkFailedPermanently(now); err != nil {
				return err
			}
			p.AddNote(SystemActor.UserID, "force_failed", "execution retries exhausted", now)
			changed = true
			return tx.UpdateIntent(ctx, p)
		}
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		metrics.ConsistencyViolations.WithLabelValues("permanent_failure").Inc()
		sc.log.Error("permanent failure handling failed", zap.NamedError("last_error", lastErr), zap.Error(err))
		return err
	}
	if changed {
		sc.log.Error("intent force-failed after exhausting retries; verify the external transfer for this reference",
			zap.String("reference", intent.Reference),
			zap.NamedError("last_error", lastErr))
		uc.notify.intentChanged(ctx, domain.EventIntentFailed, intent, now)
	}

	return uc.assertSettledOrFailed(ctx, sc, intentID)
}

func (uc *ExecutionUsecase) assertSettledOrFailed(ctx context.Context, sc *execScope, intentID string) error {
	p, err := uc.store.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if p.Status != domain.IntentFailed && p.Status != domain.IntentCompleted && p.Status != domain.IntentCancelled {
		consistencyViolation(sc.log, "permanent_failure_assert", p, deref(p.ExternalTx), errors.New("intent not terminal after permanent failure"))
		return fmt.Errorf("%w: intent %s is %s after permanent failure", domain.ErrInvalidState, p.ID, p.Status)
	}
	if _, err := uc.store.FindTransaction(ctx, p.Reference, domain.DirectionDebit, domain.TransactionPending); err == nil {
		consistencyViolation(sc.log, "permanent_failure_assert", p, deref(p.ExternalTx), errors.New("pending debit remains"))
		return fmt.Errorf("%w: pending debit remains for %s", domain.ErrInvalidState, p.Reference)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// StuckIntents lists executing intents whose lease has expired.
func (uc *ExecutionUsecase) StuckIntents(ctx context.Context, limit int) ([]*domain.PaymentIntent, error) {
	return uc.store.ListExecutingBefore(ctx, uc.now().Add(-uc.cfg.Lease), limit)
}
