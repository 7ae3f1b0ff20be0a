package worker

import (
	"context"
	"time"

	"settlement-service/internal/metrics"
	"settlement-service/internal/queue"
	"settlement-service/internal/usecase"

	"go.uber.org/zap"
)

// Executor runs the settlement protocol for one intent.
type Executor interface {
	Execute(ctx context.Context, intentID string) (usecase.Outcome, error)
	OnPermanentFailure(ctx context.Context, intentID string, lastErr error) error
}

// DefaultBackoff gives four attempts per job.
var DefaultBackoff = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}

// Dispatcher consumes ExecuteIntent jobs and retries retryable failures
// with backoff. Fatal results are acknowledged; exhausted jobs go through
// the executor's permanent failure hook.
type Dispatcher struct {
	consumer queue.Consumer
	exec     Executor
	backoff  []time.Duration
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(consumer queue.Consumer, exec Executor, backoff []time.Duration, logger *zap.Logger) *Dispatcher {
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	return &Dispatcher{
		consumer: consumer,
		exec:     exec,
		backoff:  backoff,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Start blocks until ctx is cancelled or the consumer fails.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting execution dispatcher", zap.Int("max_attempts", len(d.backoff)+1))
	err := d.consumer.Consume(ctx, d.Handle)
	if ctx.Err() != nil {
		d.logger.Info("execution dispatcher stopped")
		return nil
	}
	return err
}

// Handle runs one job to completion. A non-nil return leaves the message
// unacknowledged.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.ExecuteIntent) error {
	log := d.logger.With(zap.String("intent_id", msg.IntentID), zap.String("source", msg.Source))

	var lastErr error
	for attempt := 0; ; attempt++ {
		outcome, err := d.exec.Execute(ctx, msg.IntentID)
		if err == nil {
			log.Debug("job done", zap.String("outcome", string(outcome)), zap.Int("attempt", attempt+1))
			return nil
		}
		if usecase.IsFatal(err) {
			log.Warn("job dropped after fatal error",
				zap.String("outcome", string(outcome)),
				zap.Error(err))
			return nil
		}
		lastErr = err
		if attempt >= len(d.backoff) {
			break
		}

		delay := d.backoff[attempt]
		metrics.JobRetries.Inc()
		log.Info("retrying job",
			zap.String("outcome", string(outcome)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
	}

	metrics.JobsExhausted.Inc()
	log.Error("job exhausted its attempts", zap.Int("attempts", len(d.backoff)+1), zap.Error(lastErr))
	if err := d.exec.OnPermanentFailure(ctx, msg.IntentID, lastErr); err != nil {
		log.Error("permanent failure hook failed", zap.Error(err))
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
