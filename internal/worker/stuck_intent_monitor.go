package worker

import (
	"context"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"
	"settlement-service/internal/queue"

	"go.uber.org/zap"
)

// StuckIntentFinder lists executing intents whose lease expired.
type StuckIntentFinder interface {
	StuckIntents(ctx context.Context, limit int) ([]*domain.PaymentIntent, error)
}

// StuckIntentMonitor re-enqueues intents abandoned mid-execution so a new
// job can take over their lease.
type StuckIntentMonitor struct {
	finder   StuckIntentFinder
	producer queue.Producer
	interval time.Duration
	batch    int
	logger   *zap.Logger
	stopChan chan bool
}

func NewStuckIntentMonitor(
	finder StuckIntentFinder,
	producer queue.Producer,
	interval time.Duration,
	batch int,
	logger *zap.Logger,
) *StuckIntentMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &StuckIntentMonitor{
		finder:   finder,
		producer: producer,
		interval: interval,
		batch:    batch,
		logger:   logger,
		stopChan: make(chan bool),
	}
}

// Start runs the monitor until Stop is called or ctx is cancelled.
func (m *StuckIntentMonitor) Start(ctx context.Context) {
	m.logger.Info("starting stuck intent monitor", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("failed to sweep stuck intents", zap.Error(err))
			}
		case <-m.stopChan:
			m.logger.Info("stopping stuck intent monitor")
			return
		case <-ctx.Done():
			m.logger.Info("context cancelled, stopping stuck intent monitor")
			return
		}
	}
}

func (m *StuckIntentMonitor) Stop() {
	close(m.stopChan)
}

// Sweep enqueues one batch of stuck intents and returns how many were sent.
func (m *StuckIntentMonitor) Sweep(ctx context.Context) (int, error) {
	stuck, err := m.finder.StuckIntents(ctx, m.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range stuck {
		err := m.producer.Enqueue(ctx, queue.ExecuteIntent{
			IntentID:   p.ID,
			EnqueuedAt: time.Now().UTC(),
			Source:     queue.SourceMonitor,
		})
		if err != nil {
			m.logger.Error("failed to re-enqueue stuck intent",
				zap.String("intent_id", p.ID),
				zap.String("reference", p.Reference),
				zap.Error(err))
			continue
		}
		sent++
		metrics.StuckIntentsRequeued.Inc()
		m.logger.Warn("re-enqueued stuck intent",
			zap.String("intent_id", p.ID),
			zap.String("reference", p.Reference),
			zap.Int("attempts", p.Attempts),
			zap.Timep("executing_since", p.ExecutingSince))
	}
	return sent, nil
}
