package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFinder struct {
	intents []*domain.PaymentIntent
	err     error
	limit   int
}

func (f *stubFinder) StuckIntents(ctx context.Context, limit int) ([]*domain.PaymentIntent, error) {
	f.limit = limit
	return f.intents, f.err
}

type flakyProducer struct {
	mu     sync.Mutex
	failOn string
	sent   []queue.ExecuteIntent
}

func (p *flakyProducer) Enqueue(ctx context.Context, msg queue.ExecuteIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.IntentID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *flakyProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestSweepReenqueuesStuckIntents(t *testing.T) {
	since := time.Now().Add(-10 * time.Minute)
	finder := &stubFinder{intents: []*domain.PaymentIntent{
		{ID: "pi-1", Reference: "pi_1", Status: domain.IntentExecuting, ExecutingSince: &since},
		{ID: "pi-2", Reference: "pi_2", Status: domain.IntentExecuting, ExecutingSince: &since},
		{ID: "pi-3", Reference: "pi_3", Status: domain.IntentExecuting, ExecutingSince: &since},
	}}
	producer := &flakyProducer{failOn: "pi-2"}
	m := NewStuckIntentMonitor(finder, producer, time.Minute, 25, zap.NewNop())

	sent, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 25, finder.limit)

	require.Len(t, producer.sent, 2)
	assert.Equal(t, "pi-1", producer.sent[0].IntentID)
	assert.Equal(t, "pi-3", producer.sent[1].IntentID)
	for _, msg := range producer.sent {
		assert.Equal(t, queue.SourceMonitor, msg.Source)
	}
}

func TestSweepReportsFinderError(t *testing.T) {
	m := NewStuckIntentMonitor(&stubFinder{err: errors.New("db down")}, &flakyProducer{}, 0, 0, zap.NewNop())

	sent, err := m.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, sent)
}

func TestMonitorTicksUntilStopped(t *testing.T) {
	finder := &stubFinder{intents: []*domain.PaymentIntent{{ID: "pi-1", Status: domain.IntentExecuting}}}
	producer := &flakyProducer{}
	m := NewStuckIntentMonitor(finder, producer, 10*time.Millisecond, 10, zap.NewNop())

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return producer.count() >= 2 }, time.Second, 5*time.Millisecond)
	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
