package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryQueueDeliversAll(t *testing.T) {
	q := NewMemoryQueue(16, 3, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	wg.Add(10)
	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, msg ExecuteIntent) error {
			mu.Lock()
			seen[msg.IntentID]++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, ExecuteIntent{IntentID: string(rune('a' + i)), EnqueuedAt: time.Now()}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)
}

func TestMemoryQueueRedeliversOnHandlerError(t *testing.T) {
	q := NewMemoryQueue(4, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(ctx context.Context, msg ExecuteIntent) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(ctx, ExecuteIntent{IntentID: "i1"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1, 1, zap.NewNop())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), ExecuteIntent{IntentID: "x"}), ErrQueueClosed)
}
