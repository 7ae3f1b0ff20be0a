package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is an in-process Queue backed by a buffered channel. A
// message whose handler fails is put back at the end of the queue.
type MemoryQueue struct {
	ch          chan ExecuteIntent
	concurrency int
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(buffer, concurrency int, logger *zap.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MemoryQueue{
		ch:          make(chan ExecuteIntent, buffer),
		concurrency: concurrency,
		logger:      logger,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg ExecuteIntent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-q.ch:
					if !ok {
						return
					}
					if err := handler(ctx, msg); err != nil {
						q.logger.Warn("execute intent handler failed, requeueing",
							zap.String("intent_id", msg.IntentID),
							zap.Error(err))
						if ctx.Err() != nil {
							return
						}
						if err := q.requeue(msg); err != nil {
							q.logger.Error("requeue failed, message dropped",
								zap.String("intent_id", msg.IntentID),
								zap.Error(err))
						}
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) requeue(msg ExecuteIntent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return errors.New("queue full")
	}
}

// Len reports the number of buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
