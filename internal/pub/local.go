package pub

import (
	"context"
	"sync"

	"settlement-service/internal/domain"
)

// LocalBroker is the in-process stand-in for IntentEventPublisher used
// when Redis is not configured. Slow subscribers miss events rather than
// block publishers.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan *domain.IntentEvent]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan *domain.IntentEvent]struct{})}
}

func (b *LocalBroker) PublishIntentEvent(ctx context.Context, event *domain.IntentEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.IntentID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, intentID string) (<-chan *domain.IntentEvent, error) {
	ch := make(chan *domain.IntentEvent, 16)

	b.mu.Lock()
	if b.subs[intentID] == nil {
		b.subs[intentID] = make(map[chan *domain.IntentEvent]struct{})
	}
	b.subs[intentID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[intentID], ch)
		if len(b.subs[intentID]) == 0 {
			delete(b.subs, intentID)
		}
		close(ch)
	}()
	return ch, nil
}
