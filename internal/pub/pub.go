// Package pub fans out payment intent events over Redis pub/sub.
package pub

import (
	"context"
	"encoding/json"
	"fmt"

	"settlement-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const IntentEventsChannel = "intent_events"

// IntentEventPublisher publishes intent events to IntentEventsChannel and
// lets readers follow the events of one intent.
type IntentEventPublisher struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewIntentEventPublisher(rdb redis.UniversalClient, logger *zap.Logger) *IntentEventPublisher {
	return &IntentEventPublisher{rdb: rdb, logger: logger}
}

func (p *IntentEventPublisher) PublishIntentEvent(ctx context.Context, event *domain.IntentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, IntentEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("intent event published",
		zap.String("event", string(event.Type)),
		zap.String("intent_id", event.IntentID),
		zap.String("reference", event.Reference))
	return nil
}

// Subscribe streams the events of intentID until ctx is cancelled. The
// returned channel is closed when the subscription ends.
func (p *IntentEventPublisher) Subscribe(ctx context.Context, intentID string) (<-chan *domain.IntentEvent, error) {
	sub := p.rdb.Subscribe(ctx, IntentEventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *domain.IntentEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					p.logger.Warn("dropping malformed intent event", zap.Error(err))
					continue
				}
				if ev.IntentID != intentID {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeEvent(payload string) (*domain.IntentEvent, error) {
	var ev domain.IntentEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, err
	}
	if ev.IntentID == "" || ev.Type == "" {
		return nil, fmt.Errorf("event without intent id or type")
	}
	return &ev, nil
}
