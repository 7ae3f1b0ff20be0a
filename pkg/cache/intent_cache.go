package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"settlement-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

const intentNamespace = "intent"

// IntentCache keeps JSON snapshots of payment intents for status reads.
// Writers invalidate after every committed change.
type IntentCache struct {
	cache *Cache
	ttl   time.Duration
}

func NewIntentCache(c *Cache, ttl time.Duration) *IntentCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &IntentCache{cache: c, ttl: ttl}
}

// Get returns domain.ErrNotFound on a miss.
func (c *IntentCache) Get(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	raw, err := c.cache.Get(ctx, intentNamespace, id)
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeIntent(raw)
}

func (c *IntentCache) Set(ctx context.Context, p *domain.PaymentIntent) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, intentNamespace, p.ID, payload, c.ttl)
}

func (c *IntentCache) Invalidate(ctx context.Context, id string) error {
	return c.cache.Delete(ctx, intentNamespace, id)
}

func decodeIntent(raw string) (*domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}
