package usecase

import (
	"context"

	"settlement-service/internal/domain"
)

const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Actor is the caller of a usecase operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// SystemActor is used by background workers.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

// EventPublisher fans out intent state changes.
type EventPublisher interface {
	PublishIntentEvent(ctx context.Context, event *domain.IntentEvent) error
}

// IntentCache is a read-through cache of intents keyed by id.
type IntentCache interface {
	Get(ctx context.Context, id string) (*domain.PaymentIntent, error)
	Set(ctx context.Context, intent *domain.PaymentIntent) error
	Invalidate(ctx context.Context, id string) error
}

type nopPublisher struct{}

func (nopPublisher) PublishIntentEvent(context.Context, *domain.IntentEvent) error { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*domain.PaymentIntent, error) { return nil, domain.ErrNotFound }
func (nopCache) Set(context.Context, *domain.PaymentIntent) error          { return nil }
func (nopCache) Invalidate(context.Context, string) error                  { return nil }
