// Package queue carries ExecuteIntent jobs from the intent manager to the
// execution workers with at-least-once delivery.
package queue

import (
	"context"
	"time"
)

// ExecuteIntent asks a worker to drive one intent to a terminal state.
type ExecuteIntent struct {
	IntentID   string    `json:"intent_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Source tells apart client requests from monitor re-enqueues.
	Source string `json:"source,omitempty"`
}

const (
	SourceClient  = "client"
	SourceMonitor = "monitor"
)

// Handler processes one message. A nil return acknowledges it; an error
// leaves it for redelivery.
type Handler func(ctx context.Context, msg ExecuteIntent) error

type Producer interface {
	Enqueue(ctx context.Context, msg ExecuteIntent) error
}

type Consumer interface {
	// Consume delivers messages to handler until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error
}

type Queue interface {
	Producer
	Consumer
	Close() error
}
