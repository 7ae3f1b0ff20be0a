package domain

import "time"

type IntentEventType string

const (
	EventIntentCreated    IntentEventType = "intent.created"
	EventIntentReady      IntentEventType = "intent.ready"
	EventIntentExecuting  IntentEventType = "intent.executing"
	EventIntentCompleted  IntentEventType = "intent.completed"
	EventIntentFailed     IntentEventType = "intent.failed"
	EventIntentCancelled  IntentEventType = "intent.cancelled"
	EventIntentReconciled IntentEventType = "intent.reconciled"
	EventIntentRefunded   IntentEventType = "intent.refunded"
)

// IntentEvent is published on every intent state change.
type IntentEvent struct {
	Type       IntentEventType `json:"type"`
	IntentID   string          `json:"intent_id"`
	UserID     string          `json:"user_id"`
	Reference  string          `json:"reference"`
	Status     IntentStatus    `json:"status"`
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	ExternalTx string          `json:"external_tx,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewIntentEvent snapshots p into an event of type t.
func NewIntentEvent(t IntentEventType, p *PaymentIntent, now time.Time) *IntentEvent {
	ev := &IntentEvent{
		Type:      t,
		IntentID:  p.ID,
		UserID:    p.UserID,
		Reference: p.Reference,
		Status:    p.Status,
		Amount:    FormatAmount(p.Amount),
		Currency:  p.Currency,
		Timestamp: now,
	}
	if p.ExternalTx != nil {
		ev.ExternalTx = *p.ExternalTx
	}
	if p.FailureReason != nil {
		ev.Reason = *p.FailureReason
	}
	return ev
}
