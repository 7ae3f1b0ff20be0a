package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentReady     IntentStatus = "ready"
	IntentExecuting IntentStatus = "executing"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
	IntentCancelled IntentStatus = "cancelled"
)

// created/ready -> failed is only taken when execution hits a
// non-retryable error before the intent could be claimed.
var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentCreated:   {IntentReady, IntentCancelled, IntentFailed},
	IntentReady:     {IntentExecuting, IntentCancelled, IntentFailed},
	IntentExecuting: {IntentCompleted, IntentFailed},
	IntentFailed:    {IntentExecuting},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	for _, allowed := range intentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentCompleted || s == IntentCancelled
}

func ParseIntentStatus(s string) (IntentStatus, error) {
	switch st := IntentStatus(s); st {
	case IntentCreated, IntentReady, IntentExecuting, IntentCompleted, IntentFailed, IntentCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown intent status %q", s)
}

// IntentNote is an audit entry appended by admin actions and by the
// execution job when it force-fails an intent.
type IntentNote struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Text   string    `json:"text,omitempty"`
}

// PaymentIntent is a user's request to move funds from a wallet to a
// destination address. Funds are reserved when the intent is created.
type PaymentIntent struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	WalletID       string          `json:"wallet_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Destination    string          `json:"destination"`
	Memo           *string         `json:"memo,omitempty"`
	Status         IntentStatus    `json:"status"`
	Reference      string          `json:"reference"`
	ExternalTx     *string         `json:"external_tx,omitempty"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	Attempts       int             `json:"attempts"`
	ExecutingSince *time.Time      `json:"executing_since,omitempty"`
	Notes          []IntentNote    `json:"notes,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	RefundReason   *string         `json:"refund_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`

	// FailedPermanentlyAt is set once no further execution may revive a
	// failed intent.
	FailedPermanentlyAt *time.Time `json:"failed_permanently_at,omitempty"`
}

// Transition moves the intent to next, stamping the bookkeeping fields
// tied to the target state.
func (p *PaymentIntent) Transition(next IntentStatus, now time.Time) error {
	if p.IsFailedPermanently() {
		return fmt.Errorf("%w: intent %s failed permanently", ErrInvalidState, p.ID)
	}
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: intent %s cannot move from %s to %s", ErrInvalidState, p.ID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	switch next {
	case IntentExecuting:
		p.Attempts++
		p.ExecutingSince = &now
		p.FailureReason = nil
	case IntentCompleted:
		p.CompletedAt = &now
		p.ExecutingSince = nil
		p.FailureReason = nil
	case IntentFailed, IntentCancelled:
		p.ExecutingSince = nil
	}
	return nil
}

// Fail moves the intent to failed and records reason.
func (p *PaymentIntent) Fail(reason string, now time.Time) error {
	if err := p.Transition(IntentFailed, now); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

// LeaseExpired reports whether an executing intent has been held longer
// than lease, meaning its executor is presumed dead.
func (p *PaymentIntent) LeaseExpired(now time.Time, lease time.Duration) bool {
	if p.Status != IntentExecuting {
		return false
	}
	if p.ExecutingSince == nil {
		return true
	}
	return !p.ExecutingSince.Add(lease).After(now)
}

// RenewLease restarts the lease of an executing intent taken over from
// a dead executor.
func (p *PaymentIntent) RenewLease(now time.Time) {
	p.Attempts++
	p.ExecutingSince = &now
	p.UpdatedAt = now
}

// MarkFailedPermanently closes a failed intent for good. Later jobs for it
// are dropped instead of reserving and transferring again.
func (p *PaymentIntent) MarkFailedPermanently(now time.Time) error {
	if p.Status != IntentFailed {
		return fmt.Errorf("%w: intent %s is %s, not failed", ErrInvalidState, p.ID, p.Status)
	}
	if p.FailedPermanentlyAt == nil {
		p.FailedPermanentlyAt = &now
		p.UpdatedAt = now
	}
	return nil
}

func (p *PaymentIntent) IsFailedPermanently() bool {
	return p.FailedPermanentlyAt != nil
}

func (p *PaymentIntent) IsRefunded() bool {
	return p.RefundedAt != nil
}

func (p *PaymentIntent) AddNote(actor, action, text string, now time.Time) {
	p.Notes = append(p.Notes, IntentNote{At: now, Actor: actor, Action: action, Text: text})
	p.UpdatedAt = now
}

// Clone returns a deep copy.
func (p *PaymentIntent) Clone() *PaymentIntent {
	c := *p
	c.Memo = cloneString(p.Memo)
	c.ExternalTx = cloneString(p.ExternalTx)
	c.FailureReason = cloneString(p.FailureReason)
	c.RefundReason = cloneString(p.RefundReason)
	c.ExecutingSince = cloneTime(p.ExecutingSince)
	c.RefundedAt = cloneTime(p.RefundedAt)
	c.CompletedAt = cloneTime(p.CompletedAt)
	c.FailedPermanentlyAt = cloneTime(p.FailedPermanentlyAt)
	if p.Notes != nil {
		c.Notes = append([]IntentNote(nil), p.Notes...)
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
