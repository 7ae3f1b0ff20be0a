package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentTransitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &PaymentIntent{ID: "i1", Status: IntentCreated}

	require.NoError(t, p.Transition(IntentReady, now))
	require.NoError(t, p.Transition(IntentExecuting, now))
	assert.Equal(t, 1, p.Attempts)
	require.NotNil(t, p.ExecutingSince)

	require.NoError(t, p.Fail("boom", now))
	assert.Nil(t, p.ExecutingSince)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "boom", *p.FailureReason)

	require.NoError(t, p.Transition(IntentExecuting, now))
	assert.Equal(t, 2, p.Attempts)
	assert.Nil(t, p.FailureReason)

	require.NoError(t, p.Transition(IntentCompleted, now))
	require.NotNil(t, p.CompletedAt)

	err := p.Transition(IntentFailed, now)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFailedPermanentlyIsFinal(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &PaymentIntent{ID: "i1", Status: IntentReady}

	assert.ErrorIs(t, p.MarkFailedPermanently(now), ErrInvalidState)
	assert.False(t, p.IsFailedPermanently())

	require.NoError(t, p.Fail("gave up", now))
	require.NoError(t, p.MarkFailedPermanently(now))
	require.True(t, p.IsFailedPermanently())

	later := now.Add(time.Hour)
	require.NoError(t, p.MarkFailedPermanently(later))
	assert.Equal(t, now, *p.FailedPermanentlyAt)

	assert.ErrorIs(t, p.Transition(IntentExecuting, later), ErrInvalidState)
	assert.Equal(t, IntentFailed, p.Status)
	assert.Equal(t, 0, p.Attempts)

	c := p.Clone()
	require.NotNil(t, c.FailedPermanentlyAt)
	assert.NotSame(t, p.FailedPermanentlyAt, c.FailedPermanentlyAt)
}

func TestIntentCancelOnlyBeforeExecution(t *testing.T) {
	assert.True(t, IntentCreated.CanTransitionTo(IntentCancelled))
	assert.True(t, IntentReady.CanTransitionTo(IntentCancelled))
	assert.False(t, IntentExecuting.CanTransitionTo(IntentCancelled))
	assert.False(t, IntentCompleted.CanTransitionTo(IntentCancelled))
	assert.False(t, IntentCancelled.CanTransitionTo(IntentReady))
}

func TestLeaseExpired(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &PaymentIntent{Status: IntentExecuting, ExecutingSince: &start}

	assert.False(t, p.LeaseExpired(start.Add(time.Minute), 2*time.Minute))
	assert.True(t, p.LeaseExpired(start.Add(2*time.Minute), 2*time.Minute))

	p.Status = IntentReady
	assert.False(t, p.LeaseExpired(start.Add(time.Hour), 2*time.Minute))
}

func TestCloneIsDeep(t *testing.T) {
	memo := "hello"
	p := &PaymentIntent{ID: "i1", Memo: &memo, Notes: []IntentNote{{Action: "a"}}}
	c := p.Clone()
	*c.Memo = "changed"
	c.Notes[0].Action = "b"
	assert.Equal(t, "hello", *p.Memo)
	assert.Equal(t, "a", p.Notes[0].Action)
}
