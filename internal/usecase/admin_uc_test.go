package usecase

import (
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCompletesExecutingIntent(t *testing.T) {
	f := newFixture(t)
	a := f.walletWith(alice, "AliceAddr", "1000")
	b := f.walletWith(bob, "BobAddr", "0")
	p := f.createReady(alice, "100", "BobAddr")
	f.simulateCrashAfterClaim(p.ID)

	_, err := f.admin.Reconcile(f.ctx, user(alice), p.ID, strPtr("manual-1"), nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.admin.Reconcile(f.ctx, adminActor, p.ID, strPtr("manual-1"), strPtr("confirmed on explorer"))
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCompleted, got.Status)
	require.NotNil(t, got.ExternalTx)
	assert.Equal(t, "manual-1", *got.ExternalTx)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "reconcile", got.Notes[0].Action)
	assert.Equal(t, adminActor.UserID, got.Notes[0].Actor)
	assert.Equal(t, "confirmed on explorer", got.Notes[0].Text)

	assert.True(t, f.balance(a.ID).Equal(amt("900")))
	assert.True(t, f.balance(b.ID).Equal(amt("100")))
	assert.Equal(t, 1, f.countEntries(p.Reference, domain.DirectionDebit, domain.TransactionCompleted))
	assert.Equal(t, 1, f.countEntries(p.Reference, domain.DirectionCredit, domain.TransactionCompleted))
	assert.Contains(t, f.publisher.types(), domain.EventIntentReconciled)

	// A second reconcile changes nothing.
	again, err := f.admin.Reconcile(f.ctx, adminActor, p.ID, strPtr("manual-2"), nil)
	require.NoError(t, err)
	assert.Equal(t, "manual-1", *again.ExternalTx)
	assert.Len(t, again.Notes, 1)
	assert.True(t, f.balance(b.ID).Equal(amt("100")))

	// The job still in the queue sees the settlement.
	outcome, err := f.exec.Execute(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySettled, outcome)
	assert.Equal(t, 0, f.worker.callCount())
}

func TestReconcileConflicts(t *testing.T) {
	t.Run("rolled back intent", func(t *testing.T) {
		f := newFixture(t)
		f.walletWith(alice, "AliceAddr", "1000")
		p := f.createReady(alice, "100", externalAddr)
		f.worker.then(reject)
		_, err := f.exec.Execute(f.ctx, p.ID)
		require.True(t, isRetryable(err))

		_, err = f.admin.Reconcile(f.ctx, adminActor, p.ID, strPtr("manual-1"), nil)
		assert.ErrorIs(t, err, domain.ErrReconciliationConflict)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, domain.IntentFailed, f.intent(p.ID).Status)
	})

	t.Run("intent not yet executing", func(t *testing.T) {
		f := newFixture(t)
		w := f.walletWith(alice, "AliceAddr", "1000")
		p := f.createReady(alice, "100", externalAddr)

		_, err := f.admin.Reconcile(f.ctx, adminActor, p.ID, nil, nil)
		assert.ErrorIs(t, err, domain.ErrReconciliationConflict)
		assert.Equal(t, domain.IntentReady, f.intent(p.ID).Status)
		assert.Equal(t, 1, f.countEntries(p.Reference, domain.DirectionDebit, domain.TransactionPending))
		assert.True(t, f.balance(w.ID).Equal(amt("900")))
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.admin.Reconcile(f.ctx, adminActor, "missing", nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	w := f.walletWith(alice, "AliceAddr", "1000")
	p := f.createReady(alice, "100", externalAddr)

	_, err := f.admin.Refund(f.ctx, adminActor, p.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.exec.Execute(f.ctx, p.ID)
	require.NoError(t, err)

	_, err = f.admin.Refund(f.ctx, user(alice), p.ID, nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.admin.Refund(f.ctx, adminActor, p.ID, strPtr("duplicate payment"))
	require.NoError(t, err)
	assert.True(t, got.IsRefunded())
	require.NotNil(t, got.RefundReason)
	assert.Equal(t, "duplicate payment", *got.RefundReason)
	assert.Equal(t, domain.IntentCompleted, got.Status)
	assert.True(t, f.balance(w.ID).Equal(amt("1000")))

	refunds := f.entries("refund-" + p.Reference)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.DirectionCredit, refunds[0].Direction)
	assert.Equal(t, domain.TransactionCompleted, refunds[0].Status)
	assert.Equal(t, w.ID, refunds[0].WalletID)
	assert.Contains(t, f.publisher.types(), domain.EventIntentRefunded)

	_, err = f.admin.Refund(f.ctx, adminActor, p.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.True(t, f.balance(w.ID).Equal(amt("1000")))
}

func TestListStuckIntents(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.createReady(alice, "100", externalAddr)
	f.simulateCrashAfterClaim(p.ID)

	_, err := f.admin.ListStuckIntents(f.ctx, user(alice), 0, 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	stuck, err := f.admin.ListStuckIntents(f.ctx, adminActor, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	stuck, err = f.admin.ListStuckIntents(f.ctx, adminActor, 30*time.Second, 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	f.clock.Advance(time.Minute)
	stuck, err = f.admin.ListStuckIntents(f.ctx, adminActor, 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, p.ID, stuck[0].ID)
}
