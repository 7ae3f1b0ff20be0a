package usecase

import (
	"errors"
	"testing"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntentReservesFunds(t *testing.T) {
	f := newFixture(t)
	w := f.walletWith(alice, "AliceAddr", "1000")

	p := f.create(alice, "100", externalAddr)

	assert.Equal(t, domain.IntentCreated, p.Status)
	assert.Equal(t, w.ID, p.WalletID)
	assert.Regexp(t, `^pi_[0-9A-Z]{26}$`, p.Reference)
	assert.True(t, f.balance(w.ID).Equal(amt("900")))

	entries := f.entries(p.Reference)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.DirectionDebit, entries[0].Direction)
	assert.Equal(t, domain.TransactionPending, entries[0].Status)
	assert.True(t, entries[0].Amount.Equal(amt("100")))
	assert.Contains(t, f.publisher.types(), domain.EventIntentCreated)
}

func TestCreateIntentInsufficientFundsWritesNothing(t *testing.T) {
	f := newFixture(t)
	w := f.walletWith(alice, "AliceAddr", "50")

	_, err := f.intents.CreateIntent(f.ctx, user(alice), CreateIntentInput{
		Amount: amt("100"), Currency: currency, Destination: externalAddr,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, f.balance(w.ID).Equal(amt("50")))
	intents, err := f.intents.ListIntents(f.ctx, user(alice), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, intents)
	txs, err := f.wallets.ListTransactions(f.ctx, user(alice), w.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCreateIntentValidation(t *testing.T) {
	f := newFixture(t)
	w := f.walletWith(alice, "AliceAddr", "1000")
	f.walletWith(bob, "BobAddr", "10")

	cases := []struct {
		name  string
		actor Actor
		in    CreateIntentInput
		want  error
	}{
		{"no wallet for currency", user(alice), CreateIntentInput{Amount: amt("1"), Currency: "USDC", Destination: externalAddr}, domain.ErrNoActiveWallet},
		{"zero amount", user(alice), CreateIntentInput{Amount: amt("0"), Currency: currency, Destination: externalAddr}, domain.ErrInvalidAmount},
		{"too many decimals", user(alice), CreateIntentInput{Amount: amt("0.0000000001"), Currency: currency, Destination: externalAddr}, domain.ErrInvalidAmount},
		{"empty destination", user(alice), CreateIntentInput{Amount: amt("1"), Currency: currency}, domain.ErrInvalidDestination},
		{"unknown service wallet", user(alice), CreateIntentInput{Amount: amt("1"), Currency: currency, Destination: "service:fees"}, domain.ErrInvalidDestination},
		{"self transfer", user(alice), CreateIntentInput{Amount: amt("1"), Currency: currency, Destination: "AliceAddr"}, domain.ErrInvalidDestination},
		{"foreign wallet", user(bob), CreateIntentInput{WalletID: w.ID, Amount: amt("1"), Currency: currency, Destination: externalAddr}, domain.ErrUnauthorized},
		{"anonymous", Actor{}, CreateIntentInput{Amount: amt("1"), Currency: currency, Destination: externalAddr}, domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.intents.CreateIntent(f.ctx, tc.actor, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.True(t, f.balance(w.ID).Equal(amt("1000")))
}

func TestCreateIntentCurrencyMismatchOnExplicitWallet(t *testing.T) {
	f := newFixture(t)
	w := f.walletWith(alice, "AliceAddr", "1000")

	_, err := f.intents.CreateIntent(f.ctx, user(alice), CreateIntentInput{
		WalletID: w.ID, Amount: amt("1"), Currency: "USDC", Destination: externalAddr,
	})
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestCreateIntentResolvesServiceDestination(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")

	p := f.create(alice, "10", "service:treasury")
	assert.Equal(t, treasuryAddr, p.Destination)
}

func TestMarkReady(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.create(alice, "10", externalAddr)

	_, err := f.intents.MarkReady(f.ctx, user(bob), p.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.intents.MarkReady(f.ctx, user(alice), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentReady, got.Status)

	_, err = f.intents.MarkReady(f.ctx, user(alice), p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRequestExecution(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.create(alice, "10", externalAddr)

	_, err := f.intents.RequestExecution(f.ctx, user(bob), p.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.intents.RequestExecution(f.ctx, user(alice), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentReady, got.Status)
	assert.Equal(t, 1, f.producer.count())

	// Repeating a request for a ready intent enqueues again; the job is idempotent.
	_, err = f.intents.RequestExecution(f.ctx, user(alice), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.producer.count())

	outcome, err := f.exec.Execute(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, outcome)

	got, err = f.intents.RequestExecution(f.ctx, user(alice), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCompleted, got.Status)
	assert.Equal(t, 2, f.producer.count())
}

func TestRequestExecutionRejectsCancelled(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.create(alice, "10", externalAddr)
	_, err := f.intents.Cancel(f.ctx, user(alice), p.ID, "")
	require.NoError(t, err)

	_, err = f.intents.RequestExecution(f.ctx, user(alice), p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 0, f.producer.count())
}

func TestRequestExecutionEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.create(alice, "10", externalAddr)
	f.producer.err = errors.New("broker down")

	_, err := f.intents.RequestExecution(f.ctx, user(alice), p.ID)
	require.Error(t, err)
	assert.Equal(t, domain.IntentReady, f.intent(p.ID).Status)

	f.producer.err = nil
	_, err = f.intents.RequestExecution(f.ctx, user(alice), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.producer.count())
}

func TestCancelReleasesReservation(t *testing.T) {
	f := newFixture(t)
	w := f.walletWith(alice, "AliceAddr", "1000")
	p := f.createReady(alice, "100", externalAddr)
	require.True(t, f.balance(w.ID).Equal(amt("900")))

	_, err := f.intents.Cancel(f.ctx, user(bob), p.ID, "not mine")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.intents.Cancel(f.ctx, user(alice), p.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCancelled, got.Status)
	assert.True(t, f.balance(w.ID).Equal(amt("1000")))
	assert.Equal(t, 1, f.countEntries(p.Reference, domain.DirectionDebit, domain.TransactionFailed))
	assert.Equal(t, 0, f.countEntries(p.Reference, domain.DirectionDebit, domain.TransactionPending))

	// The queued job finds nothing to do.
	outcome, err := f.exec.Execute(f.ctx, p.ID)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 0, f.worker.callCount())

	_, err = f.intents.Cancel(f.ctx, user(alice), p.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelRejectedOnceExecuting(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.createReady(alice, "100", externalAddr)
	f.simulateCrashAfterClaim(p.ID)

	_, err := f.intents.Cancel(f.ctx, user(alice), p.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGetIntentAuthorization(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	p := f.create(alice, "10", externalAddr)

	got, err := f.intents.GetIntent(f.ctx, user(alice), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Reference, got.Reference)

	_, err = f.intents.GetIntent(f.ctx, user(bob), p.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.intents.GetIntent(f.ctx, adminActor, p.ID)
	assert.NoError(t, err)

	_, err = f.intents.GetIntent(f.ctx, user(alice), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListIntentsNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.walletWith(alice, "AliceAddr", "1000")
	first := f.create(alice, "1", externalAddr)
	f.clock.Advance(1)
	second := f.create(alice, "2", externalAddr)

	list, err := f.intents.ListIntents(f.ctx, user(alice), 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	list, err = f.intents.ListIntents(f.ctx, user(bob), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
