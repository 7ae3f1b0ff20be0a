package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/provider"
	"settlement-service/internal/queue"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice        = "user-alice"
	bob          = "user-bob"
	currency     = "MYXN"
	externalAddr = "ExternalAddr111"
	treasuryAddr = "TreasuryAddr111"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeWorker answers transfers from a script and, like a real worker,
// returns the first success again for a repeated reference.
type fakeWorker struct {
	mu      sync.Mutex
	calls   []provider.TransferRequest
	script  []func(*provider.TransferRequest) (*provider.TransferResult, error)
	settled map[string]*provider.TransferResult

	// When set, Transfer signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{settled: make(map[string]*provider.TransferResult)}
}

func (w *fakeWorker) Name() string { return "fake" }

func (w *fakeWorker) Transfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	if w.entered != nil {
		w.entered <- struct{}{}
		select {
		case <-w.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, *req)
	if res, ok := w.settled[req.Reference]; ok {
		return res, nil
	}

	var step func(*provider.TransferRequest) (*provider.TransferResult, error)
	if len(w.script) > 0 {
		step = w.script[0]
		w.script = w.script[1:]
	} else {
		step = succeed
	}
	res, err := step(req)
	if err == nil && res.Success {
		w.settled[req.Reference] = res
	}
	return res, err
}

func (w *fakeWorker) then(steps ...func(*provider.TransferRequest) (*provider.TransferResult, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.script = append(w.script, steps...)
}

func (w *fakeWorker) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func succeed(req *provider.TransferRequest) (*provider.TransferResult, error) {
	return &provider.TransferResult{Success: true, ExternalTxID: "tx-" + req.Reference}, nil
}

func reject(req *provider.TransferRequest) (*provider.TransferResult, error) {
	return &provider.TransferResult{Success: false, Error: "rejected by network"}, nil
}

func unavailable(req *provider.TransferRequest) (*provider.TransferResult, error) {
	return nil, fmt.Errorf("%w: connection reset", provider.ErrWorkerUnavailable)
}

type recordingProducer struct {
	mu   sync.Mutex
	msgs []queue.ExecuteIntent
	err  error
}

func (p *recordingProducer) Enqueue(ctx context.Context, msg queue.ExecuteIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.IntentEvent
}

func (p *recordingPublisher) PublishIntentEvent(ctx context.Context, ev *domain.IntentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []domain.IntentEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.IntentEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	ledger    *ledger.Ledger
	clock     *testClock
	worker    *fakeWorker
	producer  *recordingProducer
	publisher *recordingPublisher
	intents   *IntentUsecase
	exec      *ExecutionUsecase
	admin     *AdminUsecase
	wallets   *WalletUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	ids := utils.NewIDGenerator()
	logger := zap.NewNop()
	l := ledger.New(store, ids, logger)
	registry, err := domain.NewServiceWalletRegistry(map[domain.ServiceWalletKind]string{
		domain.ServiceWalletTreasury: treasuryAddr,
	})
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		ledger:    l,
		clock:     &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		worker:    newFakeWorker(),
		producer:  &recordingProducer{},
		publisher: &recordingPublisher{},
	}
	f.intents = NewIntentUsecase(store, l, f.producer, registry, ids, f.publisher, nil, logger)
	f.exec = NewExecutionUsecase(store, l, f.worker, f.publisher, nil,
		ExecutionConfig{Lease: 2 * time.Minute, TransferTimeout: time.Second}, logger)
	f.admin = NewAdminUsecase(store, l, f.publisher, nil, 2*time.Minute, logger)
	f.wallets = NewWalletUsecase(store, l, logger)

	f.intents.now = f.clock.Now
	f.exec.now = f.clock.Now
	f.admin.now = f.clock.Now
	return f
}

func user(id string) Actor { return Actor{UserID: id, Role: RoleUser} }

var adminActor = Actor{UserID: "admin-1", Role: RoleAdmin}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// walletWith opens a wallet for owner and funds it with balance.
func (f *fixture) walletWith(owner, address, balance string) *domain.Wallet {
	f.t.Helper()
	w, err := f.ledger.EnsureWallet(f.ctx, owner, currency, address)
	require.NoError(f.t, err)
	if b := amt(balance); b.IsPositive() {
		err = f.store.WithTx(f.ctx, func(tx repository.Tx) error {
			_, err := f.ledger.Credit(f.ctx, tx, w.ID, b)
			return err
		})
		require.NoError(f.t, err)
	}
	return w
}

func (f *fixture) balance(walletID string) decimal.Decimal {
	f.t.Helper()
	w, err := f.store.GetWallet(f.ctx, walletID)
	require.NoError(f.t, err)
	return w.Balance
}

func (f *fixture) intent(id string) *domain.PaymentIntent {
	f.t.Helper()
	p, err := f.store.GetIntent(f.ctx, id)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) entries(reference string) []*domain.Transaction {
	f.t.Helper()
	txs, err := f.store.ListTransactions(f.ctx, domain.TransactionFilter{Reference: &reference})
	require.NoError(f.t, err)
	return txs
}

func (f *fixture) countEntries(reference string, dir domain.Direction, status domain.TransactionStatus) int {
	n := 0
	for _, t := range f.entries(reference) {
		if t.Direction == dir && t.Status == status {
			n++
		}
	}
	return n
}

func (f *fixture) create(owner, amount, destination string) *domain.PaymentIntent {
	f.t.Helper()
	p, err := f.intents.CreateIntent(f.ctx, user(owner), CreateIntentInput{
		Amount:      amt(amount),
		Currency:    currency,
		Destination: destination,
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) createReady(owner, amount, destination string) *domain.PaymentIntent {
	f.t.Helper()
	p := f.create(owner, amount, destination)
	_, err := f.intents.RequestExecution(f.ctx, user(owner), p.ID)
	require.NoError(f.t, err)
	return p
}

// simulateCrashAfterClaim leaves the intent executing with its funds
// reserved, as if the executor died before or after calling the worker.
func (f *fixture) simulateCrashAfterClaim(intentID string) {
	f.t.Helper()
	c, _, err := f.exec.claim(f.ctx, f.exec.newScope(intentID))
	require.NoError(f.t, err)
	require.NotNil(f.t, c)
}

func isRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}
