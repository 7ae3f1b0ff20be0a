// Package memory is an in-process Store used by tests and by
// DB_DRIVER=memory for local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
)

// Store keeps all state behind one mutex. WithTx works on a copy of the
// state and swaps it in on commit, so a failed unit of work leaves no trace.
type Store struct {
	mu   sync.RWMutex
	data *state
}

type state struct {
	wallets      map[string]*domain.Wallet
	intents      map[string]*domain.PaymentIntent
	transactions []*domain.Transaction
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: &state{
		wallets: make(map[string]*domain.Wallet),
		intents: make(map[string]*domain.PaymentIntent),
	}}
}

func (s *state) clone() *state {
	c := &state{
		wallets:      make(map[string]*domain.Wallet, len(s.wallets)),
		intents:      make(map[string]*domain.PaymentIntent, len(s.intents)),
		transactions: make([]*domain.Transaction, len(s.transactions)),
	}
	for id, w := range s.wallets {
		c.wallets[id] = w.Clone()
	}
	for id, p := range s.intents {
		c.intents[id] = p.Clone()
	}
	for i, t := range s.transactions {
		c.transactions[i] = t.Clone()
	}
	return c
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.wallet(id)
}

func (s *Store) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.intent(id)
}

func (s *Store) ListIntentsByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PaymentIntent
	for _, p := range s.data.intents {
		if p.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (s *Store) ListExecutingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PaymentIntent
	for _, p := range s.data.intents {
		if p.Status != domain.IntentExecuting {
			continue
		}
		if p.ExecutingSince == nil || p.ExecutingSince.Before(cutoff) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return since(out[i]).Before(since(out[j]))
	})
	return page(out, limit, 0), nil
}

func (s *Store) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Transaction
	for i := len(s.data.transactions) - 1; i >= 0; i-- {
		t := s.data.transactions[i]
		if f.WalletID != nil && t.WalletID != *f.WalletID {
			continue
		}
		if f.Reference != nil && t.Reference != *f.Reference {
			continue
		}
		if f.Direction != nil && t.Direction != *f.Direction {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) FindTransaction(ctx context.Context, reference string, dir domain.Direction, status domain.TransactionStatus) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.findTransaction(reference, dir, status)
}

func (s *state) wallet(id string) (*domain.Wallet, error) {
	w, ok := s.wallets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return w.Clone(), nil
}

func (s *state) intent(id string) (*domain.PaymentIntent, error) {
	p, ok := s.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *state) findTransaction(reference string, dir domain.Direction, status domain.TransactionStatus) (*domain.Transaction, error) {
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.Reference == reference && t.Direction == dir && t.Status == status {
			return t.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func since(p *domain.PaymentIntent) time.Time {
	if p.ExecutingSince == nil {
		return time.Time{}
	}
	return *p.ExecutingSince
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
