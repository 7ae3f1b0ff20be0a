package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"

	"github.com/shopspring/decimal"
)

// tx mutates a private copy of the store state. Row locks are implied by
// the store mutex held for the whole unit of work.
type tx struct {
	st *state
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) GetWalletForUpdate(ctx context.Context, id string) (*domain.Wallet, error) {
	return t.st.wallet(id)
}

func (t *tx) GetWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	for _, w := range t.st.wallets {
		if w.Address == address && w.DeletedAt == nil {
			return w.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *tx) FindActiveWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error) {
	var found []*domain.Wallet
	for _, w := range t.st.wallets {
		if w.OwnedBy(ownerID) && w.Currency == currency && w.IsActive() {
			found = append(found, w)
		}
	}
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].ID < found[j].ID
		}
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})
	return found[0].Clone(), nil
}

func (t *tx) FindServiceWallet(ctx context.Context, kind domain.ServiceWalletKind) (*domain.Wallet, error) {
	for _, w := range t.st.wallets {
		if w.ServiceKind != nil && *w.ServiceKind == kind && w.DeletedAt == nil {
			return w.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *tx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	if _, ok := t.st.wallets[w.ID]; ok {
		return fmt.Errorf("wallet %s: %w", w.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range t.st.wallets {
		if existing.Address == w.Address {
			return fmt.Errorf("wallet address %s: %w", w.Address, domain.ErrAlreadyExists)
		}
	}
	t.st.wallets[w.ID] = w.Clone()
	return nil
}

func (t *tx) UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error {
	w, ok := t.st.wallets[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.Balance = balance
	w.UpdatedAt = at
	return nil
}

func (t *tx) SoftDeleteWallet(ctx context.Context, id string, at time.Time) error {
	w, ok := t.st.wallets[id]
	if !ok || w.DeletedAt != nil {
		return domain.ErrNotFound
	}
	w.DeletedAt = &at
	w.UpdatedAt = at
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	if txn.Status == domain.TransactionCompleted {
		if _, err := t.st.findTransaction(txn.Reference, txn.Direction, domain.TransactionCompleted); err == nil {
			return fmt.Errorf("%s %s: %w", txn.Direction, txn.Reference, domain.ErrDuplicateReference)
		}
	}
	t.st.transactions = append(t.st.transactions, txn.Clone())
	return nil
}

func (t *tx) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus, externalTx *string, at time.Time) error {
	for _, txn := range t.st.transactions {
		if txn.ID != id {
			continue
		}
		if !txn.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidState, id, txn.Status)
		}
		if status == domain.TransactionCompleted {
			if _, err := t.st.findTransaction(txn.Reference, txn.Direction, domain.TransactionCompleted); err == nil {
				return fmt.Errorf("%s %s: %w", txn.Direction, txn.Reference, domain.ErrDuplicateReference)
			}
		}
		txn.Status = status
		if externalTx != nil {
			v := *externalTx
			txn.ExternalTx = &v
		}
		txn.UpdatedAt = at
		return nil
	}
	return domain.ErrNotFound
}

func (t *tx) FindTransaction(ctx context.Context, reference string, dir domain.Direction, status domain.TransactionStatus) (*domain.Transaction, error) {
	return t.st.findTransaction(reference, dir, status)
}

func (t *tx) HasPendingDebits(ctx context.Context, walletID string) (bool, error) {
	for _, txn := range t.st.transactions {
		if txn.WalletID == walletID && txn.Direction == domain.DirectionDebit && txn.Status == domain.TransactionPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertIntent(ctx context.Context, p *domain.PaymentIntent) error {
	if _, ok := t.st.intents[p.ID]; ok {
		return fmt.Errorf("intent %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range t.st.intents {
		if existing.Reference == p.Reference {
			return fmt.Errorf("intent reference %s: %w", p.Reference, domain.ErrAlreadyExists)
		}
	}
	t.st.intents[p.ID] = p.Clone()
	return nil
}

func (t *tx) GetIntentForUpdate(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return t.st.intent(id)
}

func (t *tx) UpdateIntent(ctx context.Context, p *domain.PaymentIntent) error {
	if _, ok := t.st.intents[p.ID]; !ok {
		return domain.ErrNotFound
	}
	t.st.intents[p.ID] = p.Clone()
	return nil
}
