// Package ledger owns wallet balances. Every balance change goes through
// Debit or Credit inside a caller-provided transaction, next to the ledger
// entry that explains it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Ledger struct {
	store  repository.Store
	ids    *utils.IDGenerator
	logger *zap.Logger
	now    func() time.Time
}

func New(store repository.Store, ids *utils.IDGenerator, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		ids:    ids,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Debit locks the wallet, checks that it is active and covers amount, and
// decrements the balance.
func (l *Ledger) Debit(ctx context.Context, tx repository.Tx, walletID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := tx.GetWalletForUpdate(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrWalletDisabled, walletID)
	}
	if !w.CanDebit(amount) {
		return nil, fmt.Errorf("%w: wallet %s holds %s, needs %s", domain.ErrInsufficientFunds,
			walletID, domain.FormatAmount(w.Balance), domain.FormatAmount(amount))
	}
	now := l.now()
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = now
	if err := tx.UpdateWalletBalance(ctx, w.ID, w.Balance, now); err != nil {
		return nil, err
	}
	return w, nil
}

// Credit locks the wallet and increments the balance. Credits are accepted
// on disabled wallets so reversals always land.
func (l *Ledger) Credit(ctx context.Context, tx repository.Tx, walletID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := tx.GetWalletForUpdate(ctx, walletID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = now
	if err := tx.UpdateWalletBalance(ctx, w.ID, w.Balance, now); err != nil {
		return nil, err
	}
	return w, nil
}

// HasSufficientBalance is an unlocked, advisory check. Debit is the
// authoritative one.
func (l *Ledger) HasSufficientBalance(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	w, err := l.store.GetWallet(ctx, walletID)
	if err != nil {
		return false, err
	}
	return w.IsActive() && w.CanDebit(amount), nil
}

// RecordTransaction appends a ledger entry.
func (l *Ledger) RecordTransaction(ctx context.Context, tx repository.Tx, in domain.TransactionInput) (*domain.Transaction, error) {
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.Direction != domain.DirectionDebit && in.Direction != domain.DirectionCredit {
		return nil, fmt.Errorf("invalid direction %q", in.Direction)
	}
	if in.Reference == "" {
		return nil, errors.New("transaction reference is required")
	}
	status := in.Status
	if status == "" {
		status = domain.TransactionPending
	}
	now := l.now()
	t := &domain.Transaction{
		ID:                   l.ids.NewID(),
		WalletID:             in.WalletID,
		CounterpartyWalletID: in.CounterpartyWalletID,
		Amount:               in.Amount,
		Direction:            in.Direction,
		Status:               status,
		ExternalTx:           in.ExternalTx,
		Reference:            in.Reference,
		Memo:                 in.Memo,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// EnsureWallet returns the owner's active wallet for currency, creating an
// empty one at address when none exists.
func (l *Ledger) EnsureWallet(ctx context.Context, ownerID, currency, address string) (*domain.Wallet, error) {
	currency = domain.NormalizeCurrency(currency)
	if ownerID == "" || currency == "" || address == "" {
		return nil, errors.New("owner, currency and address are required")
	}

	var wallet *domain.Wallet
	err := l.store.WithTx(ctx, func(tx repository.Tx) error {
		w, err := tx.FindActiveWallet(ctx, ownerID, currency)
		if err == nil {
			wallet = w
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		wallet = l.newWallet(&ownerID, nil, currency, address)
		return tx.CreateWallet(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// EnsureServiceWallet makes sure a wallet exists for a service wallet
// kind. created reports whether this call inserted it.
func (l *Ledger) EnsureServiceWallet(ctx context.Context, kind domain.ServiceWalletKind, currency, address string) (wallet *domain.Wallet, created bool, err error) {
	currency = domain.NormalizeCurrency(currency)
	err = l.store.WithTx(ctx, func(tx repository.Tx) error {
		w, err := tx.FindServiceWallet(ctx, kind)
		if err == nil {
			if w.Address != address {
				return fmt.Errorf("service wallet %s is bound to %s, configured address is %s", kind, w.Address, address)
			}
			wallet = w
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		k := kind
		wallet = l.newWallet(nil, &k, currency, address)
		created = true
		return tx.CreateWallet(ctx, wallet)
	})
	if err != nil {
		return nil, false, err
	}
	return wallet, created, nil
}

// SoftDeleteWallet hides a wallet from lookups. Wallets holding funds,
// including funds reserved by pending payments, cannot be deleted.
func (l *Ledger) SoftDeleteWallet(ctx context.Context, walletID string) error {
	return l.store.WithTx(ctx, func(tx repository.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if !w.Balance.IsZero() {
			return fmt.Errorf("%w: wallet %s holds %s", domain.ErrWalletNotEmpty, walletID, domain.FormatAmount(w.Balance))
		}
		reserved, err := tx.HasPendingDebits(ctx, walletID)
		if err != nil {
			return err
		}
		if reserved {
			return fmt.Errorf("%w: wallet %s has funds reserved by pending payments", domain.ErrWalletNotEmpty, walletID)
		}
		if err := tx.SoftDeleteWallet(ctx, walletID, l.now()); err != nil {
			return err
		}
		l.logger.Info("wallet soft-deleted", zap.String("wallet_id", walletID))
		return nil
	})
}

func (l *Ledger) newWallet(owner *string, kind *domain.ServiceWalletKind, currency, address string) *domain.Wallet {
	now := l.now()
	return &domain.Wallet{
		ID:          l.ids.NewID(),
		OwnerID:     owner,
		ServiceKind: kind,
		Address:     address,
		Currency:    currency,
		Balance:     decimal.Zero,
		Status:      domain.WalletStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
