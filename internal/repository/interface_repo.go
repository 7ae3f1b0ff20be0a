package repository

import (
	"context"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the settlement engine. Every
// mutation runs inside WithTx; reads outside a transaction take no locks.
type Store interface {
	Reader

	// WithTx runs fn in one database transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader holds the unlocked queries available outside a transaction.
type Reader interface {
	GetWallet(ctx context.Context, id string) (*domain.Wallet, error)
	GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	ListIntentsByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.PaymentIntent, error)
	// ListExecutingBefore returns executing intents whose lease started
	// before cutoff, oldest first.
	ListExecutingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentIntent, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)
	// FindTransaction returns the newest entry matching reference,
	// direction and status, or domain.ErrNotFound.
	FindTransaction(ctx context.Context, reference string, dir domain.Direction, status domain.TransactionStatus) (*domain.Transaction, error)
}

// Tx is a unit of work. Methods suffixed ForUpdate lock the row until
// the transaction ends.
type Tx interface {
	WalletRepository
	TransactionRepository
	IntentRepository
}

type WalletRepository interface {
	GetWalletForUpdate(ctx context.Context, id string) (*domain.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	// FindActiveWallet returns the owner's active, non-deleted wallet for
	// currency, or domain.ErrNotFound.
	FindActiveWallet(ctx context.Context, ownerID, currency string) (*domain.Wallet, error)
	FindServiceWallet(ctx context.Context, kind domain.ServiceWalletKind) (*domain.Wallet, error)
	CreateWallet(ctx context.Context, w *domain.Wallet) error
	UpdateWalletBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error
	SoftDeleteWallet(ctx context.Context, id string, at time.Time) error
}

type TransactionRepository interface {
	// InsertTransaction fails with domain.ErrDuplicateReference when a
	// completed entry with the same reference and direction exists.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus, externalTx *string, at time.Time) error
	FindTransaction(ctx context.Context, reference string, dir domain.Direction, status domain.TransactionStatus) (*domain.Transaction, error)
	// HasPendingDebits reports whether funds of the wallet are still
	// reserved by a pending debit.
	HasPendingDebits(ctx context.Context, walletID string) (bool, error)
}

type IntentRepository interface {
	InsertIntent(ctx context.Context, p *domain.PaymentIntent) error
	GetIntentForUpdate(ctx context.Context, id string) (*domain.PaymentIntent, error)
	UpdateIntent(ctx context.Context, p *domain.PaymentIntent) error
}
