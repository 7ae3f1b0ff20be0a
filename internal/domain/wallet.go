package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// Wallet is a ledger account holding a single currency. Balance is only
// changed through the ledger's Debit and Credit.
type Wallet struct {
	ID          string             `json:"id"`
	OwnerID     *string            `json:"owner_id,omitempty"`
	ServiceKind *ServiceWalletKind `json:"service_kind,omitempty"`
	Address     string             `json:"address"`
	Currency    string             `json:"currency"`
	Balance     decimal.Decimal    `json:"balance"`
	Status      WalletStatus       `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	DeletedAt   *time.Time         `json:"deleted_at,omitempty"`
}

// IsActive reports whether the wallet can be used as a payment source.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive && w.DeletedAt == nil
}

// OwnedBy reports whether userID owns the wallet. Service wallets have no owner.
func (w *Wallet) OwnedBy(userID string) bool {
	return w.OwnerID != nil && *w.OwnerID == userID
}

// CanDebit reports whether the balance covers amount.
func (w *Wallet) CanDebit(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Clone returns a deep copy.
func (w *Wallet) Clone() *Wallet {
	c := *w
	if w.OwnerID != nil {
		v := *w.OwnerID
		c.OwnerID = &v
	}
	if w.ServiceKind != nil {
		v := *w.ServiceKind
		c.ServiceKind = &v
	}
	if w.DeletedAt != nil {
		v := *w.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}
