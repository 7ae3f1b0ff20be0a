package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// CanTransitionTo enforces monotonic status changes: pending moves to
// completed or failed, and terminal statuses never change.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	return s == TransactionPending && (next == TransactionCompleted || next == TransactionFailed)
}

// Transaction is an append-only ledger entry. A debit and its paired
// credit share the same Reference.
type Transaction struct {
	ID                   string            `json:"id"`
	WalletID             string            `json:"wallet_id"`
	CounterpartyWalletID *string           `json:"counterparty_wallet_id,omitempty"`
	Amount               decimal.Decimal   `json:"amount"`
	Direction            Direction         `json:"direction"`
	Status               TransactionStatus `json:"status"`
	ExternalTx           *string           `json:"external_tx,omitempty"`
	Reference            string            `json:"reference"`
	Memo                 *string           `json:"memo,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.CounterpartyWalletID != nil {
		v := *t.CounterpartyWalletID
		c.CounterpartyWalletID = &v
	}
	if t.ExternalTx != nil {
		v := *t.ExternalTx
		c.ExternalTx = &v
	}
	if t.Memo != nil {
		v := *t.Memo
		c.Memo = &v
	}
	return &c
}

// TransactionInput carries the fields of a new ledger entry.
type TransactionInput struct {
	WalletID             string
	CounterpartyWalletID *string
	Amount               decimal.Decimal
	Direction            Direction
	Status               TransactionStatus
	ExternalTx           *string
	Reference            string
	Memo                 *string
}

// TransactionFilter narrows ledger listings. Nil fields are ignored.
type TransactionFilter struct {
	WalletID  *string
	Reference *string
	Direction *Direction
	Status    *TransactionStatus
	Limit     int
	Offset    int
}
