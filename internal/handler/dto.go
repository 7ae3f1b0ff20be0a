package handler

import (
	"time"

	"settlement-service/internal/domain"
)

type intentResponse struct {
	ID             string              `json:"intent_id"`
	UserID         string              `json:"user_id"`
	WalletID       string              `json:"wallet_id"`
	Reference      string              `json:"reference"`
	Status         domain.IntentStatus `json:"status"`
	Amount         string              `json:"amount"`
	Currency       string              `json:"currency"`
	Destination    string              `json:"destination"`
	Memo           *string             `json:"memo,omitempty"`
	ExternalTx     *string             `json:"external_tx,omitempty"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	Attempts       int                 `json:"attempts"`
	ExecutingSince *time.Time          `json:"executing_since,omitempty"`
	Notes          []domain.IntentNote `json:"notes,omitempty"`
	RefundedAt     *time.Time          `json:"refunded_at,omitempty"`
	RefundReason   *string             `json:"refund_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

func toIntentResponse(p *domain.PaymentIntent) intentResponse {
	return intentResponse{
		ID:             p.ID,
		UserID:         p.UserID,
		WalletID:       p.WalletID,
		Reference:      p.Reference,
		Status:         p.Status,
		Amount:         domain.FormatAmount(p.Amount),
		Currency:       p.Currency,
		Destination:    p.Destination,
		Memo:           p.Memo,
		ExternalTx:     p.ExternalTx,
		FailureReason:  p.FailureReason,
		Attempts:       p.Attempts,
		ExecutingSince: p.ExecutingSince,
		Notes:          p.Notes,
		RefundedAt:     p.RefundedAt,
		RefundReason:   p.RefundReason,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		CompletedAt:    p.CompletedAt,
	}
}

func toIntentResponses(ps []*domain.PaymentIntent) []intentResponse {
	out := make([]intentResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toIntentResponse(p))
	}
	return out
}

type walletResponse struct {
	ID          string                    `json:"wallet_id"`
	OwnerID     *string                   `json:"owner_id,omitempty"`
	ServiceKind *domain.ServiceWalletKind `json:"service_kind,omitempty"`
	Address     string                    `json:"address"`
	Currency    string                    `json:"currency"`
	Balance     string                    `json:"balance"`
	Status      domain.WalletStatus       `json:"status"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

func toWalletResponse(w *domain.Wallet) walletResponse {
	return walletResponse{
		ID:          w.ID,
		OwnerID:     w.OwnerID,
		ServiceKind: w.ServiceKind,
		Address:     w.Address,
		Currency:    w.Currency,
		Balance:     domain.FormatAmount(w.Balance),
		Status:      w.Status,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

type transactionResponse struct {
	ID                   string                   `json:"transaction_id"`
	WalletID             string                   `json:"wallet_id"`
	CounterpartyWalletID *string                  `json:"counterparty_wallet_id,omitempty"`
	Amount               string                   `json:"amount"`
	Direction            domain.Direction         `json:"direction"`
	Status               domain.TransactionStatus `json:"status"`
	Reference            string                   `json:"reference"`
	ExternalTx           *string                  `json:"external_tx,omitempty"`
	Memo                 *string                  `json:"memo,omitempty"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

func toTransactionResponses(txs []*domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResponse{
			ID:                   t.ID,
			WalletID:             t.WalletID,
			CounterpartyWalletID: t.CounterpartyWalletID,
			Amount:               domain.FormatAmount(t.Amount),
			Direction:            t.Direction,
			Status:               t.Status,
			Reference:            t.Reference,
			ExternalTx:           t.ExternalTx,
			Memo:                 t.Memo,
			CreatedAt:            t.CreatedAt,
			UpdatedAt:            t.UpdatedAt,
		})
	}
	return out
}
