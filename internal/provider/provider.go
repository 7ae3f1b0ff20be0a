// internal/provider/provider.go
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrWorkerUnavailable marks transport failures and 5xx answers, where the
// worker may or may not have acted on the request.
var ErrWorkerUnavailable = errors.New("settlement worker unavailable")

// SettlementWorker moves funds on the settlement network. Implementations
// must be idempotent on Reference: repeating a request with the same
// reference never moves funds twice.
type SettlementWorker interface {
	// Name identifies the worker in logs and metrics.
	Name() string

	// Transfer asks the worker to move Amount of Mint from FromAddress to
	// ToAddress. A returned error means the outcome is unknown; a result
	// with Success=false is a definitive rejection.
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
}

type TransferRequest struct {
	Mint        string          `json:"mint"`
	Amount      decimal.Decimal `json:"amount"`
	FromAddress string          `json:"from"`
	ToAddress   string          `json:"to"`
	Reference   string          `json:"reference"`
}

type TransferResult struct {
	Success      bool   `json:"success"`
	ExternalTxID string `json:"external_tx_id,omitempty"`
	Error        string `json:"error,omitempty"`
}
