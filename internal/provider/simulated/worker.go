// Package simulated is a settlement worker for local runs without a chain
// worker. Every transfer succeeds and repeats of a reference return the
// first answer.
package simulated

import (
	"context"
	"sync"

	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

type Worker struct {
	mu      sync.Mutex
	settled map[string]*provider.TransferResult
	logger  *zap.Logger
}

var _ provider.SettlementWorker = (*Worker)(nil)

func NewWorker(logger *zap.Logger) *Worker {
	return &Worker{settled: make(map[string]*provider.TransferResult), logger: logger}
}

func (w *Worker) Name() string { return "simulated" }

func (w *Worker) Transfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if res, ok := w.settled[req.Reference]; ok {
		return res, nil
	}
	res := &provider.TransferResult{Success: true, ExternalTxID: "sim-" + req.Reference}
	w.settled[req.Reference] = res
	w.logger.Info("simulated transfer",
		zap.String("reference", req.Reference),
		zap.String("from", req.FromAddress),
		zap.String("to", req.ToAddress),
		zap.String("amount", req.Amount.String()))
	return res, nil
}
