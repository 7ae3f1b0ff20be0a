package usecase

import (
	"context"
	"fmt"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/repository"

	"go.uber.org/zap"
)

// WalletUsecase exposes the ledger's read side and on-demand wallet
// creation.
type WalletUsecase struct {
	store  repository.Store
	ledger *ledger.Ledger
	logger *zap.Logger
}

func NewWalletUsecase(store repository.Store, l *ledger.Ledger, logger *zap.Logger) *WalletUsecase {
	return &WalletUsecase{store: store, ledger: l, logger: logger}
}

// OpenWallet returns the caller's wallet for currency, creating it at
// address when missing.
func (uc *WalletUsecase) OpenWallet(ctx context.Context, actor Actor, currency, address string) (*domain.Wallet, error) {
	if actor.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if domain.NormalizeCurrency(currency) == "" || address == "" {
		return nil, fmt.Errorf("%w: currency and address are required", domain.ErrInvalidInput)
	}
	w, err := uc.ledger.EnsureWallet(ctx, actor.UserID, currency, address)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("wallet opened",
		zap.String("wallet_id", w.ID),
		zap.String("user_id", actor.UserID),
		zap.String("currency", w.Currency))
	return w, nil
}

func (uc *WalletUsecase) GetWallet(ctx context.Context, actor Actor, walletID string) (*domain.Wallet, error) {
	w, err := uc.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !w.OwnedBy(actor.UserID) {
		return nil, domain.ErrUnauthorized
	}
	return w, nil
}

// ListTransactions returns the wallet's ledger entries, newest first.
func (uc *WalletUsecase) ListTransactions(ctx context.Context, actor Actor, walletID string, limit, offset int) ([]*domain.Transaction, error) {
	if _, err := uc.GetWallet(ctx, actor, walletID); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return uc.store.ListTransactions(ctx, domain.TransactionFilter{
		WalletID: &walletID,
		Limit:    limit,
		Offset:   offset,
	})
}

// CloseWallet soft-deletes an empty wallet that has no payments holding
// reserved funds.
func (uc *WalletUsecase) CloseWallet(ctx context.Context, actor Actor, walletID string) error {
	if _, err := uc.GetWallet(ctx, actor, walletID); err != nil {
		return err
	}
	return uc.ledger.SoftDeleteWallet(ctx, walletID)
}
