package service

import (
	"context"
	"fmt"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"

	"go.uber.org/zap"
)

// SystemSeeder makes sure every configured service wallet has a ledger
// wallet before the service accepts traffic.
type SystemSeeder struct {
	ledger   *ledger.Ledger
	registry *domain.ServiceWalletRegistry
	currency string
	logger   *zap.Logger
}

func NewSystemSeeder(l *ledger.Ledger, registry *domain.ServiceWalletRegistry, currency string, logger *zap.Logger) *SystemSeeder {
	return &SystemSeeder{
		ledger:   l,
		registry: registry,
		currency: currency,
		logger:   logger,
	}
}

// SeedSystem is idempotent. It fails when a stored service wallet is bound
// to a different address than the configured one.
func (s *SystemSeeder) SeedSystem(ctx context.Context) error {
	kinds := s.registry.Kinds()
	s.logger.Info("seeding service wallets", zap.Int("count", len(kinds)))

	created := 0
	for _, kind := range kinds {
		addr, _ := s.registry.Address(kind)
		wallet, isNew, err := s.ledger.EnsureServiceWallet(ctx, kind, s.currency, addr)
		if err != nil {
			return fmt.Errorf("seed service wallet %s: %w", kind, err)
		}
		if isNew {
			created++
			s.logger.Info("service wallet created",
				zap.String("kind", string(kind)),
				zap.String("wallet_id", wallet.ID),
				zap.String("address", addr),
				zap.String("currency", wallet.Currency))
		}
	}

	s.logger.Info("service wallet seeding completed", zap.Int("created", created))
	return nil
}
