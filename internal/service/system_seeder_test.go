package service

import (
	"context"
	"testing"

	"settlement-service/internal/domain"
	"settlement-service/internal/ledger"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"
	"settlement-service/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func findServiceWallet(t *testing.T, store repository.Store, kind domain.ServiceWalletKind) (*domain.Wallet, error) {
	t.Helper()
	var w *domain.Wallet
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		w, err = tx.FindServiceWallet(context.Background(), kind)
		return err
	})
	return w, err
}

func TestSeedSystem(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	l := ledger.New(store, utils.NewIDGenerator(), zap.NewNop())
	registry, err := domain.NewServiceWalletRegistry(map[domain.ServiceWalletKind]string{
		domain.ServiceWalletTreasury: "TreasuryAddr",
		domain.ServiceWalletFees:     "FeesAddr",
	})
	require.NoError(t, err)

	seeder := NewSystemSeeder(l, registry, "myxn", zap.NewNop())
	require.NoError(t, seeder.SeedSystem(ctx))
	// Second run finds the existing wallets.
	require.NoError(t, seeder.SeedSystem(ctx))

	treasury, err := findServiceWallet(t, store, domain.ServiceWalletTreasury)
	require.NoError(t, err)
	assert.Equal(t, "TreasuryAddr", treasury.Address)
	assert.Equal(t, "MYXN", treasury.Currency)
	assert.True(t, treasury.Balance.IsZero())

	_, err = findServiceWallet(t, store, domain.ServiceWalletFees)
	require.NoError(t, err)
	_, err = findServiceWallet(t, store, domain.ServiceWalletPresale)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSeedSystemAddressChanged(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	l := ledger.New(store, utils.NewIDGenerator(), zap.NewNop())

	first, err := domain.NewServiceWalletRegistry(map[domain.ServiceWalletKind]string{domain.ServiceWalletTreasury: "OldAddr"})
	require.NoError(t, err)
	require.NoError(t, NewSystemSeeder(l, first, "MYXN", zap.NewNop()).SeedSystem(ctx))

	moved, err := domain.NewServiceWalletRegistry(map[domain.ServiceWalletKind]string{domain.ServiceWalletTreasury: "NewAddr"})
	require.NoError(t, err)
	err = NewSystemSeeder(l, moved, "MYXN", zap.NewNop()).SeedSystem(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "treasury")
}
