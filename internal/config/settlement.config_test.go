package config

import (
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DRIVER", DriverMemory)
	t.Setenv("QUEUE_DRIVER", DriverMemory)
	t.Setenv("SETTLEMENT_WORKER", WorkerSimulated)
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Minute, cfg.Worker.Lease)
	assert.Equal(t, 20*time.Second, cfg.SettlementWorker.Timeout)
	assert.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}, cfg.Worker.Backoff)
	assert.Equal(t, time.Minute, cfg.Worker.MonitorInterval)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Empty(t, cfg.ServiceWallets.Addresses)
}

func TestLoadServiceWalletsAndLists(t *testing.T) {
	validEnv(t)
	t.Setenv("SERVICE_WALLET_TREASURY", " TreasuryAddr ")
	t.Setenv("SERVICE_WALLET_FEES", "FeesAddr")
	t.Setenv("SERVICE_WALLET_CURRENCY", "myxn")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("EXECUTION_BACKOFF", "1s,2s")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, map[domain.ServiceWalletKind]string{
		domain.ServiceWalletTreasury: "TreasuryAddr",
		domain.ServiceWalletFees:     "FeesAddr",
	}, cfg.ServiceWallets.Addresses)
	assert.Equal(t, "MYXN", cfg.ServiceWallets.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Worker.Backoff)
}

func TestLoadRejectsMalformedBackoff(t *testing.T) {
	validEnv(t)
	t.Setenv("EXECUTION_BACKOFF", "5s,soon")

	_, err := Load(zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXECUTION_BACKOFF")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{
			name:   "lease shorter than transfer timeout",
			env:    map[string]string{"EXECUTION_LEASE": "10s", "SETTLEMENT_WORKER_TIMEOUT": "20s"},
			errMsg: "EXECUTION_LEASE",
		},
		{
			name:   "missing jwt secret",
			env:    map[string]string{"JWT_SECRET": ""},
			errMsg: "JWT_SECRET",
		},
		{
			name:   "unknown queue driver",
			env:    map[string]string{"QUEUE_DRIVER": "rabbit"},
			errMsg: "QUEUE_DRIVER",
		},
		{
			name:   "simulated worker in production",
			env:    map[string]string{"ENVIRONMENT": "production"},
			errMsg: "simulated",
		},
		{
			name:   "chainworker without credentials",
			env:    map[string]string{"SETTLEMENT_WORKER": WorkerChain},
			errMsg: "SETTLEMENT_WORKER_API_KEY",
		},
		{
			name:   "two kinds share an address",
			env:    map[string]string{"SERVICE_WALLET_TREASURY": "Same", "SERVICE_WALLET_FEES": "Same"},
			errMsg: "share address",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(zap.NewNop())
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: "5432", Name: "settlement", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/settlement?sslmode=disable", d.URL())
}
