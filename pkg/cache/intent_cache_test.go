package cache

import (
	"encoding/json"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "intent:abc", key(intentNamespace, "abc"))
}

func TestDecodeIntentKeepsAmountPrecision(t *testing.T) {
	ext := "tx-1"
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &domain.PaymentIntent{
		ID:             "i-1",
		Amount:         decimal.RequireFromString("0.000000001"),
		Currency:       "MYXN",
		Status:         domain.IntentExecuting,
		ExternalTx:     &ext,
		ExecutingSince: &since,
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	got, err := decodeIntent(string(raw))
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(p.Amount))
	assert.Equal(t, "tx-1", *got.ExternalTx)
	assert.True(t, got.ExecutingSince.Equal(since))

	_, err = decodeIntent("{}")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
