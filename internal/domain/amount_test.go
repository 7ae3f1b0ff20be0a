package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount(" 100.5 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("100.5")))

	d, err = ParseAmount("0.000000001")
	require.NoError(t, err)
	assert.Equal(t, "0.000000001", FormatAmount(d))
}

func TestParseAmountRejects(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-1", "0.0000000001", "1.1234567891"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, ErrInvalidAmount, raw)
	}
}

func TestParseAmountAcceptsTrailingZerosPastScale(t *testing.T) {
	d, err := ParseAmount("1.50000000000")
	require.NoError(t, err)
	assert.Equal(t, "1.500000000", FormatAmount(d))
}
