package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrNotFound:               http.StatusNotFound,
		domain.ErrUnauthorized:           http.StatusForbidden,
		domain.ErrInvalidAmount:          http.StatusBadRequest,
		domain.ErrInvalidDestination:     http.StatusBadRequest,
		domain.ErrInvalidInput:           http.StatusBadRequest,
		domain.ErrInsufficientFunds:      http.StatusUnprocessableEntity,
		domain.ErrNoActiveWallet:         http.StatusUnprocessableEntity,
		domain.ErrCurrencyMismatch:       http.StatusUnprocessableEntity,
		domain.ErrWalletNotEmpty:         http.StatusUnprocessableEntity,
		domain.ErrInvalidState:           http.StatusConflict,
		domain.ErrReconciliationConflict: http.StatusConflict,
		errors.New("db exploded"):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}
