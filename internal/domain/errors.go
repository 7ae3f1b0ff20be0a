package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidState       = errors.New("invalid state")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoActiveWallet     = errors.New("no active wallet for currency")
	ErrCurrencyMismatch   = errors.New("currency mismatch")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrWalletDisabled     = errors.New("wallet is disabled")
	ErrWalletNotEmpty     = errors.New("wallet balance is not zero")
	ErrDuplicateReference = errors.New("duplicate ledger reference")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")

	// Execution errors
	ErrWorkerTransferFailed = errors.New("settlement worker transfer failed")
	ErrNonRetryableConfig   = errors.New("non-retryable configuration error")
	ErrExecutionInProgress  = errors.New("intent execution already in progress")

	// ErrReconciliationConflict matches ErrInvalidState under errors.Is.
	ErrReconciliationConflict = fmt.Errorf("%w: reconciliation conflict", ErrInvalidState)
)
