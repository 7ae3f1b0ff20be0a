package handler

import (
	"errors"
	"net/http"
	"strconv"

	"settlement-service/internal/domain"
	"settlement-service/pkg/response"

	"go.uber.org/zap"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidDestination):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrNoActiveWallet),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrWalletNotEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicateReference),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		response.Error(w, r, status, "internal error")
		return
	}
	response.Error(w, r, status, err.Error())
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	response.Error(w, r, http.StatusBadRequest, msg)
}

// pageParams reads limit and offset; the usecases clamp them.
func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
