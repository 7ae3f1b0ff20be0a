package handler

import (
	"net/http"

	"settlement-service/internal/middleware"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type WalletHandler struct {
	wallets *usecase.WalletUsecase
	logger  *zap.Logger
}

func NewWalletHandler(wallets *usecase.WalletUsecase, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger}
}

type openWalletRequest struct {
	Currency string `json:"currency"`
	Address  string `json:"address"`
}

func (h *WalletHandler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	var req openWalletRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	wallet, err := h.wallets.OpenWallet(r.Context(), middleware.ActorFromContext(r.Context()), req.Currency, req.Address)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, toWalletResponse(wallet))
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.GetWallet(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toWalletResponse(wallet))
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	txs, err := h.wallets.ListTransactions(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toTransactionResponses(txs))
}

func (h *WalletHandler) CloseWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.wallets.CloseWallet(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
