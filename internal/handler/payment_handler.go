package handler

import (
	"net/http"

	"settlement-service/internal/middleware"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	intents *usecase.IntentUsecase
	logger  *zap.Logger
}

func NewPaymentHandler(intents *usecase.IntentUsecase, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{intents: intents, logger: logger}
}

type createIntentRequest struct {
	WalletID    string          `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Destination string          `json:"destination"`
	Memo        *string         `json:"memo"`
}

type executeRequest struct {
	IntentID string `json:"intent_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CreateIntent handles POST /payments/create-intent.
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}

	intent, err := h.intents.CreateIntent(r.Context(), middleware.ActorFromContext(r.Context()), usecase.CreateIntentInput{
		WalletID:    req.WalletID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Destination: req.Destination,
		Memo:        req.Memo,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]interface{}{
		"intent_id": intent.ID,
		"reference": intent.Reference,
		"status":    intent.Status,
	})
}

// Execute handles POST /payments/execute.
func (h *PaymentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.IntentID == "" {
		badRequest(w, r, "intent_id is required")
		return
	}

	intent, err := h.intents.RequestExecution(r.Context(), middleware.ActorFromContext(r.Context()), req.IntentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]interface{}{
		"intent_id": intent.ID,
		"status":    intent.Status,
	})
}

func (h *PaymentHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	intent, err := h.intents.MarkReady(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponse(intent))
}

func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}
	}

	intent, err := h.intents.Cancel(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponse(intent))
}

func (h *PaymentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.intents.GetIntent(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponse(intent))
}

func (h *PaymentHandler) ListIntents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	intents, err := h.intents.ListIntents(r.Context(), middleware.ActorFromContext(r.Context()), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponses(intents))
}
