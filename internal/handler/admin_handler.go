package handler

import (
	"net/http"
	"time"

	"settlement-service/internal/middleware"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type AdminHandler struct {
	admin  *usecase.AdminUsecase
	logger *zap.Logger
}

func NewAdminHandler(admin *usecase.AdminUsecase, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

type reconcileRequest struct {
	ExternalTx *string `json:"external_tx"`
	Notes      *string `json:"notes"`
}

type refundRequest struct {
	Reason *string `json:"reason"`
}

// Reconcile handles POST /admin/payments/{id}/reconcile.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}
	}

	intent, err := h.admin.Reconcile(r.Context(), middleware.ActorFromContext(r.Context()),
		chi.URLParam(r, "id"), req.ExternalTx, req.Notes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponse(intent))
}

// Refund handles POST /admin/payments/{id}/refund.
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}
	}

	intent, err := h.admin.Refund(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponse(intent))
}

// ListStuck handles GET /admin/payments/stuck?older_than=5m&limit=50.
func (h *AdminHandler) ListStuck(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			badRequest(w, r, "older_than must be a duration such as 5m")
			return
		}
		olderThan = d
	}
	limit, _ := pageParams(r)

	intents, err := h.admin.ListStuckIntents(r.Context(), middleware.ActorFromContext(r.Context()), olderThan, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toIntentResponses(intents))
}
