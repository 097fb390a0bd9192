package handler

import (
	"log"
	"net/http"

	"aca_backend/internal/app/service"
	"aca_backend/internal/common"

	"github.com/go-chi/chi/v5"
)

type WebhookHandler struct {
	webhookService *service.WebhookService
}

func NewWebhookHandler(ws *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: ws}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/runner/callback", h.handleRunnerCallback)
}

func (h *WebhookHandler) handleRunnerCallback(w http.ResponseWriter, r *http.Request) {
	if !h.webhookService.VerifyRunnerSecret(r.Header.Get(service.RunnerSecretHeader)) {
		log.Printf("WARN: runner callback from %s rejected: bad secret", r.RemoteAddr)
		common.RespondWithError(w, http.StatusUnauthorized, "Invalid runner secret")
		return
	}

	var payload service.RunnerCallback
	if err := decodeJSONBody(r, &payload); err != nil {
		log.Printf("WARN: runner callback: invalid payload: %v", err)
		common.RespondWithDomainError(w, err)
		return
	}

	outcome, err := h.webhookService.HandleRunnerCallback(r.Context(), payload)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, common.OKResponse{OK: true, Duplicate: outcome.Duplicate})
}
