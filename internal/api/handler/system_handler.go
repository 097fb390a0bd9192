package handler

import (
	"net/http"

	"aca_backend/internal/common"

	"github.com/go-chi/chi/v5"
)

const (
	ServiceName    = "ACA Backend API"
	ServiceVersion = "0.1.0"
)

type ServiceDescriptor struct {
	Service   string            `json:"service"`
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

type SystemHandler struct{}

func NewSystemHandler() *SystemHandler {
	return &SystemHandler{}
}

func (h *SystemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.describe)
	r.Get("/health", h.health)
}

func (h *SystemHandler) describe(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, ServiceDescriptor{
		Service: ServiceName,
		Status:  "running",
		Version: ServiceVersion,
		Endpoints: map[string]string{
			"auth":        "/auth/register, /auth/login",
			"assignments": "/assignments",
			"submissions": "/submissions",
			"results":     "/results/{submissionId}",
			"runner":      "/runner/callback",
			"analytics":   "/analytics, /export/results",
		},
	})
}

func (h *SystemHandler) health(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, HealthResponse{OK: true, Service: "backend"})
}
