package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"aca_backend/internal/api/middleware"
	"aca_backend/internal/app/service"
	"aca_backend/internal/common"

	"github.com/go-chi/chi/v5"
)

type AnalyticsHandler struct {
	analyticsService *service.AnalyticsService
}

func NewAnalyticsHandler(as *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: as}
}

func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticator)
		r.Use(middleware.TeacherOnly)
		r.Get("/analytics", h.getAnalytics)
		r.Get("/export/results", h.exportResults)
	})
}

func (h *AnalyticsHandler) getAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.analyticsService.GetAnalytics(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, analytics)
}

func (h *AnalyticsHandler) exportResults(w http.ResponseWriter, r *http.Request) {
	// Buffered so a failure halfway still produces a JSON error.
	var buf bytes.Buffer
	if err := h.analyticsService.ExportResults(r.Context(), &buf); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}

	filename := fmt.Sprintf("results-%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
