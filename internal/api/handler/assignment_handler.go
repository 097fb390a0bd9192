package handler

import (
	"net/http"

	"aca_backend/internal/api/middleware"
	"aca_backend/internal/app/service"
	"aca_backend/internal/common"

	"github.com/go-chi/chi/v5"
)

type AssignmentHandler struct {
	assignmentService *service.AssignmentService
}

func NewAssignmentHandler(as *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignmentService: as}
}

func (h *AssignmentHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticator)
		r.Get("/assignments", h.listAssignments)
		r.Get("/assignments/{id}", h.getAssignment)
	})
}

func (h *AssignmentHandler) listAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.assignmentService.ListAssignments(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, assignments)
}

func (h *AssignmentHandler) getAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	assignment, err := h.assignmentService.GetAssignment(r.Context(), id)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, assignment)
}
