package handler

import (
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"aca_backend/internal/api/middleware"
	"aca_backend/internal/app/service"
	"aca_backend/internal/common"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

type SubmissionHandler struct {
	submissionService *service.SubmissionService
	maxUploadSize     int64
}

func NewSubmissionHandler(ss *service.SubmissionService, maxUploadSize int64) *SubmissionHandler {
	return &SubmissionHandler{submissionService: ss, maxUploadSize: maxUploadSize}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticator)
		r.Post("/submissions", h.createSubmission)
		r.Get("/submissions", h.listSubmissions)
		r.Get("/submissions/{id}", h.getSubmission)
		r.Get("/results/{submissionId}", h.listResults)
	})
}

func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			common.RespondWithError(w, http.StatusRequestEntityTooLarge,
				"File too large (limit "+humanize.Bytes(uint64(h.maxUploadSize))+")")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, multipart.ErrMessageTooLarge) {
			log.Printf("WARN: unreadable multipart upload: %v", err)
		}
		common.RespondWithError(w, http.StatusBadRequest, "Missing assignmentId or file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	rawAssignmentID := strings.TrimSpace(r.FormValue("assignmentId"))
	file, header, err := r.FormFile("file")
	if rawAssignmentID == "" || err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Missing assignmentId or file")
		return
	}
	defer file.Close()

	assignmentID, err := strconv.ParseInt(rawAssignmentID, 10, 64)
	if err != nil || assignmentID <= 0 {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid assignmentId")
		return
	}

	resp, err := h.submissionService.CreateSubmission(r.Context(), caller, service.CreateSubmissionInput{
		AssignmentID: assignmentID,
		FileName:     header.Filename,
		File:         file,
	})
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *SubmissionHandler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	var assignmentID int64
	if raw := r.URL.Query().Get("assignmentId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid assignmentId")
			return
		}
		assignmentID = id
	}

	subs, err := h.submissionService.ListSubmissions(r.Context(), caller, assignmentID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, subs)
}

func (h *SubmissionHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}

	detail, err := h.submissionService.GetSubmission(r.Context(), caller, id)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, detail)
}

func (h *SubmissionHandler) listResults(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "submissionId")
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}

	results, err := h.submissionService.ListResults(r.Context(), caller, id)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, results)
}
