package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/storage"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

type SubmissionService struct {
	submissionRepo  repository.SubmissionRepository
	resultRepo      repository.ResultRepository
	assignmentRepo  repository.AssignmentRepository
	dispatchRepo    repository.DispatchRepository
	artifacts       storage.ArtifactStore
	dispatchService *DispatchService
	now             func() time.Time
}

func NewSubmissionService(
	store repository.Store,
	artifacts storage.ArtifactStore,
	dispatchService *DispatchService,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo:  store,
		resultRepo:      store,
		assignmentRepo:  store,
		dispatchRepo:    store,
		artifacts:       artifacts,
		dispatchService: dispatchService,
		now:             time.Now,
	}
}

type CreateSubmissionInput struct {
	AssignmentID int64
	FileName     string
	File         io.Reader
}

type CreateSubmissionResponse struct {
	SubmissionID int64 `json:"submissionId"`
}

// CreateSubmission stores the artifact, records the submission together with
// its dispatch, and hands the dispatch to the worker. Delivery problems never
// fail the request.
func (s *SubmissionService) CreateSubmission(ctx context.Context, caller model.Identity, in CreateSubmissionInput) (*CreateSubmissionResponse, error) {
	if in.AssignmentID <= 0 || in.File == nil {
		return nil, common.NewClientError(common.ErrBadRequest, "Missing assignmentId or file")
	}

	if _, err := s.assignmentRepo.FindAssignmentByID(ctx, in.AssignmentID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewClientError(common.ErrNotFound, "Assignment not found")
		}
		return nil, common.Errorf("failed to look up assignment %d: %w", in.AssignmentID, err)
	}

	name := ArtifactName(s.now(), in.FileName)
	artifact, err := s.artifacts.Save(ctx, name, in.File)
	if err != nil {
		return nil, common.Errorf("failed to store artifact %s: %w", name, err)
	}

	sub := &model.Submission{
		UserID:       caller.UserID,
		AssignmentID: in.AssignmentID,
		Filename:     artifact.Name,
		Status:       model.StatusQueued,
	}
	dispatch := &model.Dispatch{
		ID:          uuid.NewString(),
		Status:      model.DispatchPending,
		ArtifactURL: artifact.URL,
	}
	if err := s.submissionRepo.CreateSubmission(ctx, sub, dispatch); err != nil {
		if rmErr := s.artifacts.Remove(ctx, artifact.Name); rmErr != nil {
			log.Printf("WARN: failed to remove orphaned artifact %s: %v", artifact.Name, rmErr)
		}
		if errors.Is(err, repository.ErrUnknownUser) {
			// The token outlived its account.
			log.Printf("WARN: rejecting submission from user %d: %v", caller.UserID, err)
			return nil, common.NewClientError(common.ErrUnauthorized, "Invalid token")
		}
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.WrapClientError(common.ErrNotFound, "Assignment not found", err)
		}
		return nil, common.Errorf("failed to create submission: %w", err)
	}

	log.Printf("INFO: submission %d queued for assignment %d by user %d (%d bytes)", sub.ID, sub.AssignmentID, sub.UserID, artifact.Size)
	s.dispatchService.Enqueue(ctx, dispatch.ID)
	return &CreateSubmissionResponse{SubmissionID: sub.ID}, nil
}

// ArtifactName builds a collision-resistant storage name that keeps the
// upload's extension: <unix-ms>-<random>-<slugged stem><ext>.
func ArtifactName(now time.Time, original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	if ext == "." || len(ext) > 16 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "upload"
	}
	return fmt.Sprintf("%d-%s-%s%s", now.UnixMilli(), uuid.NewString()[:8], stem, ext)
}

// GetSubmission returns the submission with its first result and dispatch
// state. Callers who may not view it get the same 404 as for a missing id.
func (s *SubmissionService) GetSubmission(ctx context.Context, caller model.Identity, id int64) (*model.SubmissionDetail, error) {
	sub, err := s.visibleSubmission(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	detail := &model.SubmissionDetail{Submission: sub}
	result, err := s.resultRepo.FindFirstResult(ctx, id)
	switch {
	case err == nil:
		detail.Result = result
	case !errors.Is(err, common.ErrNotFound):
		return nil, common.Errorf("failed to load result for submission %d: %w", id, err)
	}

	dispatch, err := s.dispatchRepo.FindDispatchBySubmission(ctx, id)
	switch {
	case err == nil:
		detail.Dispatch = dispatch
	case !errors.Is(err, common.ErrNotFound):
		return nil, common.Errorf("failed to load dispatch for submission %d: %w", id, err)
	}
	return detail, nil
}

// ListSubmissions returns the caller's submissions (all of them for teachers)
// newest first, each with its first result.
func (s *SubmissionService) ListSubmissions(ctx context.Context, caller model.Identity, assignmentID int64) ([]model.SubmissionWithResult, error) {
	filter := model.SubmissionFilter{AssignmentID: assignmentID}
	if !caller.IsTeacher() {
		filter.UserID = caller.UserID
	}

	subs, err := s.submissionRepo.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, common.Errorf("failed to list submissions: %w", err)
	}
	results, err := s.resultRepo.ListResults(ctx)
	if err != nil {
		return nil, common.Errorf("failed to list results: %w", err)
	}
	first := FirstResults(results)

	out := make([]model.SubmissionWithResult, 0, len(subs))
	for i := len(subs) - 1; i >= 0; i-- {
		item := model.SubmissionWithResult{Submission: subs[i]}
		if r, ok := first[subs[i].ID]; ok {
			item.Result = &r
		}
		out = append(out, item)
	}
	return out, nil
}

// ListResults returns every result row of a submission in insertion order.
func (s *SubmissionService) ListResults(ctx context.Context, caller model.Identity, submissionID int64) ([]model.Result, error) {
	if _, err := s.visibleSubmission(ctx, caller, submissionID); err != nil {
		return nil, err
	}
	results, err := s.resultRepo.ListResultsBySubmission(ctx, submissionID)
	if err != nil {
		return nil, common.Errorf("failed to list results for submission %d: %w", submissionID, err)
	}
	return results, nil
}

func (s *SubmissionService) visibleSubmission(ctx context.Context, caller model.Identity, id int64) (*model.Submission, error) {
	sub, err := s.submissionRepo.FindSubmissionByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewClientError(common.ErrNotFound, "Submission not found")
		}
		return nil, common.Errorf("failed to get submission %d: %w", id, err)
	}
	if !caller.CanView(sub.UserID) {
		return nil, common.NewClientError(common.ErrNotFound, "Submission not found")
	}
	return sub, nil
}

// FirstResults maps each submission id to its lowest-id result.
func FirstResults(results []model.Result) map[int64]model.Result {
	first := make(map[int64]model.Result, len(results))
	for _, r := range results {
		if cur, ok := first[r.SubmissionID]; !ok || r.ID < cur.ID {
			first[r.SubmissionID] = r
		}
	}
	return first
}
