package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/storage"
)

type WebhookService struct {
	resultRepo repository.ResultRepository
	archive    storage.ArtifactStore
	secret     string
	now        func() time.Time
}

// NewWebhookService builds the runner callback handler. archive may be nil,
// in which case accepted payloads are not kept.
func NewWebhookService(resultRepo repository.ResultRepository, archive storage.ArtifactStore, secret string) *WebhookService {
	return &WebhookService{
		resultRepo: resultRepo,
		archive:    archive,
		secret:     secret,
		now:        time.Now,
	}
}

// RunnerCallback is the payload the grading runner posts back.
type RunnerCallback struct {
	SubmissionID model.IDRef             `json:"submissionId"`
	Status       *model.SubmissionStatus `json:"status,omitempty"`
	Score        *float64                `json:"score,omitempty"`
	TotalTests   *int                    `json:"totalTests,omitempty"`
	PassedTests  *int                    `json:"passedTests,omitempty"`
	Feedback     *string                 `json:"feedback,omitempty"`
}

type CallbackOutcome struct {
	Duplicate bool
}

// VerifyRunnerSecret reports whether provided matches the configured runner
// secret. With no secret configured every caller is accepted.
func (s *WebhookService) VerifyRunnerSecret(provided string) bool {
	if s.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.secret)) == 1
}

func (s *WebhookService) HandleRunnerCallback(ctx context.Context, cb RunnerCallback) (*CallbackOutcome, error) {
	submissionID := int64(cb.SubmissionID)
	if submissionID <= 0 {
		return nil, common.NewClientError(common.ErrBadRequest, "Missing submissionId")
	}

	status := model.StatusCompleted
	if cb.Status != nil && *cb.Status != "" {
		status = *cb.Status
	}
	if !status.Valid() {
		return nil, common.NewClientError(common.ErrValidation, fmt.Sprintf("Invalid status %q", status))
	}

	result := &model.Result{SubmissionID: submissionID}
	if cb.Score != nil {
		result.Score = *cb.Score
	}
	if math.IsNaN(result.Score) || result.Score < 0 || result.Score > 1 {
		return nil, common.NewClientError(common.ErrValidation, "score must be between 0 and 1")
	}
	if cb.TotalTests != nil {
		result.TotalTests = *cb.TotalTests
	}
	if cb.PassedTests != nil {
		result.PassedTests = *cb.PassedTests
	}
	if result.TotalTests < 0 || result.PassedTests < 0 {
		return nil, common.NewClientError(common.ErrValidation, "test counts must not be negative")
	}
	if result.PassedTests > result.TotalTests {
		log.Printf("WARN: submission %d reports %d passed of %d total tests", submissionID, result.PassedTests, result.TotalTests)
	}
	if cb.Feedback != nil {
		result.Feedback = *cb.Feedback
	}

	var recorded *model.Result
	if status.Terminal() {
		recorded = result
	}
	applied, err := s.resultRepo.RecordResult(ctx, submissionID, status, recorded)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.WrapClientError(common.ErrNotFound, "Submission not found", err)
		}
		return nil, common.Errorf("failed to record result for submission %d: %w", submissionID, err)
	}
	if !applied {
		log.Printf("WARN: ignoring callback for submission %d, it already reached a final status", submissionID)
		return &CallbackOutcome{Duplicate: true}, nil
	}

	log.Printf("INFO: submission %d moved to %s (score %.2f, %d/%d tests)", submissionID, status, result.Score, result.PassedTests, result.TotalTests)
	s.archivePayload(ctx, submissionID, status, cb)
	return &CallbackOutcome{}, nil
}

func (s *WebhookService) archivePayload(ctx context.Context, submissionID int64, status model.SubmissionStatus, cb RunnerCallback) {
	if s.archive == nil {
		return
	}
	data, err := json.MarshalIndent(cb, "", "  ")
	if err != nil {
		log.Printf("WARN: failed to marshal callback for submission %d: %v", submissionID, err)
		return
	}
	name := fmt.Sprintf("%d-%s-%d.json", submissionID, status, s.now().UnixMilli())
	if _, err := s.archive.Save(ctx, name, bytes.NewReader(data)); err != nil {
		log.Printf("WARN: failed to archive callback for submission %d: %v", submissionID, err)
	}
}
