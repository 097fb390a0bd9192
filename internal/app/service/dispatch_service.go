package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"aca_backend/internal/common"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/queue"
)

// RunnerSecretHeader carries the shared runner secret in both directions.
const RunnerSecretHeader = "X-Runner-Secret"

// errRunnerNoReply marks a run request the runner received but did not answer
// in time. The runner grades synchronously, so it may still be working on it.
var errRunnerNoReply = errors.New("runner did not reply in time")

type DispatchOptions struct {
	RunnerURL   string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DispatchService delivers submissions to the grading runner with
// at-least-once semantics backed by the dispatch outbox.
type DispatchService struct {
	dispatchRepo   repository.DispatchRepository
	submissionRepo repository.SubmissionRepository
	queue          queue.Queue
	client         *http.Client
	opts           DispatchOptions
	now            func() time.Time
}

func NewDispatchService(dispatchRepo repository.DispatchRepository, subRepo repository.SubmissionRepository, q queue.Queue, opts DispatchOptions) *DispatchService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &DispatchService{
		dispatchRepo:   dispatchRepo,
		submissionRepo: subRepo,
		queue:          q,
		client:         &http.Client{Timeout: opts.Timeout},
		opts:           opts,
		now:            time.Now,
	}
}

// Enqueue hands a dispatch id to the worker. A failed push is only logged;
// the reconciler picks the dispatch up from the outbox later.
func (s *DispatchService) Enqueue(ctx context.Context, dispatchID string) {
	if err := s.queue.Push(ctx, dispatchID); err != nil {
		log.Printf("WARN: failed to enqueue dispatch %s, leaving it to the reconciler: %v", dispatchID, err)
		return
	}
	log.Printf("INFO: dispatch %s enqueued", dispatchID)
}

// Deliver makes one delivery attempt for a pending, due dispatch and records
// the outcome. Dispatches in any other state are skipped.
func (s *DispatchService) Deliver(ctx context.Context, dispatchID string) error {
	d, err := s.dispatchRepo.FindDispatchByID(ctx, dispatchID)
	if err != nil {
		return common.Errorf("failed to load dispatch %s: %w", dispatchID, err)
	}
	now := s.now()
	if !d.Due(now) {
		log.Printf("INFO: dispatch %s is %s and not due, skipping", d.ID, d.Status)
		return nil
	}

	sub, err := s.submissionRepo.FindSubmissionByID(ctx, d.SubmissionID)
	if err != nil {
		return common.Errorf("failed to load submission %d for dispatch %s: %w", d.SubmissionID, d.ID, err)
	}

	attempts := d.Attempts + 1
	req := model.RunRequest{
		SubmissionID: sub.ID,
		AssignmentID: sub.AssignmentID,
		Filename:     sub.Filename,
		ArtifactURL:  d.ArtifactURL,
	}
	sendErr := s.sendToRunner(ctx, req)
	if errors.Is(sendErr, errRunnerNoReply) {
		log.Printf("WARN: dispatch %s: %v; treating it as delivered and waiting for the callback", d.ID, sendErr)
		sendErr = nil
	}
	if sendErr == nil {
		if err := s.dispatchRepo.MarkDispatchSent(ctx, d.ID, attempts); err != nil {
			return common.Errorf("failed to mark dispatch %s sent: %w", d.ID, err)
		}
		log.Printf("INFO: submission %d delivered to runner (dispatch %s, attempt %d)", sub.ID, d.ID, attempts)
		return nil
	}

	if attempts >= s.opts.MaxAttempts {
		log.Printf("ERROR: giving up on dispatch %s for submission %d after %d attempts: %v", d.ID, sub.ID, attempts, sendErr)
		if err := s.dispatchRepo.FailDispatch(ctx, d.ID, attempts, sendErr.Error()); err != nil {
			return common.Errorf("failed to mark dispatch %s failed: %w", d.ID, err)
		}
		return nil
	}

	next := now.Add(s.Backoff(attempts))
	log.Printf("WARN: dispatch %s attempt %d failed, retrying at %s: %v", d.ID, attempts, next.Format(time.RFC3339), sendErr)
	if err := s.dispatchRepo.ScheduleDispatchRetry(ctx, d.ID, attempts, next, sendErr.Error()); err != nil {
		return common.Errorf("failed to schedule retry for dispatch %s: %w", d.ID, err)
	}
	return nil
}

// Backoff returns the delay after the given failed attempt: base·2^(attempt-1), capped.
func (s *DispatchService) Backoff(attempt int) time.Duration {
	delay := s.opts.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if s.opts.MaxBackoff > 0 && delay >= s.opts.MaxBackoff {
			return s.opts.MaxBackoff
		}
	}
	if s.opts.MaxBackoff > 0 && delay > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return delay
}

// RequeueDue pushes every due pending dispatch back onto the queue and
// returns how many it pushed.
func (s *DispatchService) RequeueDue(ctx context.Context, limit int) (int, error) {
	due, err := s.dispatchRepo.ListDueDispatches(ctx, s.now(), limit)
	if err != nil {
		return 0, common.Errorf("failed to list due dispatches: %w", err)
	}
	pushed := 0
	for _, d := range due {
		if err := s.queue.Push(ctx, d.ID); err != nil {
			if errors.Is(err, queue.ErrFull) {
				log.Printf("WARN: dispatch queue full, %d due dispatches deferred to the next sweep", len(due)-pushed)
				break
			}
			return pushed, common.Errorf("failed to requeue dispatch %s: %w", d.ID, err)
		}
		pushed++
	}
	return pushed, nil
}

func (s *DispatchService) sendToRunner(ctx context.Context, req model.RunRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.RunnerURL+"/run", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create runner request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.opts.Secret != "" {
		httpReq.Header.Set(RunnerSecretHeader, s.opts.Secret)
	}

	var written atomic.Bool
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			written.Store(info.Err == nil)
		},
	}))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if written.Load() && ctx.Err() == nil && errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("no response within %s: %w", s.client.Timeout, errRunnerNoReply)
		}
		return fmt.Errorf("runner unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("runner returned status %d: %w", resp.StatusCode, common.ErrServiceUnavailable)
	}
	return nil
}
