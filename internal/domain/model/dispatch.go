package model

import "time"

type DispatchStatus string

const (
	DispatchPending   DispatchStatus = "pending"   // Waiting for (re)delivery to the runner
	DispatchSent      DispatchStatus = "sent"      // Runner accepted the job
	DispatchCompleted DispatchStatus = "completed" // Callback received
	DispatchFailed    DispatchStatus = "failed"    // Gave up after max attempts
)

// Dispatch is the outbox record for delivering one submission to the runner.
type Dispatch struct {
	ID            string         `json:"id"`
	SubmissionID  int64          `json:"submissionId"`
	Status        DispatchStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	ArtifactURL   string         `json:"artifactUrl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Due reports whether the worker may attempt delivery at now.
func (d *Dispatch) Due(now time.Time) bool {
	return d.Status == DispatchPending && !d.NextAttemptAt.After(now)
}

// RunRequest is the body of POST {RUNNER_URL}/run.
type RunRequest struct {
	SubmissionID int64  `json:"submissionId"`
	AssignmentID int64  `json:"assignmentId"`
	Filename     string `json:"filename"`
	ArtifactURL  string `json:"artifactUrl,omitempty"`
}
