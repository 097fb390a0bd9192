package model

import "time"

type SubmissionStatus string

const (
	StatusQueued    SubmissionStatus = "queued"
	StatusRunning   SubmissionStatus = "running"
	StatusCompleted SubmissionStatus = "completed"
	StatusFailed    SubmissionStatus = "failed"
)

func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal statuses are final; no later callback may change them.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Submission struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"userId"`
	AssignmentID int64            `json:"assignmentId"`
	Filename     string           `json:"filename"`
	Status       SubmissionStatus `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// SubmissionFilter narrows ListSubmissions; zero values match everything.
type SubmissionFilter struct {
	UserID       int64
	AssignmentID int64
}

func (f SubmissionFilter) Match(s *Submission) bool {
	if f.UserID != 0 && s.UserID != f.UserID {
		return false
	}
	if f.AssignmentID != 0 && s.AssignmentID != f.AssignmentID {
		return false
	}
	return true
}

// SubmissionDetail is the read projection served by GET /submissions/{id}.
type SubmissionDetail struct {
	Submission *Submission `json:"submission"`
	Result     *Result     `json:"result"`
	Dispatch   *Dispatch   `json:"dispatch,omitempty"`
}

// SubmissionWithResult is one row of the submission listing.
type SubmissionWithResult struct {
	Submission
	Result *Result `json:"result"`
}
