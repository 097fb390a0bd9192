package model

import "time"

// Snapshot is the single-document export of every collection. The first
// four keys match the legacy JSON database file, where timestamps are
// epoch milliseconds, reference ids may be strings and passwords may still
// be plaintext.
type Snapshot struct {
	Users       []SnapshotUser       `json:"users"`
	Assignments []Assignment         `json:"assignments"`
	Submissions []SnapshotSubmission `json:"submissions"`
	Results     []SnapshotResult     `json:"results"`
	Dispatches  []Dispatch           `json:"dispatches,omitempty"`
}

type SnapshotUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

type SnapshotSubmission struct {
	ID           int64            `json:"id"`
	UserID       IDRef            `json:"userId"`
	AssignmentID IDRef            `json:"assignmentId"`
	Filename     string           `json:"filename"`
	Status       SubmissionStatus `json:"status"`
	CreatedAt    int64            `json:"createdAt"`
}

type SnapshotResult struct {
	ID           int64   `json:"id"`
	SubmissionID IDRef   `json:"submissionId"`
	Score        float64 `json:"score"`
	TotalTests   int     `json:"totalTests"`
	PassedTests  int     `json:"passedTests"`
	Feedback     string  `json:"feedback"`
	CreatedAt    int64   `json:"createdAt"`
}

func (s *Snapshot) Empty() bool {
	return len(s.Users) == 0 && len(s.Assignments) == 0 && len(s.Submissions) == 0 && len(s.Results) == 0
}

func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func SnapshotUserFrom(u *User) SnapshotUser {
	return SnapshotUser{ID: u.ID, Email: u.Email, Password: u.HashedPassword, Role: u.Role, CreatedAt: ToMillis(u.CreatedAt)}
}

func (s SnapshotUser) User() User {
	return User{ID: s.ID, Email: s.Email, HashedPassword: s.Password, Role: NormalizeRole(s.Role), CreatedAt: FromMillis(s.CreatedAt)}
}

func SnapshotSubmissionFrom(s *Submission) SnapshotSubmission {
	return SnapshotSubmission{
		ID: s.ID, UserID: IDRef(s.UserID), AssignmentID: IDRef(s.AssignmentID),
		Filename: s.Filename, Status: s.Status, CreatedAt: ToMillis(s.CreatedAt),
	}
}

func (s SnapshotSubmission) Submission() Submission {
	status := s.Status
	if !status.Valid() {
		status = StatusQueued
	}
	return Submission{
		ID: s.ID, UserID: int64(s.UserID), AssignmentID: int64(s.AssignmentID),
		Filename: s.Filename, Status: status, CreatedAt: FromMillis(s.CreatedAt),
	}
}

func SnapshotResultFrom(r *Result) SnapshotResult {
	return SnapshotResult{
		ID: r.ID, SubmissionID: IDRef(r.SubmissionID), Score: r.Score, TotalTests: r.TotalTests,
		PassedTests: r.PassedTests, Feedback: r.Feedback, CreatedAt: ToMillis(r.CreatedAt),
	}
}

func (s SnapshotResult) Result() Result {
	return Result{
		ID: s.ID, SubmissionID: int64(s.SubmissionID), Score: s.Score, TotalTests: s.TotalTests,
		PassedTests: s.PassedTests, Feedback: s.Feedback, CreatedAt: FromMillis(s.CreatedAt),
	}
}
