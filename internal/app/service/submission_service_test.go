package service

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"aca_backend/internal/domain/model"
)

func TestCreateSubmission(t *testing.T) {
	env := newTestEnv(t, "http://runner.invalid")
	ctx := context.Background()
	student := env.createUser(t, model.RoleStudent)

	var lastID int64
	for i := 0; i < 3; i++ {
		resp, err := env.submissions.CreateSubmission(ctx, student, CreateSubmissionInput{
			AssignmentID: env.assignment.ID,
			FileName:     "My Solution.zip",
			File:         strings.NewReader("PK\x03\x04"),
		})
		if err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
		if resp.SubmissionID <= lastID {
			t.Fatalf("submission id %d not greater than %d", resp.SubmissionID, lastID)
		}
		lastID = resp.SubmissionID
	}

	detail, err := env.submissions.GetSubmission(ctx, student, lastID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if detail.Submission.Status != model.StatusQueued || detail.Submission.UserID != student.UserID {
		t.Fatalf("submission = %+v", detail.Submission)
	}
	if detail.Result != nil {
		t.Fatalf("result = %+v, want nil", detail.Result)
	}
	if detail.Dispatch == nil || detail.Dispatch.Status != model.DispatchPending {
		t.Fatalf("dispatch = %+v", detail.Dispatch)
	}
	if !strings.HasSuffix(detail.Submission.Filename, "-my-solution.zip") {
		t.Fatalf("filename = %q", detail.Submission.Filename)
	}
	if _, err := os.Stat(filepath.Join(env.artifacts.Dir(), detail.Submission.Filename)); err != nil {
		t.Fatalf("artifact not stored: %v", err)
	}
	if env.queue.Len() != 3 {
		t.Fatalf("queue length = %d, want 3", env.queue.Len())
	}
}

func TestCreateSubmissionRejects(t *testing.T) {
	env := newTestEnv(t, "http://runner.invalid")
	ctx := context.Background()
	student := env.createUser(t, model.RoleStudent)

	// A token can outlive its account when the store is wiped.
	ghost := model.Identity{UserID: 9999, Email: "ghost@example.com", Role: model.RoleStudent}

	tests := []struct {
		name    string
		caller  model.Identity
		in      CreateSubmissionInput
		status  int
		message string
	}{
		{"missing file", student, CreateSubmissionInput{AssignmentID: env.assignment.ID}, http.StatusBadRequest, "Missing assignmentId or file"},
		{"missing assignment", student, CreateSubmissionInput{FileName: "a.zip", File: strings.NewReader("x")}, http.StatusBadRequest, "Missing assignmentId or file"},
		{"unknown assignment", student, CreateSubmissionInput{AssignmentID: 404, FileName: "a.zip", File: strings.NewReader("x")}, http.StatusNotFound, "Assignment not found"},
		{"unknown caller", ghost, CreateSubmissionInput{AssignmentID: env.assignment.ID, FileName: "a.zip", File: strings.NewReader("x")}, http.StatusUnauthorized, "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.submissions.CreateSubmission(ctx, tt.caller, tt.in)
			assertStatus(t, err, tt.status)
			assertMessage(t, err, tt.message)
		})
	}

	entries, err := os.ReadDir(env.artifacts.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			t.Fatalf("unexpected artifact %s left behind", e.Name())
		}
	}
}

func TestSubmissionVisibility(t *testing.T) {
	env := newTestEnv(t, "http://runner.invalid")
	ctx := context.Background()
	owner := env.createUser(t, model.RoleStudent)
	other := env.createUser(t, model.RoleStudent)
	teacher := env.createUser(t, model.RoleTeacher)

	resp, err := env.submissions.CreateSubmission(ctx, owner, CreateSubmissionInput{
		AssignmentID: env.assignment.ID, FileName: "a.zip", File: strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	if _, err := env.submissions.GetSubmission(ctx, owner, resp.SubmissionID); err != nil {
		t.Fatalf("owner GetSubmission: %v", err)
	}
	if _, err := env.submissions.GetSubmission(ctx, teacher, resp.SubmissionID); err != nil {
		t.Fatalf("teacher GetSubmission: %v", err)
	}
	_, err = env.submissions.GetSubmission(ctx, other, resp.SubmissionID)
	assertStatus(t, err, http.StatusNotFound)
	assertMessage(t, err, "Submission not found")

	_, err = env.submissions.ListResults(ctx, other, resp.SubmissionID)
	assertStatus(t, err, http.StatusNotFound)
	_, err = env.submissions.GetSubmission(ctx, owner, 999)
	assertStatus(t, err, http.StatusNotFound)
}

func TestListSubmissions(t *testing.T) {
	env := newTestEnv(t, "http://runner.invalid")
	ctx := context.Background()
	alice := env.createUser(t, model.RoleStudent)
	bob := env.createUser(t, model.RoleStudent)
	teacher := env.createUser(t, model.RoleTeacher)

	var ids []int64
	for _, who := range []model.Identity{alice, bob, alice} {
		resp, err := env.submissions.CreateSubmission(ctx, who, CreateSubmissionInput{
			AssignmentID: env.assignment.ID, FileName: "a.zip", File: strings.NewReader("x"),
		})
		if err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
		ids = append(ids, resp.SubmissionID)
	}

	score := 0.5
	if _, err := env.webhook.HandleRunnerCallback(ctx, RunnerCallback{SubmissionID: model.IDRef(ids[0]), Score: &score}); err != nil {
		t.Fatalf("HandleRunnerCallback: %v", err)
	}

	mine, err := env.submissions.ListSubmissions(ctx, alice, 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != ids[2] || mine[1].ID != ids[0] {
		t.Fatalf("alice listing = %+v", mine)
	}
	if mine[1].Result == nil || mine[1].Result.Score != 0.5 || mine[0].Result != nil {
		t.Fatalf("embedded results wrong: %+v", mine)
	}

	all, err := env.submissions.ListSubmissions(ctx, teacher, env.assignment.ID)
	if err != nil || len(all) != 3 {
		t.Fatalf("teacher listing = %d items, %v", len(all), err)
	}
	none, err := env.submissions.ListSubmissions(ctx, teacher, env.assignment.ID+1)
	if err != nil || len(none) != 0 {
		t.Fatalf("filtered listing = %+v, %v", none, err)
	}
}

func TestArtifactName(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	pattern := regexp.MustCompile(`^1700000000000-[0-9a-f]{8}-`)

	tests := []struct {
		original string
		suffix   string
	}{
		{"solution.zip", "-solution.zip"},
		{"../../etc/passwd", "-passwd"},
		{`C:\Users\me\Final Answer.ZIP`, "-final-answer.zip"},
		{"", "-upload"},
		{"---.zip", "-upload.zip"},
	}
	for _, tt := range tests {
		got := ArtifactName(now, tt.original)
		if !pattern.MatchString(got) || !strings.HasSuffix(got, tt.suffix) {
			t.Errorf("ArtifactName(%q) = %q, want prefix %s and suffix %q", tt.original, got, pattern, tt.suffix)
		}
		if strings.ContainsAny(got, `/\`) {
			t.Errorf("ArtifactName(%q) = %q contains a path separator", tt.original, got)
		}
	}
}
