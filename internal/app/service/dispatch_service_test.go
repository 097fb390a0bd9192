package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aca_backend/internal/domain/model"
)

func createQueuedSubmission(t *testing.T, env *testEnv) (int64, *model.Dispatch) {
	t.Helper()
	ctx := context.Background()
	student := env.createUser(t, model.RoleStudent)
	resp, err := env.submissions.CreateSubmission(ctx, student, CreateSubmissionInput{
		AssignmentID: env.assignment.ID, FileName: "a.zip", File: strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	d, err := env.store.FindDispatchBySubmission(ctx, resp.SubmissionID)
	if err != nil {
		t.Fatalf("FindDispatchBySubmission: %v", err)
	}
	return resp.SubmissionID, d
}

func TestDeliverSuccess(t *testing.T) {
	got := make(chan model.RunRequest, 4)
	var secret atomic.Value
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" || r.Method != http.MethodPost {
			t.Errorf("runner got %s %s", r.Method, r.URL.Path)
		}
		secret.Store(r.Header.Get(RunnerSecretHeader))
		runnerStub(http.StatusAccepted, got)(w, r)
	}))
	defer runner.Close()

	env := newTestEnv(t, runner.URL)
	env.dispatch.opts.Secret = "s3cret"
	ctx := context.Background()
	subID, d := createQueuedSubmission(t, env)

	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	req := <-got
	sub, _ := env.store.FindSubmissionByID(ctx, subID)
	if req.SubmissionID != subID || req.AssignmentID != env.assignment.ID || req.Filename != sub.Filename {
		t.Fatalf("run request = %+v", req)
	}
	if secret.Load() != "s3cret" {
		t.Fatalf("runner secret header = %v", secret.Load())
	}

	after, err := env.store.FindDispatchByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("FindDispatchByID: %v", err)
	}
	if after.Status != model.DispatchSent || after.Attempts != 1 {
		t.Fatalf("dispatch after delivery = %+v", after)
	}

	// A sent dispatch is never delivered twice.
	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("runner called again for a sent dispatch")
	}
}

func TestDeliverRetriesThenFails(t *testing.T) {
	var calls int32
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer runner.Close()

	env := newTestEnv(t, runner.URL)
	ctx := context.Background()
	subID, d := createQueuedSubmission(t, env)

	clock := time.Now()
	env.dispatch.now = func() time.Time { return clock }

	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("Deliver #1: %v", err)
	}
	after, _ := env.store.FindDispatchByID(ctx, d.ID)
	if after.Status != model.DispatchPending || after.Attempts != 1 || after.LastError == "" {
		t.Fatalf("dispatch after first failure = %+v", after)
	}
	if want := clock.Add(time.Second); !after.NextAttemptAt.Equal(want.UTC()) && !after.NextAttemptAt.Equal(want) {
		t.Fatalf("nextAttemptAt = %v, want %v", after.NextAttemptAt, want)
	}

	// Not due yet: no call.
	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("early Deliver: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("runner calls = %d, want 1", n)
	}

	clock = clock.Add(time.Minute)
	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("Deliver #2: %v", err)
	}
	clock = clock.Add(time.Minute)
	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("Deliver #3: %v", err)
	}

	after, _ = env.store.FindDispatchByID(ctx, d.ID)
	if after.Status != model.DispatchFailed || after.Attempts != 3 {
		t.Fatalf("dispatch after max attempts = %+v", after)
	}
	sub, _ := env.store.FindSubmissionByID(ctx, subID)
	if sub.Status != model.StatusFailed {
		t.Fatalf("submission status = %s, want failed", sub.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("runner calls = %d, want 3", n)
	}
}

func TestDeliverUnreachableRunner(t *testing.T) {
	runner := httptest.NewServer(http.NotFoundHandler())
	url := runner.URL
	runner.Close()

	env := newTestEnv(t, url)
	ctx := context.Background()
	_, d := createQueuedSubmission(t, env)

	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	after, _ := env.store.FindDispatchByID(ctx, d.ID)
	if after.Status != model.DispatchPending || after.Attempts != 1 {
		t.Fatalf("dispatch = %+v", after)
	}
}

func TestDeliverSlowRunner(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// Still grading when the client gives up.
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer runner.Close()
	defer close(release)

	env := newTestEnv(t, runner.URL)
	env.dispatch.client.Timeout = 50 * time.Millisecond
	ctx := context.Background()
	subID, d := createQueuedSubmission(t, env)

	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	after, _ := env.store.FindDispatchByID(ctx, d.ID)
	if after.Status != model.DispatchSent || after.Attempts != 1 {
		t.Fatalf("dispatch after slow runner = %+v, want sent after one attempt", after)
	}

	n, err := env.dispatch.RequeueDue(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("RequeueDue = %d, %v; want nothing to redeliver", n, err)
	}
	if err := env.dispatch.Deliver(ctx, d.ID); err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("runner called %d times, want 1", got)
	}

	// The late callback still lands.
	out, err := env.webhook.HandleRunnerCallback(ctx, RunnerCallback{SubmissionID: model.IDRef(subID), Score: ptr(0.5)})
	if err != nil || out.Duplicate {
		t.Fatalf("late callback = %+v, %v", out, err)
	}
	sub, _ := env.store.FindSubmissionByID(ctx, subID)
	if sub.Status != model.StatusCompleted {
		t.Fatalf("submission status = %s, want completed", sub.Status)
	}
}

func TestBackoff(t *testing.T) {
	svc := &DispatchService{opts: DispatchOptions{Backoff: 2 * time.Second, MaxBackoff: 30 * time.Second}}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := svc.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRequeueDue(t *testing.T) {
	env := newTestEnv(t, "http://runner.invalid")
	ctx := context.Background()
	_, d1 := createQueuedSubmission(t, env)
	_, d2 := createQueuedSubmission(t, env)

	// Drain what intake pushed.
	for env.queue.Len() > 0 {
		if _, err := env.queue.Pop(ctx, time.Millisecond); err != nil {
			t.Fatalf("Pop: %v", err)
		}
	}

	if err := env.store.ScheduleDispatchRetry(ctx, d2.ID, 1, time.Now().Add(time.Hour), "boom"); err != nil {
		t.Fatalf("ScheduleDispatchRetry: %v", err)
	}

	n, err := env.dispatch.RequeueDue(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("RequeueDue = %d, %v", n, err)
	}
	id, err := env.queue.Pop(ctx, time.Millisecond)
	if err != nil || id != d1.ID {
		t.Fatalf("Pop = %q, %v; want %q", id, err, d1.ID)
	}
}
