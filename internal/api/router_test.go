package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aca_backend/internal/app/service"
	"aca_backend/internal/common/security"
	"aca_backend/internal/domain/model"
	"aca_backend/internal/domain/repository"
	"aca_backend/internal/platform/database"
	"aca_backend/internal/platform/queue"
	"aca_backend/internal/platform/storage"
)

type testServer struct {
	*httptest.Server
	store    repository.Store
	queue    *queue.MemoryQueue
	dispatch *service.DispatchService
	runs     chan model.RunRequest
}

func newTestServer(t *testing.T, runnerSecret string, maxUpload int64) *testServer {
	t.Helper()
	security.Configure([]byte("router-secret"), 12*time.Hour)

	db, err := database.OpenBolt(filepath.Join(t.TempDir(), "aca.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	store, err := repository.NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	runs := make(chan model.RunRequest, 16)
	runner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.RunRequest
		json.NewDecoder(r.Body).Decode(&req)
		runs <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(runner.Close)

	artifacts, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	q := queue.NewMemoryQueue(16)
	dispatch := service.NewDispatchService(store, store, q, service.DispatchOptions{
		RunnerURL:   runner.URL,
		Secret:      runnerSecret,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Second,
		MaxBackoff:  time.Minute,
	})
	assignments := service.NewAssignmentService(store)
	if _, err := assignments.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}

	router := NewRouter(
		service.NewAuthService(store),
		assignments,
		service.NewSubmissionService(store, artifacts, dispatch),
		service.NewWebhookService(store, nil, runnerSecret),
		service.NewAnalyticsService(store),
		maxUpload,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, queue: q, dispatch: dispatch, runs: runs}
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (s *testServer) postJSON(t *testing.T, path, token string, v interface{}) (int, []byte) {
	t.Helper()
	data, _ := json.Marshal(v)
	return s.do(t, http.MethodPost, path, token, bytes.NewReader(data), "application/json")
}

func (s *testServer) login(t *testing.T, prefix, email, role string) string {
	t.Helper()
	if code, body := s.postJSON(t, prefix+"/auth/register", "", map[string]string{"email": email, "password": "pw", "role": role}); code != http.StatusOK {
		t.Fatalf("register: %d %s", code, body)
	}
	code, body := s.postJSON(t, prefix+"/auth/login", "", map[string]string{"email": email, "password": "pw"})
	if code != http.StatusOK {
		t.Fatalf("login: %d %s", code, body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(body, &resp)
	return resp.Token
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(content)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func errorOf(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	json.Unmarshal(body, &e)
	return e.Error
}

func TestServiceEndpoints(t *testing.T) {
	srv := newTestServer(t, "", 1<<20)
	for _, prefix := range []string{"", "/api"} {
		code, body := srv.do(t, http.MethodGet, prefix+"/health", "", nil, "")
		if code != http.StatusOK || !strings.Contains(string(body), `"ok":true`) {
			t.Fatalf("%s/health = %d %s", prefix, code, body)
		}
		code, body = srv.do(t, http.MethodGet, prefix+"/", "", nil, "")
		var desc struct {
			Service string `json:"service"`
			Status  string `json:"status"`
			Version string `json:"version"`
		}
		json.Unmarshal(body, &desc)
		if code != http.StatusOK || desc.Service != "ACA Backend API" || desc.Status != "running" || desc.Version != "0.1.0" {
			t.Fatalf("%s/ = %d %s", prefix, code, body)
		}
	}
}

func TestAuthGate(t *testing.T) {
	srv := newTestServer(t, "", 1<<20)
	for _, prefix := range []string{"", "/api"} {
		code, body := srv.do(t, http.MethodGet, prefix+"/assignments", "", nil, "")
		if code != http.StatusUnauthorized || errorOf(body) != "Unauthorized" {
			t.Fatalf("%s no token = %d %s", prefix, code, body)
		}
		code, body = srv.do(t, http.MethodGet, prefix+"/assignments", "garbage", nil, "")
		if code != http.StatusUnauthorized || errorOf(body) != "Invalid token" {
			t.Fatalf("%s bad token = %d %s", prefix, code, body)
		}
	}

	token := srv.login(t, "/api", "reader@example.com", "")
	code, body := srv.do(t, http.MethodGet, "/assignments", token, nil, "")
	if code != http.StatusOK {
		t.Fatalf("assignments = %d %s", code, body)
	}
	var list []model.Assignment
	if err := json.Unmarshal(body, &list); err != nil || len(list) != 3 {
		t.Fatalf("assignments = %s, %v", body, err)
	}
	code, _ = srv.do(t, http.MethodGet, fmt.Sprintf("/api/assignments/%d", list[1].ID), token, nil, "")
	if code != http.StatusOK {
		t.Fatalf("get assignment = %d", code)
	}

	code, body = srv.postJSON(t, "/auth/register", "", map[string]string{"email": "reader@example.com", "password": "other"})
	if code != http.StatusBadRequest || errorOf(body) != "User already exists" {
		t.Fatalf("duplicate register = %d %s", code, body)
	}
	code, body = srv.postJSON(t, "/auth/register", "", map[string]string{"email": "x@example.com"})
	if code != http.StatusBadRequest || errorOf(body) != "Missing fields" {
		t.Fatalf("incomplete register = %d %s", code, body)
	}
	code, body = srv.postJSON(t, "/auth/login", "", map[string]string{"email": "reader@example.com", "password": "other"})
	if code != http.StatusUnauthorized || errorOf(body) != "Invalid credentials" {
		t.Fatalf("wrong password = %d %s", code, body)
	}
}

func TestSubmissionFlow(t *testing.T) {
	srv := newTestServer(t, "", 1<<20)
	student := srv.login(t, "", "student@example.com", "student")
	teacher := srv.login(t, "", "teacher@example.com", "teacher")
	intruder := srv.login(t, "", "other@example.com", "student")

	body, ct := multipartBody(t, map[string]string{"assignmentId": "1"}, "solution.zip", []byte("PK\x03\x04"))
	code, resp := srv.do(t, http.MethodPost, "/api/submissions", student, body, ct)
	if code != http.StatusOK {
		t.Fatalf("create submission = %d %s", code, resp)
	}
	var created service.CreateSubmissionResponse
	json.Unmarshal(resp, &created)
	if created.SubmissionID <= 0 {
		t.Fatalf("submission id = %d", created.SubmissionID)
	}

	// Drive the dispatch the worker would pick up.
	id, err := srv.queue.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if err := srv.dispatch.Deliver(context.Background(), id); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	run := <-srv.runs
	if run.SubmissionID != created.SubmissionID || run.AssignmentID != 1 || !strings.HasSuffix(run.Filename, "-solution.zip") {
		t.Fatalf("run request = %+v", run)
	}

	subPath := fmt.Sprintf("/submissions/%d", created.SubmissionID)
	code, resp = srv.do(t, http.MethodGet, subPath, intruder, nil, "")
	if code != http.StatusNotFound {
		t.Fatalf("intruder read = %d %s", code, resp)
	}

	cb := map[string]interface{}{"submissionId": created.SubmissionID, "status": "completed", "score": 0.8, "totalTests": 10, "passedTests": 8}
	code, resp = srv.postJSON(t, "/runner/callback", "", cb)
	if code != http.StatusOK || string(bytes.TrimSpace(resp)) != `{"ok":true}` {
		t.Fatalf("callback = %d %s", code, resp)
	}
	cb["score"] = 0.1
	code, resp = srv.postJSON(t, "/api/runner/callback", "", cb)
	if code != http.StatusOK || !strings.Contains(string(resp), `"duplicate":true`) {
		t.Fatalf("duplicate callback = %d %s", code, resp)
	}

	for _, token := range []string{student, teacher} {
		code, resp = srv.do(t, http.MethodGet, "/api"+subPath, token, nil, "")
		if code != http.StatusOK {
			t.Fatalf("get submission = %d %s", code, resp)
		}
		var detail model.SubmissionDetail
		json.Unmarshal(resp, &detail)
		if detail.Submission.Status != model.StatusCompleted || detail.Result == nil || detail.Result.Score != 0.8 {
			t.Fatalf("detail = %s", resp)
		}
	}

	code, resp = srv.do(t, http.MethodGet, fmt.Sprintf("/results/%d", created.SubmissionID), student, nil, "")
	var results []model.Result
	json.Unmarshal(resp, &results)
	if code != http.StatusOK || len(results) != 1 {
		t.Fatalf("results = %d %s", code, resp)
	}

	code, resp = srv.do(t, http.MethodGet, "/submissions", intruder, nil, "")
	if code != http.StatusOK || string(bytes.TrimSpace(resp)) != "[]" {
		t.Fatalf("intruder listing = %d %s", code, resp)
	}

	code, _ = srv.do(t, http.MethodGet, "/analytics", student, nil, "")
	if code != http.StatusForbidden {
		t.Fatalf("student analytics = %d", code)
	}
	code, resp = srv.do(t, http.MethodGet, "/api/analytics", teacher, nil, "")
	var analytics model.Analytics
	json.Unmarshal(resp, &analytics)
	if code != http.StatusOK || analytics.TotalSubmissions != 1 || analytics.CompletedCount != 1 || analytics.TotalStudents != 2 {
		t.Fatalf("analytics = %d %s", code, resp)
	}
	code, resp = srv.do(t, http.MethodGet, "/export/results", teacher, nil, "")
	if code != http.StatusOK || !strings.HasPrefix(string(resp), "submissionId,userId,email") {
		t.Fatalf("export = %d %s", code, resp)
	}
}

func TestSubmissionRejects(t *testing.T) {
	srv := newTestServer(t, "", 1024)
	token := srv.login(t, "", "s@example.com", "")

	tests := []struct {
		name    string
		fields  map[string]string
		file    string
		content []byte
		status  int
		error   string
	}{
		{"no file", map[string]string{"assignmentId": "1"}, "", nil, http.StatusBadRequest, "Missing assignmentId or file"},
		{"no assignment", nil, "a.zip", []byte("x"), http.StatusBadRequest, "Missing assignmentId or file"},
		{"non numeric assignment", map[string]string{"assignmentId": "abc"}, "a.zip", []byte("x"), http.StatusBadRequest, "Invalid assignmentId"},
		{"unknown assignment", map[string]string{"assignmentId": "99"}, "a.zip", []byte("x"), http.StatusNotFound, "Assignment not found"},
		{"too large", map[string]string{"assignmentId": "1"}, "a.zip", bytes.Repeat([]byte("x"), 4096), http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.file, tt.content)
			code, resp := srv.do(t, http.MethodPost, "/submissions", token, body, ct)
			if code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", code, tt.status, resp)
			}
			if tt.error != "" && errorOf(resp) != tt.error {
				t.Fatalf("error = %q, want %q", errorOf(resp), tt.error)
			}
		})
	}

	code, _ := srv.do(t, http.MethodPost, "/submissions", token, strings.NewReader("{}"), "application/json")
	if code != http.StatusBadRequest {
		t.Fatalf("non-multipart body = %d", code)
	}
}

func TestRunnerCallbackSecret(t *testing.T) {
	srv := newTestServer(t, "s3cret", 1<<20)

	code, body := srv.postJSON(t, "/runner/callback", "", map[string]int{"submissionId": 1})
	if code != http.StatusUnauthorized {
		t.Fatalf("callback without secret = %d %s", code, body)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/runner/callback", strings.NewReader(`{}`))
	req.Header.Set(service.RunnerSecretHeader, "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || errorOf(data) != "Missing submissionId" {
		t.Fatalf("callback with secret = %d %s", resp.StatusCode, data)
	}
}
