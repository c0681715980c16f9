package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codehound/reviewhub/internal/config"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/storage"
)

type fakeStore struct {
	storage.Store
}

func (fakeStore) GetUser(context.Context, int64) (*core.User, error) {
	return &core.User{ID: 7, Username: "octocat", GitHubAccessToken: "gh-token"}, nil
}

func (fakeStore) GetRepository(context.Context, int64) (*core.Repository, error) {
	return &core.Repository{ID: 1, FullName: "octocat/hello-world"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine is an httptest server speaking the engine protocol. It records
// the input of each created run.
type fakeEngine struct {
	srv *httptest.Server

	mu        sync.Mutex
	runInputs []map[string]any
	joinDelay time.Duration

	joinsInFlight atomic.Int32
	maxJoins      atomic.Int32
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	f := &fakeEngine{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/threads", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"thread_id": "thread-1"})
	})
	mux.HandleFunc("POST /api/v1/threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AssistantID string         `json:"assistant_id"`
			Input       map[string]any `json:"input"`
			Config      map[string]any `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Config["recursion_limit"].(float64) != recursionLimit {
			http.Error(w, "missing recursion limit", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.runInputs = append(f.runInputs, body.Input)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "run-1"})
	})
	mux.HandleFunc("GET /api/v1/threads/{thread}/runs/{run}/join", func(w http.ResponseWriter, _ *http.Request) {
		cur := f.joinsInFlight.Add(1)
		defer f.joinsInFlight.Add(-1)
		for {
			observed := f.maxJoins.Load()
			if cur <= observed || f.maxJoins.CompareAndSwap(observed, cur) {
				break
			}
		}
		if f.joinDelay > 0 {
			time.Sleep(f.joinDelay)
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/threads/{thread}/state", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"values": map[string]any{"summary": "looks good"},
		})
	})
	mux.HandleFunc("GET /api/v1/runs/{run}", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{
			"prompt_tokens":     100,
			"completion_tokens": 200,
			"total_tokens":      300,
		})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEngine) lastInput(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runInputs) == 0 {
		t.Fatal("no run was created")
	}
	return f.runInputs[len(f.runInputs)-1]
}

func newTestAdapter(f *fakeEngine, cfg config.EngineConfig) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = f.srv.URL
	}
	if cfg.TelemetryURL == "" {
		cfg.TelemetryURL = f.srv.URL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4"
	}
	client := NewClient(cfg.BaseURL, cfg.TelemetryURL, f.srv.Client())
	return NewAdapter(client, cfg, fakeStore{}, discardLogger())
}

func TestRunReviewCommitTarget(t *testing.T) {
	f := newFakeEngine(t)
	a := newTestAdapter(f, config.EngineConfig{ReviewAssistantID: "reviewer"})

	repoID := int64(1)
	req := &core.ReviewRequest{
		TargetKind:   core.TargetCommit,
		TargetRef:    "1:abc123",
		RepositoryID: &repoID,
		RequestedBy:  7,
		CommitHash:   "abc123",
	}
	review := &core.Review{ID: 10, CreatedBy: 7}

	result, err := a.RunReview(context.Background(), review, req)
	if err != nil {
		t.Fatalf("RunReview() failed: %v", err)
	}

	if result.ThreadID != "thread-1" || result.RunID != "run-1" {
		t.Errorf("handles = (%q, %q), want (thread-1, run-1)", result.ThreadID, result.RunID)
	}

	var values map[string]any
	if err := json.Unmarshal(result.Result, &values); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if values["summary"] != "looks good" {
		t.Errorf("result values = %v", values)
	}

	if result.Usage.TotalTokens != 300 {
		t.Errorf("TotalTokens = %d, want 300", result.Usage.TotalTokens)
	}
	// 100 in / 200 out at gpt-4 rates.
	if result.Usage.Cost != 0.015 {
		t.Errorf("Cost = %v, want 0.015", result.Usage.Cost)
	}

	input := f.lastInput(t)
	if input["user"] != "octocat" || input["repo"] != "hello-world" {
		t.Errorf("repo naming = (%v, %v), want (octocat, hello-world)", input["user"], input["repo"])
	}
	if input["commit_hash"] != "abc123" {
		t.Errorf("commit_hash = %v, want abc123", input["commit_hash"])
	}
	if input["pr_id"] != "" {
		t.Errorf("pr_id = %v, want empty", input["pr_id"])
	}
	if input["user_github_token"] != "gh-token" {
		t.Errorf("user_github_token = %v, want gh-token", input["user_github_token"])
	}
}

func TestRunReviewPullRequestTarget(t *testing.T) {
	f := newFakeEngine(t)
	a := newTestAdapter(f, config.EngineConfig{})

	repoID := int64(1)
	req := &core.ReviewRequest{
		TargetKind:   core.TargetPullRequest,
		TargetRef:    "1#9",
		RepositoryID: &repoID,
		RequestedBy:  7,
		PRNumber:     9,
	}

	if _, err := a.RunReview(context.Background(), &core.Review{ID: 10}, req); err != nil {
		t.Fatalf("RunReview() failed: %v", err)
	}

	input := f.lastInput(t)
	if input["pr_id"] != "9" {
		t.Errorf("pr_id = %v, want %q", input["pr_id"], "9")
	}
	if input["commit_hash"] != "" {
		t.Errorf("commit_hash = %v, want empty", input["commit_hash"])
	}
}

func TestRunReviewAdHocTarget(t *testing.T) {
	f := newFakeEngine(t)
	a := newTestAdapter(f, config.EngineConfig{})

	req := &core.ReviewRequest{
		TargetKind:  core.TargetAdHocDiff,
		TargetRef:   "adhoc:x",
		RequestedBy: 7,
		Files:       map[string]string{"main.go": "package main"},
		Diff:        "+package main",
		Workspace:   core.WorkspaceMeta{WorkspacePath: "/home/dev/proj", GitBranch: "main", IsGitRepo: true},
	}

	if _, err := a.RunReview(context.Background(), &core.Review{ID: 10}, req); err != nil {
		t.Fatalf("RunReview() failed: %v", err)
	}

	input := f.lastInput(t)

	// Files travel as a JSON string, not a nested object.
	filesRaw, ok := input["files"].(string)
	if !ok {
		t.Fatalf("files is %T, want string", input["files"])
	}
	var files map[string]string
	if err := json.Unmarshal([]byte(filesRaw), &files); err != nil {
		t.Fatalf("files string is not JSON: %v", err)
	}
	if files["main.go"] != "package main" {
		t.Errorf("files = %v", files)
	}

	if input["pr_id"] != "" || input["commit_hash"] != "" {
		t.Errorf("pr_id, commit_hash = (%v, %v), want both empty", input["pr_id"], input["commit_hash"])
	}
	if input["diff_str"] != "+package main" {
		t.Errorf("diff_str = %v", input["diff_str"])
	}
	if input["workspace_path"] != "/home/dev/proj" {
		t.Errorf("workspace_path = %v", input["workspace_path"])
	}
}

func TestRunReviewTimeout(t *testing.T) {
	f := newFakeEngine(t)
	f.joinDelay = 200 * time.Millisecond
	a := newTestAdapter(f, config.EngineConfig{Timeout: 50 * time.Millisecond})

	repoID := int64(1)
	req := &core.ReviewRequest{
		TargetKind:   core.TargetCommit,
		RepositoryID: &repoID,
		CommitHash:   "abc123",
	}

	_, err := a.RunReview(context.Background(), &core.Review{ID: 10}, req)
	var timeout *core.EngineTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected EngineTimeoutError, got %v", err)
	}
}

func TestRunReviewUnavailable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", &http.Client{Timeout: 100 * time.Millisecond})
	a := NewAdapter(client, config.EngineConfig{DefaultModel: "gpt-4"}, fakeStore{}, discardLogger())

	repoID := int64(1)
	req := &core.ReviewRequest{
		TargetKind:   core.TargetCommit,
		RepositoryID: &repoID,
		CommitHash:   "abc123",
	}

	_, err := a.RunReview(context.Background(), &core.Review{ID: 10}, req)
	var unavailable *core.EngineUnavailableError
	var timeout *core.EngineTimeoutError
	if !errors.As(err, &unavailable) && !errors.As(err, &timeout) {
		t.Fatalf("expected engine error type, got %v", err)
	}
}

func TestRunReviewSwallowsTelemetryFailure(t *testing.T) {
	f := newFakeEngine(t)
	a := newTestAdapter(f, config.EngineConfig{TelemetryURL: "http://127.0.0.1:1"})

	repoID := int64(1)
	req := &core.ReviewRequest{
		TargetKind:   core.TargetCommit,
		RepositoryID: &repoID,
		CommitHash:   "abc123",
	}

	result, err := a.RunReview(context.Background(), &core.Review{ID: 10}, req)
	if err != nil {
		t.Fatalf("RunReview() failed despite telemetry being a side channel: %v", err)
	}
	if result.Usage != (core.TokenUsage{}) {
		t.Errorf("Usage = %+v, want zero value", result.Usage)
	}
}

func TestSubmitFeedbackFirstMessageContext(t *testing.T) {
	f := newFakeEngine(t)
	a := newTestAdapter(f, config.EngineConfig{FeedbackAssistantID: "feedback"})

	review := &core.Review{
		ID:             10,
		CreatedBy:      7,
		EngineThreadID: "thread-1",
		Result:         json.RawMessage(`{"summary":"original"}`),
	}

	result, err := a.SubmitFeedback(context.Background(), "thread-1", review, "please elaborate", true)
	if err != nil {
		t.Fatalf("SubmitFeedback() failed: %v", err)
	}
	if result.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", result.RunID)
	}

	input := f.lastInput(t)
	if input["feedback"] != "please elaborate" {
		t.Errorf("feedback = %v", input["feedback"])
	}
	original, ok := input["original_review"].(map[string]any)
	if !ok || original["summary"] != "original" {
		t.Errorf("original_review = %v, want the stored result", input["original_review"])
	}
	if input["user_github_token"] != "gh-token" {
		t.Errorf("user_github_token = %v, want gh-token", input["user_github_token"])
	}

	// Follow-up messages must not resend the first-message context.
	if _, err := a.SubmitFeedback(context.Background(), "thread-1", review, "thanks", false); err != nil {
		t.Fatal(err)
	}
	if _, present := f.lastInput(t)["original_review"]; present {
		t.Error("follow-up message carried original_review")
	}
}

func TestSubmitFeedbackSerializedPerThread(t *testing.T) {
	f := newFakeEngine(t)
	f.joinDelay = 50 * time.Millisecond
	a := newTestAdapter(f, config.EngineConfig{})

	review := &core.Review{ID: 10, CreatedBy: 7, EngineThreadID: "thread-1"}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.SubmitFeedback(context.Background(), "thread-1", review, "msg", false); err != nil {
				t.Errorf("SubmitFeedback() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.maxJoins.Load() > 1 {
		t.Errorf("observed %d concurrent runs on one thread, want at most 1", f.maxJoins.Load())
	}

	// Once no feedback call holds or awaits the thread lock its entry must be
	// evicted, or the table grows by one mutex per thread ever spoken to.
	a.mu.Lock()
	remaining := len(a.threadLocks)
	a.mu.Unlock()
	if remaining != 0 {
		t.Errorf("thread lock table holds %d entries after all calls returned, want 0", remaining)
	}
}
