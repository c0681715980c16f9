package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v73/github"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/gate"
	gh "github.com/codehound/reviewhub/internal/github"
	"github.com/codehound/reviewhub/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is the in-memory store backing the handler tests.
type memStore struct {
	storage.Store

	mu      sync.Mutex
	nextID  int64
	users   map[int64]*core.User
	repos   map[int64]*core.Repository
	commits map[string]*core.Commit // keyed by hash
	prs     map[int]*core.PullRequest
	reviews map[int64]*core.Review
	threads map[int64][]core.Thread
	usage   []core.UsageRecord
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[int64]*core.User),
		repos:   make(map[int64]*core.Repository),
		commits: make(map[string]*core.Commit),
		prs:     make(map[int]*core.PullRequest),
		reviews: make(map[int64]*core.Review),
		threads: make(map[int64][]core.Thread),
	}
}

func (s *memStore) GetUser(_ context.Context, id int64) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func (s *memStore) GetUserByGitHubID(_ context.Context, githubID string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.GitHubID == githubID {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) GetRepositoryByFullName(_ context.Context, fullName string) (*core.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if r.FullName == fullName {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) GetRepository(_ context.Context, id int64) (*core.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}

func (s *memStore) GetCommitByHash(_ context.Context, _ int64, hash string) (*core.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (s *memStore) UpsertCommit(_ context.Context, commit *core.Commit) (*core.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *commit
	stored.ID = s.nextID
	s.commits[commit.CommitHash] = &stored
	return &stored, nil
}

func (s *memStore) GetPullRequestByNumber(_ context.Context, _ int64, prNumber int) (*core.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[prNumber]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return pr, nil
}

func (s *memStore) UpsertPullRequest(_ context.Context, pr *core.PullRequest) (*core.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *pr
	stored.ID = s.nextID
	s.prs[pr.PRNumber] = &stored
	return &stored, nil
}

func (s *memStore) GetReview(_ context.Context, id int64) (*core.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *memStore) CreateReviewForTarget(_ context.Context, review *core.Review) (bool, *core.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if review.TargetKind != core.TargetAdHocDiff {
		for _, existing := range s.reviews {
			if existing.TargetKind == review.TargetKind &&
				existing.TargetRef == review.TargetRef &&
				!existing.Status.IsTerminal() {
				copied := *existing
				return false, &copied, nil
			}
		}
	}
	s.nextID++
	created := *review
	created.ID = s.nextID
	created.Status = core.StatusPending
	s.reviews[created.ID] = &created
	copied := created
	return true, &copied, nil
}

func (s *memStore) ListReviewsByCommitHash(_ context.Context, hash string) ([]core.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Review
	for _, r := range s.reviews {
		if r.TargetKind == core.TargetCommit && r.CommitID != nil {
			out = append(out, *r)
		}
	}
	_ = hash
	return out, nil
}

func (s *memStore) ListReviewsByPullRequest(_ context.Context, _ int64) ([]core.Review, error) {
	return nil, nil
}

func (s *memStore) ListThreadsByReview(_ context.Context, reviewID int64) ([]core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[reviewID], nil
}

func (s *memStore) CreateThread(_ context.Context, thread *core.Thread) (*core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *thread
	stored.ID = s.nextID
	s.threads[thread.ReviewID] = append(s.threads[thread.ReviewID], stored)
	return &stored, nil
}

func (s *memStore) InsertUsageRecord(_ context.Context, rec *core.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *rec)
	return nil
}

// fakeDispatcher records dispatched tasks.
type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []*core.ReviewTask
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task *core.ReviewTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *fakeDispatcher) Depth() int { return 0 }
func (d *fakeDispatcher) Stop()      {}

// fakeReviewEngine serves the feedback endpoint tests.
type fakeReviewEngine struct {
	feedback *core.FeedbackResult
	err      error
}

func (e *fakeReviewEngine) RunReview(context.Context, *core.Review, *core.ReviewRequest) (*core.EngineResult, error) {
	return nil, errors.New("not used")
}

func (e *fakeReviewEngine) SubmitFeedback(context.Context, string, *core.Review, string, bool) (*core.FeedbackResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.feedback, nil
}

// fakeGitHub is the mirror client double.
type fakeGitHub struct {
	gh.Client
	commit       *github.RepositoryCommit
	collaborator bool
	pulls        []*github.PullRequest
	pull         *github.PullRequest
	err          error
}

func (f *fakeGitHub) GetCommit(context.Context, string, string, string) (*github.RepositoryCommit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.commit, nil
}

func (f *fakeGitHub) IsCollaborator(context.Context, string, string, string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.collaborator, nil
}

type fixture struct {
	store      *memStore
	dispatcher *fakeDispatcher
	engine     *fakeReviewEngine
	github     *fakeGitHub
	handler    *ReviewHandler
}

func newFixture() *fixture {
	store := newMemStore()
	store.users[7] = &core.User{ID: 7, Username: "octocat", GitHubAccessToken: "gh-token"}
	store.repos[1] = &core.Repository{ID: 1, FullName: "octocat/hello-world"}
	store.commits["abc123"] = &core.Commit{ID: 100, RepositoryID: 1, CommitHash: "abc123"}

	dispatcher := &fakeDispatcher{}
	engine := &fakeReviewEngine{}
	mirror := &fakeGitHub{}
	h := NewReviewHandler(
		store,
		gate.New(store, discardLogger()),
		dispatcher,
		engine,
		func(context.Context, string) gh.Client { return mirror },
		discardLogger(),
	)
	return &fixture{store: store, dispatcher: dispatcher, engine: engine, github: mirror, handler: h}
}

func authedRequest(t *testing.T, method, target string, body any, userID int64) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != 0 {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID, Username: "octocat"}))
	}
	return req
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body
}

func TestTriggerCreatesReview(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "abc123"}, 7)
	rec := httptest.NewRecorder()

	f.handler.Trigger(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["status"] != string(core.StatusPending) {
		t.Errorf("status field = %v, want %q", body["status"], core.StatusPending)
	}
	if len(f.dispatcher.tasks) != 1 {
		t.Fatalf("dispatched %d tasks, want 1", len(f.dispatcher.tasks))
	}
	if f.dispatcher.tasks[0].Request.CommitHash != "abc123" {
		t.Errorf("dispatched commit = %q", f.dispatcher.tasks[0].Request.CommitHash)
	}
}

func TestTriggerUnknownRepository(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 99, "commit_hash": "abc123"}, 7)
	rec := httptest.NewRecorder()

	f.handler.Trigger(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerFetchesUnknownCommitFromMirror(t *testing.T) {
	f := newFixture()
	f.github.commit = &github.RepositoryCommit{
		SHA: github.Ptr("fresh99"),
		Commit: &github.Commit{
			Message: github.Ptr("new commit"),
		},
	}

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "fresh99"}, 7)
	rec := httptest.NewRecorder()

	f.handler.Trigger(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body)
	}
	if _, ok := f.store.commits["fresh99"]; !ok {
		t.Error("mirror commit was not stored locally")
	}
}

func TestTriggerWithoutTokenForUnknownCommit(t *testing.T) {
	f := newFixture()
	f.store.users[7].GitHubAccessToken = ""

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "fresh99"}, 7)
	rec := httptest.NewRecorder()

	f.handler.Trigger(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403; body: %s", rec.Code, rec.Body)
	}
}

func TestTriggerUpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"commit not found upstream", &core.UpstreamNotFoundError{Target: "commit"}, http.StatusNotFound},
		{"malformed sha", &core.UpstreamUnprocessableError{Target: "commit"}, http.StatusUnprocessableEntity},
		{"access denied", &core.PermissionDeniedError{Message: "denied"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.github.err = tt.err

			req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
				map[string]any{"repository_id": 1, "commit_hash": "fresh99"}, 7)
			rec := httptest.NewRecorder()

			f.handler.Trigger(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTriggerDuplicateConflict(t *testing.T) {
	f := newFixture()

	first := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "abc123"}, 7)
	rec := httptest.NewRecorder()
	f.handler.Trigger(rec, first)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first trigger status = %d", rec.Code)
	}
	firstBody := decodeBody(t, rec)

	second := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "abc123"}, 7)
	rec = httptest.NewRecorder()
	f.handler.Trigger(rec, second)

	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate trigger status = %d, want 409", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["review_id"] != firstBody["review_id"] {
		t.Errorf("conflict review_id = %v, want %v", body["review_id"], firstBody["review_id"])
	}
	if len(f.dispatcher.tasks) != 1 {
		t.Errorf("dispatched %d tasks, want 1", len(f.dispatcher.tasks))
	}
}

func TestTriggerQueueFull(t *testing.T) {
	f := newFixture()
	f.dispatcher.err = errors.New("job queue is full")

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "abc123"}, 7)
	rec := httptest.NewRecorder()

	f.handler.Trigger(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestTriggerRequiresAuth(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/trigger",
		map[string]any{"repository_id": 1, "commit_hash": "abc123"}, 0)
	rec := httptest.NewRecorder()

	f.handler.Trigger(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestEditorReviewAccepted(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/editor", map[string]any{
		"files":    map[string]string{"main.go": "package main"},
		"diff_str": "+package main",
	}, 7)
	rec := httptest.NewRecorder()

	f.handler.EditorReview(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["status"] != string(core.StatusProcessing) {
		t.Errorf("status field = %v, want %q", body["status"], core.StatusProcessing)
	}
	if body["task_id"] == "" || body["task_id"] == nil {
		t.Error("missing task_id")
	}
	reviewID := int64(body["review_id"].(float64))
	if body["channel"] != core.ReviewGroup(reviewID) {
		t.Errorf("channel = %v, want %q", body["channel"], core.ReviewGroup(reviewID))
	}
	if body["user_channel"] != core.UserGroup(7) {
		t.Errorf("user_channel = %v, want %q", body["user_channel"], core.UserGroup(7))
	}
	if len(f.dispatcher.tasks) != 1 {
		t.Errorf("dispatched %d tasks, want 1", len(f.dispatcher.tasks))
	}
}

func TestEditorReviewRejectsBadPayload(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/editor", map[string]any{
		"files": "not-a-map",
	}, 7)
	rec := httptest.NewRecorder()

	f.handler.EditorReview(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Error("invalid payload was dispatched")
	}
}

func TestFeedbackRequiresEngineThread(t *testing.T) {
	f := newFixture()
	f.store.reviews[50] = &core.Review{ID: 50, Status: core.StatusCompleted, CreatedBy: 7}

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/50/feedback",
		map[string]any{"feedback": "explain more"}, 7)
	req = withURLParam(req, "reviewID", "50")
	rec := httptest.NewRecorder()

	f.handler.Feedback(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestFeedbackFirstMessageCreatesThread(t *testing.T) {
	f := newFixture()
	f.store.reviews[50] = &core.Review{
		ID:             50,
		Status:         core.StatusCompleted,
		CreatedBy:      7,
		EngineThreadID: "thread-1",
		Result:         json.RawMessage(`{"summary":"ok"}`),
	}
	f.engine.feedback = &core.FeedbackResult{
		FeedbackData: json.RawMessage(`{"reply":"sure"}`),
		Usage:        core.TokenUsage{InputTokens: 10, OutputTokens: 20, Cost: 0.001},
		Model:        "cerebras::llama-3.3-70b",
	}

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/50/feedback",
		map[string]any{"feedback": "explain more"}, 7)
	req = withURLParam(req, "reviewID", "50")
	rec := httptest.NewRecorder()

	f.handler.Feedback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	reply := body["feedback_data"].(map[string]any)
	if reply["reply"] != "sure" {
		t.Errorf("feedback_data = %v", body["feedback_data"])
	}
	if len(f.store.threads[50]) != 1 {
		t.Errorf("threads created = %d, want 1", len(f.store.threads[50]))
	}
	if len(f.store.usage) != 1 {
		t.Errorf("usage records = %d, want 1", len(f.store.usage))
	} else if f.store.usage[0].Model != "cerebras::llama-3.3-70b" {
		t.Errorf("usage record model = %q, want the engine model", f.store.usage[0].Model)
	}
}

func TestReReviewRefusesLiveReview(t *testing.T) {
	f := newFixture()
	f.store.reviews[50] = &core.Review{ID: 50, Status: core.StatusInProgress, CreatedBy: 7}

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/50/re-review", nil, 7)
	req = withURLParam(req, "reviewID", "50")
	rec := httptest.NewRecorder()

	f.handler.ReReview(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestReReviewCreatesChildReview(t *testing.T) {
	f := newFixture()
	origReq, _ := core.RequestFromManualTrigger(1, "abc123", 7)
	raw, _ := json.Marshal(origReq)
	f.store.reviews[50] = &core.Review{
		ID:         50,
		TargetKind: core.TargetCommit,
		TargetRef:  "1:abc123",
		Status:     core.StatusCompleted,
		CreatedBy:  7,
		Request:    raw,
	}

	req := authedRequest(t, http.MethodPost, "/api/v1/reviews/50/re-review", nil, 7)
	req = withURLParam(req, "reviewID", "50")
	rec := httptest.NewRecorder()

	f.handler.ReReview(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if int64(body["parent_review_id"].(float64)) != 50 {
		t.Errorf("parent_review_id = %v, want 50", body["parent_review_id"])
	}
	childID := int64(body["review_id"].(float64))
	child := f.store.reviews[childID]
	if child == nil || child.ParentReviewID == nil || *child.ParentReviewID != 50 {
		t.Error("child review does not point back at its parent")
	}
}

func TestHistoryRejectsUnknownContext(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodGet, "/api/v1/reviews/history?context=branch&id=x", nil, 7)
	rec := httptest.NewRecorder()

	f.handler.History(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReviewAccessForStrangers(t *testing.T) {
	repoID := int64(1)
	setup := func(f *fixture) {
		f.store.users[8] = &core.User{ID: 8, Username: "stranger", GitHubAccessToken: "gh-token-8"}
		f.store.reviews[50] = &core.Review{
			ID:             50,
			TargetKind:     core.TargetCommit,
			RepositoryID:   &repoID,
			Status:         core.StatusCompleted,
			CreatedBy:      7,
			EngineThreadID: "thread-1",
		}
	}

	t.Run("get denied for non-collaborator", func(t *testing.T) {
		f := newFixture()
		setup(f)

		req := authedRequest(t, http.MethodGet, "/api/v1/reviews/50", nil, 8)
		req = withURLParam(req, "reviewID", "50")
		rec := httptest.NewRecorder()

		f.handler.Get(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403; body: %s", rec.Code, rec.Body)
		}
	})

	t.Run("feedback denied for non-collaborator", func(t *testing.T) {
		f := newFixture()
		setup(f)

		req := authedRequest(t, http.MethodPost, "/api/v1/reviews/50/feedback",
			map[string]any{"feedback": "let me in"}, 8)
		req = withURLParam(req, "reviewID", "50")
		rec := httptest.NewRecorder()

		f.handler.Feedback(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403; body: %s", rec.Code, rec.Body)
		}
	})

	t.Run("re-review denied for non-collaborator", func(t *testing.T) {
		f := newFixture()
		setup(f)

		req := authedRequest(t, http.MethodPost, "/api/v1/reviews/50/re-review", nil, 8)
		req = withURLParam(req, "reviewID", "50")
		rec := httptest.NewRecorder()

		f.handler.ReReview(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403; body: %s", rec.Code, rec.Body)
		}
		if len(f.dispatcher.tasks) != 0 {
			t.Error("denied re-review was dispatched")
		}
	})

	t.Run("get allowed for repository owner", func(t *testing.T) {
		f := newFixture()
		setup(f)
		f.store.repos[1].OwnerID = 8

		req := authedRequest(t, http.MethodGet, "/api/v1/reviews/50", nil, 8)
		req = withURLParam(req, "reviewID", "50")
		rec := httptest.NewRecorder()

		f.handler.Get(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200; body: %s", rec.Code, rec.Body)
		}
	})

	t.Run("get allowed for collaborator", func(t *testing.T) {
		f := newFixture()
		setup(f)
		f.github.collaborator = true

		req := authedRequest(t, http.MethodGet, "/api/v1/reviews/50", nil, 8)
		req = withURLParam(req, "reviewID", "50")
		rec := httptest.NewRecorder()

		f.handler.Get(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200; body: %s", rec.Code, rec.Body)
		}
	})
}

func TestGetAdHocReviewCreatorOnly(t *testing.T) {
	f := newFixture()
	f.store.users[8] = &core.User{ID: 8, Username: "stranger", GitHubAccessToken: "gh-token-8"}
	f.store.reviews[60] = &core.Review{
		ID:         60,
		TargetKind: core.TargetAdHocDiff,
		Status:     core.StatusCompleted,
		CreatedBy:  7,
	}

	req := authedRequest(t, http.MethodGet, "/api/v1/reviews/60", nil, 8)
	req = withURLParam(req, "reviewID", "60")
	rec := httptest.NewRecorder()

	f.handler.Get(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger status = %d, want 403", rec.Code)
	}

	req = authedRequest(t, http.MethodGet, "/api/v1/reviews/60", nil, 7)
	req = withURLParam(req, "reviewID", "60")
	rec = httptest.NewRecorder()

	f.handler.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("creator status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
}

func TestHistoryOmitsInaccessibleReviews(t *testing.T) {
	f := newFixture()
	f.store.users[8] = &core.User{ID: 8, Username: "stranger", GitHubAccessToken: "gh-token-8"}
	repoID := int64(1)
	commitID := int64(100)
	f.store.reviews[51] = &core.Review{
		ID: 51, TargetKind: core.TargetCommit, RepositoryID: &repoID, CommitID: &commitID,
		Status: core.StatusCompleted, CreatedBy: 8,
	}
	f.store.reviews[52] = &core.Review{
		ID: 52, TargetKind: core.TargetCommit, RepositoryID: &repoID, CommitID: &commitID,
		Status: core.StatusCompleted, CreatedBy: 7,
	}

	req := authedRequest(t, http.MethodGet, "/api/v1/reviews/history?context=commit&id=abc123", nil, 8)
	rec := httptest.NewRecorder()

	f.handler.History(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	var views []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("response is not a JSON list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("visible reviews = %d, want only the caller's own", len(views))
	}
	if int64(views[0]["id"].(float64)) != 51 {
		t.Errorf("visible review id = %v, want 51", views[0]["id"])
	}
}

func TestGetReviewNotFound(t *testing.T) {
	f := newFixture()
	req := authedRequest(t, http.MethodGet, "/api/v1/reviews/999", nil, 7)
	req = withURLParam(req, "reviewID", "999")
	rec := httptest.NewRecorder()

	f.handler.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
