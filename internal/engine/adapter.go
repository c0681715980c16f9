package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codehound/reviewhub/internal/config"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/storage"
)

// classify maps transport-level failures onto the error taxonomy the state
// machine understands.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.EngineTimeoutError{Err: err}
	}
	var timeout *core.EngineTimeoutError
	var unavailable *core.EngineUnavailableError
	if errors.As(err, &timeout) || errors.As(err, &unavailable) {
		return err
	}
	return &core.EngineUnavailableError{Err: err}
}

// Adapter implements core.ReviewEngine over the engine HTTP protocol:
// open a thread, submit shaped input, await run completion, read back the
// thread state, and best-effort fetch usage metrics.
type Adapter struct {
	client *Client
	cfg    config.EngineConfig
	store  storage.Store
	logger *slog.Logger

	mu          sync.Mutex
	threadLocks map[string]*threadLock
}

// threadLock serializes feedback runs against one engine thread. refs counts
// the holders and waiters so the entry can be evicted once nobody needs it.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewAdapter creates a review engine adapter. The store supplies per-user
// GitHub tokens and repository metadata for input shaping.
func NewAdapter(client *Client, cfg config.EngineConfig, store storage.Store, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:      client,
		cfg:         cfg,
		store:       store,
		logger:      logger,
		threadLocks: make(map[string]*threadLock),
	}
}

// RunReview executes the full review protocol and blocks until the engine run
// finishes or the wall-clock budget expires.
func (a *Adapter) RunReview(ctx context.Context, review *core.Review, req *core.ReviewRequest) (*core.EngineResult, error) {
	runCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	input, err := a.shapeInput(runCtx, review, req)
	if err != nil {
		return nil, err
	}

	threadID, err := a.client.CreateThread(runCtx)
	if err != nil {
		return nil, err
	}

	runID, err := a.client.CreateRun(runCtx, threadID, a.cfg.ReviewAssistantID, input)
	if err != nil {
		return nil, err
	}

	a.logger.Info("engine run started",
		"review_id", review.ID, "thread_id", threadID, "run_id", runID)

	if err := a.client.JoinRun(runCtx, threadID, runID); err != nil {
		return nil, err
	}

	values, err := a.client.ThreadState(runCtx, threadID)
	if err != nil {
		return nil, err
	}

	model := req.EngineOptions.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	return &core.EngineResult{
		Result:   values,
		Usage:    a.fetchUsage(ctx, runID, model),
		ThreadID: threadID,
		RunID:    runID,
	}, nil
}

// SubmitFeedback sends follow-up feedback into an existing engine thread and
// waits for the reply. Calls against the same thread are serialized: the
// remote engine keeps ordered conversational state per thread.
func (a *Adapter) SubmitFeedback(ctx context.Context, threadID string, review *core.Review, feedback string, firstMessage bool) (*core.FeedbackResult, error) {
	lock := a.acquireThreadLock(threadID)
	defer a.releaseThreadLock(threadID, lock)

	runCtx := ctx
	if a.cfg.FeedbackTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.FeedbackTimeout)
		defer cancel()
	}

	input := map[string]any{
		"messages":    [][2]string{{"user", feedback}},
		"feedback":    feedback,
		"reviewer_id": review.CreatedBy,
	}
	if firstMessage {
		var original any
		if len(review.Result) > 0 {
			_ = json.Unmarshal(review.Result, &original)
		}
		input["original_review"] = original
		input["updated_review"] = original
		input["llm_model"] = a.cfg.DefaultModel
		if token, err := a.userToken(runCtx, review.CreatedBy); err == nil {
			input["user_github_token"] = token
		}
	}

	runID, err := a.client.CreateRun(runCtx, threadID, a.cfg.FeedbackAssistantID, input)
	if err != nil {
		return nil, err
	}

	if err := a.client.JoinRun(runCtx, threadID, runID); err != nil {
		return nil, err
	}

	values, err := a.client.ThreadState(runCtx, threadID)
	if err != nil {
		return nil, err
	}

	return &core.FeedbackResult{
		FeedbackData: values,
		Usage:        a.fetchUsage(ctx, runID, a.cfg.DefaultModel),
		Model:        a.cfg.DefaultModel,
		RunID:        runID,
	}, nil
}

// shapeInput builds the engine input object whose fields depend on the review
// kind. Exactly one of pr_id/commit_hash is non-empty; the other is "".
func (a *Adapter) shapeInput(ctx context.Context, review *core.Review, req *core.ReviewRequest) (map[string]any, error) {
	model := req.EngineOptions.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}

	input := map[string]any{
		"llm_model":      model,
		"standards":      emptyIfNil(req.EngineOptions.Standards),
		"metrics":        emptyIfNil(req.EngineOptions.Metrics),
		"temperature":    req.EngineOptions.Temperature,
		"max_tokens":     req.EngineOptions.MaxTokens,
		"max_tool_calls": req.EngineOptions.MaxToolCalls,
	}
	if token, err := a.userToken(ctx, req.RequestedBy); err == nil {
		input["user_github_token"] = token
	}

	switch req.TargetKind {
	case core.TargetAdHocDiff:
		files, err := json.Marshal(req.Files)
		if err != nil {
			return nil, fmt.Errorf("failed to encode files: %w", err)
		}
		repo := req.Workspace.RepositoryName
		if repo == "" {
			repo = "editor-review"
		}
		input["files"] = string(files)
		input["diff_str"] = req.Diff
		input["review_id"] = fmt.Sprint(review.ID)
		input["workspace_path"] = req.Workspace.WorkspacePath
		input["git_branch"] = req.Workspace.GitBranch
		input["is_git_repo"] = req.Workspace.IsGitRepo
		input["repo"] = repo
		input["user"] = ""
		input["pr_id"] = ""
		input["commit_hash"] = ""

	case core.TargetPullRequest:
		owner, name, err := a.repoNames(ctx, req)
		if err != nil {
			return nil, err
		}
		input["user"] = owner
		input["repo"] = name
		input["pr_id"] = fmt.Sprint(req.PRNumber)
		input["commit_hash"] = ""

	case core.TargetCommit:
		owner, name, err := a.repoNames(ctx, req)
		if err != nil {
			return nil, err
		}
		input["user"] = owner
		input["repo"] = name
		input["pr_id"] = ""
		input["commit_hash"] = req.CommitHash

	default:
		return nil, &core.ValidationError{Field: "target_kind", Message: fmt.Sprintf("unknown target kind %q", req.TargetKind)}
	}

	return input, nil
}

func (a *Adapter) repoNames(ctx context.Context, req *core.ReviewRequest) (owner, name string, err error) {
	if req.RepositoryID == nil {
		return "", "", &core.ValidationError{Field: "repository_id", Message: "repository reference is required"}
	}
	repo, err := a.store.GetRepository(ctx, *req.RepositoryID)
	if err != nil {
		return "", "", err
	}
	return repo.OwnerLogin(), repo.Name(), nil
}

func (a *Adapter) userToken(ctx context.Context, userID int64) (string, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		a.logger.Warn("could not resolve user token for engine input", "user_id", userID, "error", err)
		return "", err
	}
	return user.GitHubAccessToken, nil
}

// fetchUsage reads token counts from the telemetry side-channel. Failures are
// swallowed and logged; the review result does not depend on them.
func (a *Adapter) fetchUsage(ctx context.Context, runID, model string) core.TokenUsage {
	usageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	in, out, total, err := a.client.RunUsage(usageCtx, runID)
	if err != nil {
		a.logger.Warn("could not fetch token usage from telemetry", "run_id", runID, "error", err)
		return core.TokenUsage{}
	}
	return core.TokenUsage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		Cost:         Cost(in, out, model),
	}
}

func (a *Adapter) acquireThreadLock(threadID string) *threadLock {
	a.mu.Lock()
	lock, ok := a.threadLocks[threadID]
	if !ok {
		lock = &threadLock{}
		a.threadLocks[threadID] = lock
	}
	lock.refs++
	a.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (a *Adapter) releaseThreadLock(threadID string, lock *threadLock) {
	lock.mu.Unlock()

	a.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(a.threadLocks, threadID)
	}
	a.mu.Unlock()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
