package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/gate"
	gh "github.com/codehound/reviewhub/internal/github"
	"github.com/codehound/reviewhub/internal/storage"
)

// GitHubClientFactory builds a mirror client bound to one user's token.
type GitHubClientFactory func(ctx context.Context, token string) gh.Client

// ReviewHandler serves the review trigger, editor, feedback, and read
// endpoints.
type ReviewHandler struct {
	store      storage.Store
	gate       *gate.Gate
	dispatcher core.JobDispatcher
	engine     core.ReviewEngine
	githubFor  GitHubClientFactory
	logger     *slog.Logger
}

// NewReviewHandler wires the review endpoints.
func NewReviewHandler(store storage.Store, g *gate.Gate, dispatcher core.JobDispatcher, engine core.ReviewEngine, githubFor GitHubClientFactory, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		store:      store,
		gate:       g,
		dispatcher: dispatcher,
		engine:     engine,
		githubFor:  githubFor,
		logger:     logger,
	}
}

// Trigger handles the manual commit-review trigger. A commit unknown locally
// is fetched from the mirror with the caller's token and upserted first.
func (h *ReviewHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		RepositoryID int64  `json:"repository_id"`
		CommitHash   string `json:"commit_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.RepositoryID == 0 || body.CommitHash == "" {
		writeDetail(w, http.StatusBadRequest, "repository_id and commit_hash are required")
		return
	}

	repo, err := h.store.GetRepository(r.Context(), body.RepositoryID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.ensureCommit(r.Context(), repo, body.CommitHash, identity.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	req, err := core.RequestFromManualTrigger(repo.ID, body.CommitHash, identity.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.gate.Admit(r.Context(), req, nil)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), &core.ReviewTask{Review: result.Review, Request: req}); err != nil {
		h.logger.Error("failed to dispatch review", "review_id", result.Review.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"detail":    "review accepted but could not be queued, try again later",
			"review_id": result.Review.ID,
			"status":    result.Review.Status,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"detail":    "AI review has been triggered for the commit.",
		"review_id": result.Review.ID,
		"status":    result.Review.Status,
	})
}

// ensureCommit makes sure the commit exists locally, pulling it from the
// mirror when absent. No token means we cannot fetch, which is a 403 to
// distinguish it from an upstream 404.
func (h *ReviewHandler) ensureCommit(ctx context.Context, repo *core.Repository, commitHash string, userID int64) error {
	_, err := h.store.GetCommitByHash(ctx, repo.ID, commitHash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.GitHubAccessToken == "" {
		return &core.PermissionDeniedError{
			Message: fmt.Sprintf("commit %s not found locally and no GitHub token available to fetch it", commitHash),
		}
	}

	mirror := h.githubFor(ctx, user.GitHubAccessToken)
	ghCommit, err := mirror.GetCommit(ctx, repo.OwnerLogin(), repo.Name(), commitHash)
	if err != nil {
		return err
	}

	if _, err := h.store.UpsertCommit(ctx, gh.CommitFromGitHub(repo.ID, ghCommit)); err != nil {
		return err
	}
	h.logger.Info("commit fetched from mirror and stored",
		"repository", repo.FullName, "commit", commitHash)
	return nil
}

// EditorReview handles ad-hoc reviews submitted from the editor. Limits are
// enforced by the normalizer; a valid submission always admits a new review
// and returns 202 with the realtime channel addresses.
func (h *ReviewHandler) EditorReview(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var payload core.EditorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := core.RequestFromEditorPayload(&payload, identity.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.gate.Admit(r.Context(), req, nil)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), &core.ReviewTask{Review: result.Review, Request: req}); err != nil {
		h.logger.Error("failed to dispatch editor review", "review_id", result.Review.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"detail":    "review accepted but could not be queued, try again later",
			"review_id": result.Review.ID,
			"status":    result.Review.Status,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"review_id":    result.Review.ID,
		"status":       core.StatusProcessing,
		"task_id":      uuid.NewString(),
		"message":      "Review has been queued for processing. Subscribe to the channel for real-time updates.",
		"channel":      core.ReviewGroup(result.Review.ID),
		"user_channel": core.UserGroup(identity.UserID),
	})
}

// Get returns a single review with its conversation threads.
func (h *ReviewHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	review, ok := h.reviewFromPath(w, r, identity)
	if !ok {
		return
	}

	threads, err := h.store.ListThreadsByReview(r.Context(), review.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"review":  reviewView(review),
		"threads": threadViews(threads),
	})
}

// History lists past reviews for a commit or pull request. Reviews the caller
// cannot access are omitted rather than erroring the whole listing.
func (h *ReviewHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	contextParam := r.URL.Query().Get("context")
	itemID := r.URL.Query().Get("id")
	if contextParam == "" || itemID == "" {
		writeDetail(w, http.StatusBadRequest, "context and id query parameters are required")
		return
	}

	var (
		reviews []core.Review
		err     error
	)
	switch contextParam {
	case "commit":
		reviews, err = h.store.ListReviewsByCommitHash(r.Context(), itemID)
	case "pr":
		var prID int64
		prID, err = strconv.ParseInt(itemID, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "id must be a pull request id")
			return
		}
		reviews, err = h.store.ListReviewsByPullRequest(r.Context(), prID)
	default:
		writeDetail(w, http.StatusBadRequest, "context must be 'pr' or 'commit'")
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// One access verdict per repository covers every review in the listing.
	repoAccess := make(map[int64]bool)
	views := make([]map[string]any, 0, len(reviews))
	for i := range reviews {
		review := &reviews[i]
		if review.CreatedBy != identity.UserID {
			if review.RepositoryID == nil {
				continue
			}
			verdict, cached := repoAccess[*review.RepositoryID]
			if !cached {
				verdict = h.authorizeReview(r.Context(), identity, review) == nil
				repoAccess[*review.RepositoryID] = verdict
			}
			if !verdict {
				continue
			}
		}
		views = append(views, reviewView(review))
	}
	writeJSON(w, http.StatusOK, views)
}

// Feedback forwards free-text feedback into the review's engine thread and
// returns the engine's reply synchronously.
func (h *ReviewHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	review, found := h.reviewFromPath(w, r, identity)
	if !found {
		return
	}

	var body struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Feedback == "" {
		writeDetail(w, http.StatusBadRequest, "feedback text is required")
		return
	}
	if review.EngineThreadID == "" {
		writeDetail(w, http.StatusConflict, "review has no engine thread yet; wait for it to complete")
		return
	}

	threads, err := h.store.ListThreadsByReview(r.Context(), review.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	firstMessage := len(threads) == 0
	if firstMessage {
		if _, err := h.store.CreateThread(r.Context(), &core.Thread{
			ReviewID:       review.ID,
			EngineThreadID: review.EngineThreadID,
			Title:          fmt.Sprintf("Conversation for review %d", review.ID),
			CreatedBy:      identity.UserID,
		}); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	result, err := h.engine.SubmitFeedback(r.Context(), review.EngineThreadID, review, body.Feedback, firstMessage)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.store.InsertUsageRecord(r.Context(), &core.UsageRecord{
		ReviewID:     review.ID,
		UserID:       identity.UserID,
		Model:        result.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Cost:         result.Usage.Cost,
	}); err != nil {
		h.logger.Error("failed to record feedback usage", "review_id", review.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"feedback_data": json.RawMessage(result.FeedbackData),
		"token_usage":   result.Usage,
	})
}

// ReReview admits a fresh review of the same target, pointing back at the
// original. Terminal reviews are never re-run in place.
func (h *ReviewHandler) ReReview(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	parent, found := h.reviewFromPath(w, r, identity)
	if !found {
		return
	}
	if !parent.Status.IsTerminal() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"detail":    "review is still in flight; wait for it to finish before re-reviewing",
			"review_id": parent.ID,
			"status":    parent.Status,
		})
		return
	}

	var req core.ReviewRequest
	if err := json.Unmarshal(parent.Request, &req); err != nil || req.TargetKind == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "original review request cannot be replayed")
		return
	}
	req.RequestedBy = identity.UserID

	result, err := h.gate.Admit(r.Context(), &req, &parent.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), &core.ReviewTask{Review: result.Review, Request: &req}); err != nil {
		h.logger.Error("failed to dispatch re-review", "review_id", result.Review.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"detail":    "re-review accepted but could not be queued, try again later",
			"review_id": result.Review.ID,
			"status":    result.Review.Status,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"review_id":        result.Review.ID,
		"parent_review_id": parent.ID,
		"status":           result.Review.Status,
	})
}

func (h *ReviewHandler) reviewFromPath(w http.ResponseWriter, r *http.Request, identity *auth.Identity) (*core.Review, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "reviewID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "review id must be an integer")
		return nil, false
	}
	review, err := h.store.GetReview(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	if err := h.authorizeReview(r.Context(), identity, review); err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return review, true
}

// authorizeReview decides whether the caller may see a review: its creator
// always can, the repository owner can, and repository collaborators can. An
// ad-hoc review belongs to its creator alone.
func (h *ReviewHandler) authorizeReview(ctx context.Context, identity *auth.Identity, review *core.Review) error {
	if review.CreatedBy == identity.UserID {
		return nil
	}
	if review.RepositoryID == nil {
		return &core.PermissionDeniedError{Message: "you do not have access to this review"}
	}

	repo, err := h.store.GetRepository(ctx, *review.RepositoryID)
	if err != nil {
		return err
	}
	if repo.OwnerID == identity.UserID {
		return nil
	}

	user, err := h.store.GetUser(ctx, identity.UserID)
	if err != nil {
		return err
	}
	if user.GitHubAccessToken != "" {
		mirror := h.githubFor(ctx, user.GitHubAccessToken)
		ok, err := mirror.IsCollaborator(ctx, repo.OwnerLogin(), repo.Name(), identity.Username)
		if err != nil {
			h.logger.Warn("collaborator check failed, denying access",
				"repository", repo.FullName, "user", identity.Username, "error", err)
		} else if ok {
			return nil
		}
	}
	return &core.PermissionDeniedError{Message: "you do not have access to this review"}
}

func reviewView(r *core.Review) map[string]any {
	view := map[string]any{
		"id":            r.ID,
		"target_kind":   r.TargetKind,
		"status":        r.Status,
		"created_by":    r.CreatedBy,
		"error_message": r.ErrorMessage,
		"created_at":    r.CreatedAt,
		"updated_at":    r.UpdatedAt,
		"token_usage": core.TokenUsage{
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			TotalTokens:  r.TotalTokens,
			Cost:         r.Cost,
		},
	}
	if r.ParentReviewID != nil {
		view["parent_review_id"] = *r.ParentReviewID
	}
	if len(r.Result) > 0 {
		view["result"] = json.RawMessage(r.Result)
	}
	return view
}

func threadViews(threads []core.Thread) []map[string]any {
	views := make([]map[string]any, 0, len(threads))
	for _, t := range threads {
		views = append(views, map[string]any{
			"id":         t.ID,
			"review_id":  t.ReviewID,
			"title":      t.Title,
			"status":     t.Status,
			"created_by": t.CreatedBy,
			"created_at": t.CreatedAt,
		})
	}
	return views
}
