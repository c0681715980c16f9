package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v73/github"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/core"
	gh "github.com/codehound/reviewhub/internal/github"
	"github.com/codehound/reviewhub/internal/storage"
)

// PullRequestHandler serves the mirror-backed pull request endpoints. Unlike
// commits there is no standalone local listing; the mirror is the source of
// truth and fetched rows are synced into the local table as a side effect.
type PullRequestHandler struct {
	store     storage.Store
	githubFor GitHubClientFactory
	logger    *slog.Logger
}

// NewPullRequestHandler wires the pull request endpoints.
func NewPullRequestHandler(store storage.Store, githubFor GitHubClientFactory, logger *slog.Logger) *PullRequestHandler {
	return &PullRequestHandler{store: store, githubFor: githubFor, logger: logger}
}

// List returns the repository's pull requests from the mirror, newest first,
// syncing each row locally so PR-targeted reviews can resolve them later.
func (h *PullRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	repo, mirror, ok := h.repoAndMirror(w, r, identity.UserID)
	if !ok {
		return
	}

	remote, err := mirror.ListPullRequests(r.Context(), repo.OwnerLogin(), repo.Name(), pullListOptionsFromQuery(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]map[string]any, 0, len(remote))
	for _, rp := range remote {
		stored, err := h.store.UpsertPullRequest(r.Context(), gh.PullRequestFromGitHub(repo.ID, rp))
		if err != nil {
			h.logger.Error("failed to store mirrored pull request",
				"repository", repo.FullName, "pr_number", rp.GetNumber(), "error", err)
			continue
		}
		views = append(views, pullRequestView(stored, rp))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"repository_id": repo.ID,
		"pull_requests": views,
	})
}

// Get returns one pull request by number. The local row is served when
// present; otherwise the mirror is consulted and the row synced.
func (h *PullRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	number, err := strconv.Atoi(chi.URLParam(r, "prNumber"))
	if err != nil || number <= 0 {
		writeDetail(w, http.StatusBadRequest, "pull request number must be a positive integer")
		return
	}

	repoID, err := strconv.ParseInt(r.URL.Query().Get("repo_id"), 10, 64)
	if err != nil || repoID <= 0 {
		writeDetail(w, http.StatusBadRequest, "repo_id query parameter is required")
		return
	}

	local, err := h.store.GetPullRequestByNumber(r.Context(), repoID, number)
	if err == nil {
		writeJSON(w, http.StatusOK, pullRequestView(local, nil))
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		writeError(w, h.logger, err)
		return
	}

	repo, mirror, ok := h.repoAndMirror(w, r, identity.UserID)
	if !ok {
		return
	}
	remote, err := mirror.GetPullRequest(r.Context(), repo.OwnerLogin(), repo.Name(), number)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	stored, err := h.store.UpsertPullRequest(r.Context(), gh.PullRequestFromGitHub(repo.ID, remote))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pullRequestView(stored, remote))
}

// repoAndMirror resolves the repository from the repo_id query parameter and
// builds a mirror client with the caller's token. A caller without a stored
// token cannot reach the mirror, which is a 403.
func (h *PullRequestHandler) repoAndMirror(w http.ResponseWriter, r *http.Request, userID int64) (*core.Repository, gh.Client, bool) {
	repoID, err := strconv.ParseInt(r.URL.Query().Get("repo_id"), 10, 64)
	if err != nil || repoID <= 0 {
		writeDetail(w, http.StatusBadRequest, "repo_id query parameter is required")
		return nil, nil, false
	}

	repo, err := h.store.GetRepository(r.Context(), repoID)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, nil, false
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, nil, false
	}
	if user.GitHubAccessToken == "" {
		writeError(w, h.logger, &core.PermissionDeniedError{
			Message: "no GitHub token available to reach the repository mirror",
		})
		return nil, nil, false
	}

	return repo, h.githubFor(r.Context(), user.GitHubAccessToken), true
}

func pullListOptionsFromQuery(r *http.Request) gh.ListPullRequestsOptions {
	q := r.URL.Query()
	opts := gh.ListPullRequestsOptions{
		State:   q.Get("state"),
		Page:    1,
		PerPage: defaultCommitsPerPage,
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		opts.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil && perPage > 0 {
		if perPage > maxCommitsPerPage {
			perPage = maxCommitsPerPage
		}
		opts.PerPage = perPage
	}
	return opts
}

// pullRequestView renders the thin local row, enriched with mirror-only
// fields when the raw mirror object is at hand.
func pullRequestView(pr *core.PullRequest, remote *github.PullRequest) map[string]any {
	v := map[string]any{
		"id":               pr.ID,
		"repository_id":    pr.RepositoryID,
		"pr_number":        pr.PRNumber,
		"title":            pr.Title,
		"author_github_id": pr.AuthorGitHubID,
		"created_at":       pr.CreatedAt,
	}
	if remote != nil {
		v["state"] = remote.GetState()
		v["url"] = remote.GetHTMLURL()
	}
	return v
}
