package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codehound/reviewhub/internal/auth"
	"github.com/codehound/reviewhub/internal/core"
	gh "github.com/codehound/reviewhub/internal/github"
	"github.com/codehound/reviewhub/internal/storage"
)

const (
	defaultCommitsPerPage = 30
	maxCommitsPerPage     = 100
)

// CommitHandler serves the merged local/mirror commit listing.
type CommitHandler struct {
	store     storage.Store
	githubFor GitHubClientFactory
	logger    *slog.Logger
}

// NewCommitHandler wires the commit listing endpoint.
func NewCommitHandler(store storage.Store, githubFor GitHubClientFactory, logger *slog.Logger) *CommitHandler {
	return &CommitHandler{store: store, githubFor: githubFor, logger: logger}
}

// List returns the repository's commits, merging locally stored rows with a
// page from the GitHub mirror. When the caller has no GitHub token the
// listing degrades to local rows only.
func (h *CommitHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	repoID, err := strconv.ParseInt(r.URL.Query().Get("repo_id"), 10, 64)
	if err != nil || repoID <= 0 {
		writeDetail(w, http.StatusBadRequest, "repo_id query parameter is required")
		return
	}

	repo, err := h.store.GetRepository(r.Context(), repoID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	local, err := h.store.ListCommitsByRepository(r.Context(), repoID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	byHash := make(map[string]map[string]any, len(local))
	views := make([]map[string]any, 0, len(local))
	for i := range local {
		v := commitView(&local[i], true)
		byHash[local[i].CommitHash] = v
		views = append(views, v)
	}

	user, err := h.store.GetUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	source := "local"
	if user.GitHubAccessToken != "" {
		mirror := h.githubFor(r.Context(), user.GitHubAccessToken)
		remote, err := mirror.ListCommits(r.Context(), repo.OwnerLogin(), repo.Name(), listOptionsFromQuery(r))
		if err != nil {
			// Stale local data beats a hard failure here.
			h.logger.Warn("mirror commit listing failed, serving local rows only",
				"repository", repo.FullName, "error", err)
		} else {
			source = "merged"
			for _, rc := range remote {
				if _, seen := byHash[rc.GetSHA()]; seen {
					continue
				}
				c := gh.CommitFromGitHub(repoID, rc)
				stored, err := h.store.UpsertCommit(r.Context(), c)
				if err != nil {
					h.logger.Error("failed to store mirrored commit",
						"repository", repo.FullName, "commit", c.CommitHash, "error", err)
					continue
				}
				v := commitView(stored, false)
				byHash[stored.CommitHash] = v
				views = append(views, v)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"repository_id": repoID,
		"source":        source,
		"commits":       views,
	})
}

func listOptionsFromQuery(r *http.Request) gh.ListCommitsOptions {
	q := r.URL.Query()
	opts := gh.ListCommitsOptions{
		Author:  q.Get("author"),
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
	if since, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = since
	}
	if until, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = until
	}
	return opts
}

func commitView(c *core.Commit, local bool) map[string]any {
	v := map[string]any{
		"id":            c.ID,
		"repository_id": c.RepositoryID,
		"commit_hash":   c.CommitHash,
		"message":       c.Message,
		"url":           c.URL,
		"local":         local,
	}
	if c.CommittedAt != nil {
		v["committed_at"] = *c.CommittedAt
	}
	return v
}
