// Package handler provides the HTTP handlers for the review service.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v73/github"

	"github.com/codehound/reviewhub/internal/config"
	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/gate"
	"github.com/codehound/reviewhub/internal/storage"
)

// WebhookHandler processes incoming webhooks from GitHub.
type WebhookHandler struct {
	cfg        *config.Config
	store      storage.Store
	gate       *gate.Gate
	dispatcher core.JobDispatcher
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(cfg *config.Config, store storage.Store, g *gate.Gate, dispatcher core.JobDispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		cfg:        cfg,
		store:      store,
		gate:       g,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Handle validates the payload signature and routes the event.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, []byte(h.cfg.GitHubWebhookSecret))
	if err != nil {
		h.logger.Error("invalid webhook payload signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.logger.Error("could not parse webhook", "error", err)
		http.Error(w, "Could not parse webhook", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.PushEvent:
		h.handlePush(r.Context(), w, e)
	case *github.PullRequestEvent:
		h.handlePullRequest(r.Context(), w, e)
	default:
		h.logger.Debug("ignoring unhandled webhook event type", "type", github.WebHookType(r))
		_, _ = fmt.Fprint(w, "Event type not handled")
	}
}

// handlePush turns the head commit of a push into a commit review. Pushes to
// repositories the service does not track are acknowledged and dropped.
func (h *WebhookHandler) handlePush(ctx context.Context, w http.ResponseWriter, event *github.PushEvent) {
	repo, user, ok := h.resolveActors(ctx, w, event.GetRepo().GetFullName(), fmt.Sprint(event.GetSender().GetID()))
	if !ok {
		return
	}

	if head := event.GetHeadCommit(); head != nil && head.GetID() != "" {
		commit := &core.Commit{
			RepositoryID: repo.ID,
			CommitHash:   head.GetID(),
			Message:      head.GetMessage(),
			URL:          head.GetURL(),
		}
		if _, err := h.store.UpsertCommit(ctx, commit); err != nil {
			h.logger.Error("failed to store pushed commit", "repo", repo.FullName, "error", err)
		}
	}

	req, err := core.RequestFromPushEvent(event, repo.ID, user.ID)
	if err != nil {
		h.logger.Debug("ignoring push event", "reason", err.Error(), "repo", repo.FullName)
		_, _ = fmt.Fprint(w, "Push ignored")
		return
	}

	h.admitAndDispatch(ctx, w, req, repo.FullName)
}

// handlePullRequest reviews opened and synchronized pull requests.
func (h *WebhookHandler) handlePullRequest(ctx context.Context, w http.ResponseWriter, event *github.PullRequestEvent) {
	action := event.GetAction()
	if action != "opened" && action != "synchronize" && action != "reopened" {
		h.logger.Debug("ignoring pull request action", "action", action)
		_, _ = fmt.Fprint(w, "Action not handled")
		return
	}

	repo, user, ok := h.resolveActors(ctx, w, event.GetRepo().GetFullName(), fmt.Sprint(event.GetSender().GetID()))
	if !ok {
		return
	}

	pr := &core.PullRequest{
		RepositoryID:   repo.ID,
		PRNumber:       event.GetPullRequest().GetNumber(),
		Title:          event.GetPullRequest().GetTitle(),
		AuthorGitHubID: fmt.Sprint(event.GetPullRequest().GetUser().GetID()),
	}
	stored, err := h.store.UpsertPullRequest(ctx, pr)
	if err != nil {
		h.logger.Error("failed to store pull request", "repo", repo.FullName, "error", err)
		http.Error(w, "Failed to store pull request", http.StatusInternalServerError)
		return
	}

	req, err := core.RequestFromPullRequest(repo.ID, stored.PRNumber, user.ID)
	if err != nil {
		h.logger.Debug("ignoring pull request event", "reason", err.Error(), "repo", repo.FullName)
		_, _ = fmt.Fprint(w, "Pull request ignored")
		return
	}

	h.admitAndDispatch(ctx, w, req, repo.FullName)
}

// resolveActors looks up the local repository and the sending user. Unknown
// actors acknowledge the delivery without scheduling work so GitHub does not
// retry.
func (h *WebhookHandler) resolveActors(ctx context.Context, w http.ResponseWriter, fullName, senderGitHubID string) (*core.Repository, *core.User, bool) {
	repo, err := h.store.GetRepositoryByFullName(ctx, fullName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Debug("ignoring event for untracked repository", "repo", fullName)
			_, _ = fmt.Fprint(w, "Repository not tracked")
			return nil, nil, false
		}
		h.logger.Error("failed to look up repository", "repo", fullName, "error", err)
		http.Error(w, "Repository lookup failed", http.StatusInternalServerError)
		return nil, nil, false
	}

	user, err := h.store.GetUserByGitHubID(ctx, senderGitHubID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Debug("ignoring event from unknown sender", "repo", fullName, "sender_github_id", senderGitHubID)
			_, _ = fmt.Fprint(w, "Sender not registered")
			return nil, nil, false
		}
		h.logger.Error("failed to look up sender", "sender_github_id", senderGitHubID, "error", err)
		http.Error(w, "User lookup failed", http.StatusInternalServerError)
		return nil, nil, false
	}

	return repo, user, true
}

// admitAndDispatch runs the shared admission/queueing tail of both event
// paths. A live duplicate is a normal outcome for webhook retries.
func (h *WebhookHandler) admitAndDispatch(ctx context.Context, w http.ResponseWriter, req *core.ReviewRequest, repoFullName string) {
	result, err := h.gate.Admit(ctx, req, nil)
	if err != nil {
		var conflict *core.ConflictError
		if errors.As(err, &conflict) {
			h.logger.Info("review already in flight for target",
				"repo", repoFullName, "review_id", conflict.Existing.ID)
			w.WriteHeader(http.StatusAccepted)
			_, _ = fmt.Fprint(w, "Review already in progress")
			return
		}
		h.logger.Error("failed to admit review", "repo", repoFullName, "error", err)
		http.Error(w, "Failed to start review job", http.StatusInternalServerError)
		return
	}

	if err := h.dispatcher.Dispatch(ctx, &core.ReviewTask{Review: result.Review, Request: req}); err != nil {
		h.logger.Error("failed to dispatch review job", "error", err, "repo", repoFullName)
		http.Error(w, "Failed to start review job", http.StatusInternalServerError)
		return
	}

	h.logger.Info("review job dispatched", "repo", repoFullName, "review_id", result.Review.ID)
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprint(w, "Review job accepted")
}
