// Package github provides the read-side client for the GitHub mirror:
// fetching commits and pull requests on behalf of a user.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/codehound/reviewhub/internal/core"
)

// ListCommitsOptions narrows a commit listing.
type ListCommitsOptions struct {
	Page    int
	PerPage int
	Author  string
	Since   time.Time
	Until   time.Time
}

// ListPullRequestsOptions narrows a pull-request listing.
type ListPullRequestsOptions struct {
	State   string
	Page    int
	PerPage int
}

// Client is the subset of the GitHub API the dispatch logic needs.
type Client interface {
	GetCommit(ctx context.Context, owner, repo, sha string) (*github.RepositoryCommit, error)
	ListCommits(ctx context.Context, owner, repo string, opts ListCommitsOptions) ([]*github.RepositoryCommit, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	ListPullRequests(ctx context.Context, owner, repo string, opts ListPullRequestsOptions) ([]*github.PullRequest, error)
	IsCollaborator(ctx context.Context, owner, repo, username string) (bool, error)
}

type client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates a mirror client authenticated with the given user token.
// An empty token yields an unauthenticated client subject to much stricter
// rate limits; callers should prefer degrading to local data instead.
func NewClient(ctx context.Context, token string, logger *slog.Logger) Client {
	httpClient := oauth2.NewClient(ctx, nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &client{gh: github.NewClient(httpClient), logger: logger}
}

// mapError converts GitHub API failures onto the error taxonomy. 404 and 422
// get distinct types because the manual-trigger endpoint maps them to
// different response codes.
func mapError(err error, target string) error {
	if err == nil {
		return nil
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case 404:
			return &core.UpstreamNotFoundError{Target: target}
		case 422:
			return &core.UpstreamUnprocessableError{Target: target}
		case 401, 403:
			return &core.PermissionDeniedError{Message: fmt.Sprintf("access to %s denied by GitHub", target)}
		}
	}
	return fmt.Errorf("github api error for %s: %w", target, err)
}

func (c *client) GetCommit(ctx context.Context, owner, repo, sha string) (*github.RepositoryCommit, error) {
	commit, _, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("commit %s/%s@%s", owner, repo, sha))
	}
	return commit, nil
}

func (c *client) ListCommits(ctx context.Context, owner, repo string, opts ListCommitsOptions) ([]*github.RepositoryCommit, error) {
	ghOpts := &github.CommitsListOptions{
		Author: opts.Author,
		ListOptions: github.ListOptions{
			Page:    opts.Page,
			PerPage: opts.PerPage,
		},
	}
	if !opts.Since.IsZero() {
		ghOpts.Since = opts.Since
	}
	if !opts.Until.IsZero() {
		ghOpts.Until = opts.Until
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, ghOpts)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("commits of %s/%s", owner, repo))
	}
	return commits, nil
}

func (c *client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("pull request %s/%s#%d", owner, repo, number))
	}
	return pr, nil
}

func (c *client) ListPullRequests(ctx context.Context, owner, repo string, opts ListPullRequestsOptions) ([]*github.PullRequest, error) {
	state := opts.State
	if state == "" {
		state = "all"
	}
	ghOpts := &github.PullRequestListOptions{
		State:     state,
		Sort:      "created",
		Direction: "desc",
		ListOptions: github.ListOptions{
			Page:    opts.Page,
			PerPage: opts.PerPage,
		},
	}

	prs, _, err := c.gh.PullRequests.List(ctx, owner, repo, ghOpts)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("pull requests of %s/%s", owner, repo))
	}
	return prs, nil
}

// IsCollaborator reports whether the user has collaborator access to the
// repository. A plain "no" is not an error; transport failures are.
func (c *client) IsCollaborator(ctx context.Context, owner, repo, username string) (bool, error) {
	ok, _, err := c.gh.Repositories.IsCollaborator(ctx, owner, repo, username)
	if err != nil {
		return false, mapError(err, fmt.Sprintf("collaborators of %s/%s", owner, repo))
	}
	return ok, nil
}

// CommitFromGitHub maps a raw mirror commit onto the thin local row.
func CommitFromGitHub(repositoryID int64, gh *github.RepositoryCommit) *core.Commit {
	commit := &core.Commit{
		RepositoryID: repositoryID,
		CommitHash:   gh.GetSHA(),
		Message:      gh.GetCommit().GetMessage(),
		URL:          gh.GetHTMLURL(),
	}
	if author := gh.GetAuthor(); author != nil {
		commit.AuthorGitHubID = fmt.Sprint(author.GetID())
	}
	if committer := gh.GetCommitter(); committer != nil {
		commit.CommitterGitHubID = fmt.Sprint(committer.GetID())
	}
	if date := gh.GetCommit().GetAuthor().GetDate(); !date.IsZero() {
		t := date.Time
		commit.CommittedAt = &t
	}
	return commit
}

// PullRequestFromGitHub maps a raw mirror pull request onto the thin local row.
func PullRequestFromGitHub(repositoryID int64, gh *github.PullRequest) *core.PullRequest {
	pr := &core.PullRequest{
		RepositoryID: repositoryID,
		PRNumber:     gh.GetNumber(),
		Title:        gh.GetTitle(),
	}
	if user := gh.GetUser(); user != nil {
		pr.AuthorGitHubID = fmt.Sprint(user.GetID())
	}
	return pr
}
