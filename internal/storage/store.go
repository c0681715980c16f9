// Package storage implements durable persistence for reviews and the thin
// GitHub mirror rows on Postgres.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codehound/reviewhub/internal/core"
)

// Store defines the interface for all database operations.
type Store interface {
	// CreateReviewForTarget is the admission gate's serialization point. It
	// inserts a new pending review unless a non-terminal review already
	// exists for the same target, in which case it returns that review with
	// created=false. The check-then-create runs as a single conflict-guarded
	// insert so concurrent triggers cannot both create.
	CreateReviewForTarget(ctx context.Context, review *core.Review) (created bool, existing *core.Review, err error)

	GetReview(ctx context.Context, id int64) (*core.Review, error)
	ListReviewsByCommitHash(ctx context.Context, commitHash string) ([]core.Review, error)
	ListReviewsByPullRequest(ctx context.Context, pullRequestID int64) ([]core.Review, error)

	// TransitionReview conditionally moves a review from any of the given
	// statuses to the next one, bumping updated_at. It reports whether a row
	// changed; false means the review was already past the expected state.
	TransitionReview(ctx context.Context, id int64, from []core.Status, to core.Status) (bool, error)

	// CompleteReview atomically records the terminal success state together
	// with the engine result, handles, and usage. Returns false if the
	// review was already terminal.
	CompleteReview(ctx context.Context, id int64, result json.RawMessage, usage core.TokenUsage, threadID, runID string) (bool, error)

	// FailReview records the terminal failure state with a human-readable
	// message. Returns false if the review was already terminal.
	FailReview(ctx context.Context, id int64, message string) (bool, error)

	// SweepStuckReviews fails every non-pending, non-terminal review whose
	// last update is older than cutoff and returns the affected reviews.
	SweepStuckReviews(ctx context.Context, cutoff time.Time, message string) ([]core.Review, error)

	GetUser(ctx context.Context, id int64) (*core.User, error)
	GetUserByGitHubID(ctx context.Context, githubID string) (*core.User, error)

	GetRepository(ctx context.Context, id int64) (*core.Repository, error)
	GetRepositoryByFullName(ctx context.Context, fullName string) (*core.Repository, error)

	GetCommitByHash(ctx context.Context, repositoryID int64, commitHash string) (*core.Commit, error)
	UpsertCommit(ctx context.Context, commit *core.Commit) (*core.Commit, error)
	ListCommitsByRepository(ctx context.Context, repositoryID int64) ([]core.Commit, error)

	GetPullRequestByNumber(ctx context.Context, repositoryID int64, prNumber int) (*core.PullRequest, error)
	UpsertPullRequest(ctx context.Context, pr *core.PullRequest) (*core.PullRequest, error)

	CreateThread(ctx context.Context, thread *core.Thread) (*core.Thread, error)
	ListThreadsByReview(ctx context.Context, reviewID int64) ([]core.Thread, error)

	InsertUsageRecord(ctx context.Context, rec *core.UsageRecord) error
}
