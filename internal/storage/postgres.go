package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/codehound/reviewhub/internal/core"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a Postgres-backed Store.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

const reviewColumns = `id, target_kind, target_ref, repository_id, commit_id, pull_request_id,
	created_by, parent_review_id, status, result, error_message, engine_thread_id,
	engine_run_id, input_tokens, output_tokens, total_tokens, cost, request,
	created_at, updated_at`

func statusStrings(statuses []core.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *postgresStore) CreateReviewForTarget(ctx context.Context, review *core.Review) (bool, *core.Review, error) {
	if review.Request == nil {
		review.Request = json.RawMessage(`{}`)
	}

	// The partial unique index reviews_live_target_idx makes this insert the
	// atomic check-then-create: the first of two concurrent triggers wins,
	// the second hits the conflict and reads the winner's row.
	insert := `
		INSERT INTO reviews (target_kind, target_ref, repository_id, commit_id, pull_request_id,
			created_by, parent_review_id, status, request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (target_kind, target_ref)
			WHERE status IN ('pending', 'processing', 'pending_analysis', 'in_progress')
			  AND target_kind <> 'ad_hoc_diff'
			DO NOTHING
		RETURNING ` + reviewColumns

	var created core.Review
	err := s.db.GetContext(ctx, &created, insert,
		review.TargetKind, review.TargetRef, review.RepositoryID, review.CommitID,
		review.PullRequestID, review.CreatedBy, review.ParentReviewID,
		core.StatusPending, review.Request)
	if err == nil {
		return true, &created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, nil, fmt.Errorf("failed to create review: %w", err)
	}

	existing, err := s.getLiveReviewForTarget(ctx, review.TargetKind, review.TargetRef)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *postgresStore) getLiveReviewForTarget(ctx context.Context, kind core.TargetKind, ref string) (*core.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE target_kind = $1 AND target_ref = $2 AND status = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1`

	var r core.Review
	err := s.db.GetContext(ctx, &r, query, kind, ref, pq.Array(statusStrings(core.NonTerminalStatuses)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The live review turned terminal between the failed insert and
			// this lookup. Treat it as a transient conflict; the caller may
			// simply retry.
			return nil, fmt.Errorf("live review for %s %q vanished during admission", kind, ref)
		}
		return nil, err
	}
	return &r, nil
}

func (s *postgresStore) GetReview(ctx context.Context, id int64) (*core.Review, error) {
	var r core.Review
	err := s.db.GetContext(ctx, &r, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *postgresStore) ListReviewsByCommitHash(ctx context.Context, commitHash string) ([]core.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE commit_id IN (SELECT id FROM commits WHERE commit_hash = $1)
		ORDER BY created_at DESC`

	var reviews []core.Review
	if err := s.db.SelectContext(ctx, &reviews, query, commitHash); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (s *postgresStore) ListReviewsByPullRequest(ctx context.Context, pullRequestID int64) ([]core.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE pull_request_id = $1 ORDER BY created_at DESC`

	var reviews []core.Review
	if err := s.db.SelectContext(ctx, &reviews, query, pullRequestID); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (s *postgresStore) TransitionReview(ctx context.Context, id int64, from []core.Status, to core.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET status = $1, updated_at = now() WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to transition review %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) CompleteReview(ctx context.Context, id int64, result json.RawMessage, usage core.TokenUsage, threadID, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews
		SET status = $1, result = $2, engine_thread_id = $3, engine_run_id = $4,
			input_tokens = $5, output_tokens = $6, total_tokens = $7, cost = $8,
			updated_at = now()
		WHERE id = $9 AND status = ANY($10)`,
		core.StatusCompleted, result, threadID, runID,
		usage.InputTokens, usage.OutputTokens, usage.TotalTokens, usage.Cost,
		id, pq.Array(statusStrings(core.NonTerminalStatuses)))
	if err != nil {
		return false, fmt.Errorf("failed to complete review %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) FailReview(ctx context.Context, id int64, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)`,
		core.StatusFailed, message, id, pq.Array(statusStrings(core.NonTerminalStatuses)))
	if err != nil {
		return false, fmt.Errorf("failed to fail review %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresStore) SweepStuckReviews(ctx context.Context, cutoff time.Time, message string) ([]core.Review, error) {
	query := `
		UPDATE reviews
		SET status = $1, error_message = $2, updated_at = now()
		WHERE status = ANY($3) AND updated_at < $4
		RETURNING ` + reviewColumns

	stuck := []string{
		string(core.StatusProcessing),
		string(core.StatusPendingAnalysis),
		string(core.StatusInProgress),
	}

	var reviews []core.Review
	err := s.db.SelectContext(ctx, &reviews, query, core.StatusFailed, message, pq.Array(stuck), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stuck reviews: %w", err)
	}
	return reviews, nil
}

func (s *postgresStore) GetUser(ctx context.Context, id int64) (*core.User, error) {
	var u core.User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, username, github_id, github_access_token, email, created_at FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *postgresStore) GetUserByGitHubID(ctx context.Context, githubID string) (*core.User, error) {
	var u core.User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, username, github_id, github_access_token, email, created_at FROM users WHERE github_id = $1`, githubID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *postgresStore) GetRepository(ctx context.Context, id int64) (*core.Repository, error) {
	var r core.Repository
	err := s.db.GetContext(ctx, &r,
		`SELECT id, github_native_id, full_name, owner_id, llm_preference, created_at FROM repositories WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *postgresStore) GetRepositoryByFullName(ctx context.Context, fullName string) (*core.Repository, error) {
	var r core.Repository
	err := s.db.GetContext(ctx, &r,
		`SELECT id, github_native_id, full_name, owner_id, llm_preference, created_at FROM repositories WHERE full_name = $1`, fullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

const commitColumns = `id, repository_id, commit_hash, message, author_github_id, committer_github_id, url, committed_at, created_at`

func (s *postgresStore) GetCommitByHash(ctx context.Context, repositoryID int64, commitHash string) (*core.Commit, error) {
	var c core.Commit
	err := s.db.GetContext(ctx, &c,
		`SELECT `+commitColumns+` FROM commits WHERE repository_id = $1 AND commit_hash = $2`,
		repositoryID, commitHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *postgresStore) UpsertCommit(ctx context.Context, commit *core.Commit) (*core.Commit, error) {
	query := `
		INSERT INTO commits (repository_id, commit_hash, message, author_github_id, committer_github_id, url, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository_id, commit_hash) DO UPDATE
		SET message = EXCLUDED.message,
			author_github_id = EXCLUDED.author_github_id,
			committer_github_id = EXCLUDED.committer_github_id,
			url = EXCLUDED.url,
			committed_at = EXCLUDED.committed_at
		RETURNING ` + commitColumns

	var c core.Commit
	err := s.db.GetContext(ctx, &c, query,
		commit.RepositoryID, commit.CommitHash, commit.Message,
		commit.AuthorGitHubID, commit.CommitterGitHubID, commit.URL, commit.CommittedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert commit %s: %w", commit.CommitHash, err)
	}
	return &c, nil
}

func (s *postgresStore) ListCommitsByRepository(ctx context.Context, repositoryID int64) ([]core.Commit, error) {
	var commits []core.Commit
	err := s.db.SelectContext(ctx, &commits,
		`SELECT `+commitColumns+` FROM commits WHERE repository_id = $1 ORDER BY committed_at DESC NULLS LAST`,
		repositoryID)
	if err != nil {
		return nil, err
	}
	return commits, nil
}

func (s *postgresStore) GetPullRequestByNumber(ctx context.Context, repositoryID int64, prNumber int) (*core.PullRequest, error) {
	var pr core.PullRequest
	err := s.db.GetContext(ctx, &pr,
		`SELECT id, repository_id, pr_number, title, author_github_id, created_at
		 FROM pull_requests WHERE repository_id = $1 AND pr_number = $2`,
		repositoryID, prNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pr, nil
}

func (s *postgresStore) UpsertPullRequest(ctx context.Context, pr *core.PullRequest) (*core.PullRequest, error) {
	query := `
		INSERT INTO pull_requests (repository_id, pr_number, title, author_github_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, pr_number) DO UPDATE
		SET title = EXCLUDED.title,
			author_github_id = EXCLUDED.author_github_id
		RETURNING id, repository_id, pr_number, title, author_github_id, created_at`

	var out core.PullRequest
	err := s.db.GetContext(ctx, &out, query,
		pr.RepositoryID, pr.PRNumber, pr.Title, pr.AuthorGitHubID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pull request #%d: %w", pr.PRNumber, err)
	}
	return &out, nil
}

func (s *postgresStore) CreateThread(ctx context.Context, thread *core.Thread) (*core.Thread, error) {
	query := `
		INSERT INTO threads (review_id, engine_thread_id, title, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, review_id, engine_thread_id, title, status, created_by, created_at`

	var t core.Thread
	status := thread.Status
	if status == "" {
		status = "open"
	}
	err := s.db.GetContext(ctx, &t, query,
		thread.ReviewID, thread.EngineThreadID, thread.Title, status, thread.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread for review %d: %w", thread.ReviewID, err)
	}
	return &t, nil
}

func (s *postgresStore) ListThreadsByReview(ctx context.Context, reviewID int64) ([]core.Thread, error) {
	var threads []core.Thread
	err := s.db.SelectContext(ctx, &threads,
		`SELECT id, review_id, engine_thread_id, title, status, created_by, created_at
		 FROM threads WHERE review_id = $1 ORDER BY created_at`, reviewID)
	if err != nil {
		return nil, err
	}
	return threads, nil
}

func (s *postgresStore) InsertUsageRecord(ctx context.Context, rec *core.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (review_id, user_id, model, input_tokens, output_tokens, cost)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ReviewID, rec.UserID, rec.Model, rec.InputTokens, rec.OutputTokens, rec.Cost)
	if err != nil {
		return fmt.Errorf("failed to insert usage record for review %d: %w", rec.ReviewID, err)
	}
	return nil
}
