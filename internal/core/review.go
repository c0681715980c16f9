// Package core defines the essential domain types and interfaces that form the
// backbone of the application. These components are designed to be abstract,
// allowing for flexible and decoupled implementations of the orchestration logic.
package core

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a review.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusPendingAnalysis Status = "pending_analysis"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// NonTerminalStatuses is the canonical set of live statuses used by the
// admission gate and the reaper. pending_analysis is an inbound alias for
// processing and is a member of the same set.
var NonTerminalStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusPendingAnalysis,
	StatusInProgress,
}

// IsTerminal reports whether no further transition may be applied.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the forward-only lifecycle. Aliased statuses
// share a rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing, StatusPendingAnalysis:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Terminal states accept nothing; a status never moves backward
// or to itself.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// TokenUsage captures engine token consumption for a single run.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// Review is the durable record of one review lifecycle. It is never deleted;
// a re-review is a new Review pointing back via ParentReviewID.
type Review struct {
	ID             int64           `db:"id"`
	TargetKind     TargetKind      `db:"target_kind"`
	TargetRef      string          `db:"target_ref"`
	RepositoryID   *int64          `db:"repository_id"`
	CommitID       *int64          `db:"commit_id"`
	PullRequestID  *int64          `db:"pull_request_id"`
	CreatedBy      int64           `db:"created_by"`
	ParentReviewID *int64          `db:"parent_review_id"`
	Status         Status          `db:"status"`
	Result         json.RawMessage `db:"result"`
	ErrorMessage   string          `db:"error_message"`
	EngineThreadID string          `db:"engine_thread_id"`
	EngineRunID    string          `db:"engine_run_id"`
	InputTokens    int             `db:"input_tokens"`
	OutputTokens   int             `db:"output_tokens"`
	TotalTokens    int             `db:"total_tokens"`
	Cost           float64         `db:"cost"`
	Request        json.RawMessage `db:"request"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Thread is a follow-up conversation attached to a completed review.
type Thread struct {
	ID             int64     `db:"id"`
	ReviewID       int64     `db:"review_id"`
	EngineThreadID string    `db:"engine_thread_id"`
	Title          string    `db:"title"`
	Status         string    `db:"status"`
	CreatedBy      int64     `db:"created_by"`
	CreatedAt      time.Time `db:"created_at"`
}

// UsageRecord is one accounting row for engine token consumption.
type UsageRecord struct {
	ID           int64     `db:"id"`
	ReviewID     int64     `db:"review_id"`
	UserID       int64     `db:"user_id"`
	Model        string    `db:"model"`
	InputTokens  int       `db:"input_tokens"`
	OutputTokens int       `db:"output_tokens"`
	Cost         float64   `db:"cost"`
	CreatedAt    time.Time `db:"created_at"`
}

// User is the thin identity row supplied by the session collaborator.
type User struct {
	ID                int64     `db:"id"`
	Username          string    `db:"username"`
	GitHubID          string    `db:"github_id"`
	GitHubAccessToken string    `db:"github_access_token"`
	Email             string    `db:"email"`
	CreatedAt         time.Time `db:"created_at"`
}

// Repository is a thin mirror of a GitHub repository.
type Repository struct {
	ID             int64     `db:"id"`
	GitHubNativeID int64     `db:"github_native_id"`
	FullName       string    `db:"full_name"`
	OwnerID        int64     `db:"owner_id"`
	LLMPreference  string    `db:"llm_preference"`
	CreatedAt      time.Time `db:"created_at"`
}

// OwnerLogin returns the owner part of the repository full name.
func (r *Repository) OwnerLogin() string {
	for i := 0; i < len(r.FullName); i++ {
		if r.FullName[i] == '/' {
			return r.FullName[:i]
		}
	}
	return r.FullName
}

// Name returns the repository name without the owner prefix.
func (r *Repository) Name() string {
	for i := len(r.FullName) - 1; i >= 0; i-- {
		if r.FullName[i] == '/' {
			return r.FullName[i+1:]
		}
	}
	return r.FullName
}

// Commit is a thin mirror of a GitHub commit.
type Commit struct {
	ID                int64      `db:"id"`
	RepositoryID      int64      `db:"repository_id"`
	CommitHash        string     `db:"commit_hash"`
	Message           string     `db:"message"`
	AuthorGitHubID    string     `db:"author_github_id"`
	CommitterGitHubID string     `db:"committer_github_id"`
	URL               string     `db:"url"`
	CommittedAt       *time.Time `db:"committed_at"`
	CreatedAt         time.Time  `db:"created_at"`
}

// PullRequest is a thin mirror of a GitHub pull request.
type PullRequest struct {
	ID             int64     `db:"id"`
	RepositoryID   int64     `db:"repository_id"`
	PRNumber       int       `db:"pr_number"`
	Title          string    `db:"title"`
	AuthorGitHubID string    `db:"author_github_id"`
	CreatedAt      time.Time `db:"created_at"`
}
