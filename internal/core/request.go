package core

import (
	"fmt"

	"github.com/google/go-github/v73/github"
	"github.com/google/uuid"
)

// TargetKind discriminates what a review request is about.
type TargetKind string

const (
	TargetCommit      TargetKind = "commit"
	TargetPullRequest TargetKind = "pull_request"
	TargetAdHocDiff   TargetKind = "ad_hoc_diff"
)

// Editor payload limits enforced by the normalizer so later stages can assume
// well-formed input.
const (
	MaxEditorFiles       = 100
	MaxEditorPayloadSize = 10 << 20
)

// EngineOptions carries model selection and generation limits for a single run.
type EngineOptions struct {
	Model        string   `json:"llm_model"`
	Standards    []string `json:"standards"`
	Metrics      []string `json:"metrics"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	MaxToolCalls int      `json:"max_tool_calls"`
}

// WorkspaceMeta describes the local workspace an editor-originated diff came
// from. Informational only; stored alongside the review.
type WorkspaceMeta struct {
	WorkspacePath  string `json:"workspace_path"`
	RepositoryName string `json:"repository_name"`
	GitRemoteURL   string `json:"git_remote_url"`
	GitBranch      string `json:"git_branch"`
	IsGitRepo      bool   `json:"is_git_repo"`
}

// ReviewRequest is the canonical, ephemeral record every trigger shape is
// normalized into. TargetKind determines which fields must be set: commit and
// pull-request requests carry a TargetRef, ad-hoc requests carry Files/Diff.
type ReviewRequest struct {
	TargetKind    TargetKind        `json:"target_kind"`
	TargetRef     string            `json:"target_ref"`
	RepositoryID  *int64            `json:"repository_id"`
	RequestedBy   int64             `json:"requested_by"`
	CommitHash    string            `json:"commit_hash"`
	PRNumber      int               `json:"pr_number"`
	Files         map[string]string `json:"files,omitempty"`
	Diff          string            `json:"diff_str,omitempty"`
	Workspace     WorkspaceMeta     `json:"workspace"`
	EngineOptions EngineOptions     `json:"engine_options"`
}

// EditorPayload is the raw body of an editor-submitted (ad-hoc) review.
type EditorPayload struct {
	Files        any      `json:"files"`
	Diff         string   `json:"diff_str"`
	Model        string   `json:"llm_model"`
	Standards    []string `json:"standards"`
	Metrics      []string `json:"metrics"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	MaxToolCalls int      `json:"max_tool_calls"`
	WorkspaceMeta
}

// RequestFromManualTrigger normalizes a manual trigger body into a commit
// review request.
func RequestFromManualTrigger(repositoryID int64, commitHash string, userID int64) (*ReviewRequest, error) {
	if repositoryID <= 0 {
		return nil, &ValidationError{Field: "repository_id", Message: "repository_id is required"}
	}
	if commitHash == "" {
		return nil, &ValidationError{Field: "commit_hash", Message: "commit_hash is required"}
	}
	return &ReviewRequest{
		TargetKind:   TargetCommit,
		TargetRef:    fmt.Sprintf("%d:%s", repositoryID, commitHash),
		RepositoryID: &repositoryID,
		RequestedBy:  userID,
		CommitHash:   commitHash,
	}, nil
}

// RequestFromPullRequest normalizes a pull-request trigger.
func RequestFromPullRequest(repositoryID int64, prNumber int, userID int64) (*ReviewRequest, error) {
	if repositoryID <= 0 {
		return nil, &ValidationError{Field: "repository_id", Message: "repository_id is required"}
	}
	if prNumber <= 0 {
		return nil, &ValidationError{Field: "pr_number", Message: fmt.Sprintf("invalid pull request number: %d", prNumber)}
	}
	return &ReviewRequest{
		TargetKind:   TargetPullRequest,
		TargetRef:    fmt.Sprintf("%d#%d", repositoryID, prNumber),
		RepositoryID: &repositoryID,
		RequestedBy:  userID,
		PRNumber:     prNumber,
	}, nil
}

// RequestFromPushEvent extracts the head commit of a webhook push event. It
// acts as an anti-corruption layer: the payload is validated here so jobs can
// trust the event they receive.
func RequestFromPushEvent(event *github.PushEvent, repositoryID, userID int64) (*ReviewRequest, error) {
	if event == nil {
		return nil, &ValidationError{Message: "push event is empty"}
	}
	head := event.GetHeadCommit()
	sha := head.GetID()
	if sha == "" {
		sha = event.GetAfter()
	}
	if sha == "" {
		return nil, &ValidationError{Field: "head_commit", Message: "push event has no head commit"}
	}
	if event.GetRepo() == nil || event.GetRepo().GetFullName() == "" {
		return nil, &ValidationError{Field: "repository", Message: "repository information is missing from the event"}
	}
	return RequestFromManualTrigger(repositoryID, sha, userID)
}

// RequestFromEditorPayload normalizes an ad-hoc editor submission, enforcing
// the file-count and total-size limits. Ad-hoc requests have no dedup target;
// every submission gets a fresh TargetRef.
func RequestFromEditorPayload(p *EditorPayload, userID int64) (*ReviewRequest, error) {
	if p == nil || p.Files == nil {
		return nil, &ValidationError{Field: "files", Message: "files data is required"}
	}

	files, ok := asFileMap(p.Files)
	if !ok {
		return nil, &ValidationError{Field: "files", Message: "files must be a mapping of path to content"}
	}
	if len(files) == 0 {
		return nil, &ValidationError{Field: "files", Message: "files data is required"}
	}
	if len(files) > MaxEditorFiles {
		return nil, &ValidationError{
			Field:   "files",
			Message: fmt.Sprintf("too many files: %d exceeds the maximum of %d", len(files), MaxEditorFiles),
		}
	}

	var total int
	for _, content := range files {
		total += len(content)
	}
	total += len(p.Diff)
	if total > MaxEditorPayloadSize {
		return nil, &ValidationError{
			Field:   "files",
			Message: fmt.Sprintf("total payload size %d exceeds the maximum of %d bytes", total, MaxEditorPayloadSize),
		}
	}

	opts := EngineOptions{
		Model:        p.Model,
		Standards:    p.Standards,
		Metrics:      p.Metrics,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
		MaxToolCalls: p.MaxToolCalls,
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxToolCalls == 0 {
		opts.MaxToolCalls = DefaultMaxToolCalls
	}
	opts.Temperature = clampFloat(opts.Temperature, 0, 1)
	opts.MaxTokens = clampInt(opts.MaxTokens, 1, 100000)
	opts.MaxToolCalls = clampInt(opts.MaxToolCalls, 1, 20)

	return &ReviewRequest{
		TargetKind:    TargetAdHocDiff,
		TargetRef:     "adhoc:" + uuid.NewString(),
		RequestedBy:   userID,
		Files:         files,
		Diff:          p.Diff,
		Workspace:     p.WorkspaceMeta,
		EngineOptions: opts,
	}, nil
}

// Generation defaults applied when the editor payload leaves a knob unset.
const (
	DefaultTemperature  = 0.3
	DefaultMaxTokens    = 32768
	DefaultMaxToolCalls = 7
)

func asFileMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		files := make(map[string]string, len(m))
		for path, content := range m {
			s, ok := content.(string)
			if !ok {
				return nil, false
			}
			files[path] = s
		}
		return files, true
	default:
		return nil, false
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
