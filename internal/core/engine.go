package core

import (
	"context"
	"encoding/json"
)

// EngineResult is the outcome of one complete engine run: the thread's final
// state plus the opaque handles and usage metrics attached to it.
type EngineResult struct {
	Result   json.RawMessage
	Usage    TokenUsage
	ThreadID string
	RunID    string
}

// FeedbackResult is the engine's reply to one follow-up feedback submission.
// Model records which engine model served the run so accounting rows carry it.
type FeedbackResult struct {
	FeedbackData json.RawMessage
	Usage        TokenUsage
	Model        string
	RunID        string
}

// ReviewEngine invokes the external AI review engine. Implementations own the
// full protocol (thread creation, run submission, waiting, state readback)
// and classify failures as EngineUnavailableError or EngineTimeoutError.
type ReviewEngine interface {
	// RunReview executes the initial review pass for an admitted review and
	// blocks until the engine run reaches a terminal state.
	RunReview(ctx context.Context, review *Review, req *ReviewRequest) (*EngineResult, error)

	// SubmitFeedback sends follow-up feedback into an existing engine thread.
	// Calls against the same thread are serialized by the implementation.
	SubmitFeedback(ctx context.Context, threadID string, review *Review, feedback string, firstMessage bool) (*FeedbackResult, error)
}
