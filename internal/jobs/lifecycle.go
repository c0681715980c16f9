// Package jobs contains the background machinery of the review pipeline: the
// lifecycle writer, the worker-pool dispatcher, the review job, and the
// stuck-job reaper.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/codehound/reviewhub/internal/core"
	"github.com/codehound/reviewhub/internal/storage"
)

// Progress milestones reported alongside lifecycle transitions.
const (
	ProgressQueued     = 10
	ProgressInProgress = 50
	ProgressDone       = 100
)

// Lifecycle is the single writer of review status. Every applied transition
// persists the new status and fans out events to the review's subscribers and
// to the owning user; fan-out is best-effort and never fails the transition.
type Lifecycle struct {
	store  storage.Store
	pub    core.Publisher
	logger *slog.Logger
}

// NewLifecycle creates the lifecycle writer.
func NewLifecycle(store storage.Store, pub core.Publisher, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{store: store, pub: pub, logger: logger}
}

// transitionSources returns the statuses a review may legally be in
// immediately before moving to next.
func transitionSources(next core.Status) []core.Status {
	var from []core.Status
	for _, s := range core.NonTerminalStatuses {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	return from
}

// Transition conditionally applies a forward transition. It reports whether
// the row changed; a false return means the review was already at or past the
// requested state, which is a logged no-op rather than an error so that
// at-least-once deliveries stay harmless.
func (l *Lifecycle) Transition(ctx context.Context, review *core.Review, to core.Status, progress int, message string) (bool, error) {
	applied, err := l.store.TransitionReview(ctx, review.ID, transitionSources(to), to)
	if err != nil {
		return false, err
	}
	if !applied {
		l.logger.Warn("ignoring out-of-order transition",
			"review_id", review.ID, "requested", to)
		return false, nil
	}

	review.Status = to
	l.pub.Publish(core.ReviewGroup(review.ID), core.ReviewUpdateEvent(to, progress, message))
	l.pub.Publish(core.UserGroup(review.CreatedBy), core.ReviewStatusUpdateEvent(review.ID, to, progress))
	return true, nil
}

// Requeue compensates a claim that could not be handed to a worker, returning
// the review to pending. The correction is fanned out like any other status
// change so subscribers do not keep showing a review as processing that the
// queue never accepted.
func (l *Lifecycle) Requeue(ctx context.Context, review *core.Review, message string) (bool, error) {
	applied, err := l.store.TransitionReview(ctx, review.ID,
		[]core.Status{core.StatusProcessing, core.StatusPendingAnalysis}, core.StatusPending)
	if err != nil {
		return false, err
	}
	if !applied {
		l.logger.Warn("review moved on before requeue, leaving it alone", "review_id", review.ID)
		return false, nil
	}

	review.Status = core.StatusPending
	l.pub.Publish(core.ReviewGroup(review.ID), core.ReviewUpdateEvent(core.StatusPending, 0, message))
	l.pub.Publish(core.UserGroup(review.CreatedBy), core.ReviewStatusUpdateEvent(review.ID, core.StatusPending, 0))
	return true, nil
}

// Complete records the terminal success state with the engine output and
// usage, then fans out the completion. A second call for the same review is a
// logged no-op with no second fan-out.
func (l *Lifecycle) Complete(ctx context.Context, review *core.Review, result *core.EngineResult, model string) (bool, error) {
	applied, err := l.store.CompleteReview(ctx, review.ID, result.Result, result.Usage, result.ThreadID, result.RunID)
	if err != nil {
		return false, err
	}
	if !applied {
		l.logger.Warn("review already terminal, ignoring completion",
			"review_id", review.ID)
		return false, nil
	}

	review.Status = core.StatusCompleted
	review.EngineThreadID = result.ThreadID
	review.EngineRunID = result.RunID

	if err := l.store.InsertUsageRecord(ctx, &core.UsageRecord{
		ReviewID:     review.ID,
		UserID:       review.CreatedBy,
		Model:        model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Cost:         result.Usage.Cost,
	}); err != nil {
		// Accounting is a side channel; the completed review stands.
		l.logger.Error("failed to record token usage", "review_id", review.ID, "error", err)
	}

	var resultValue any
	if len(result.Result) > 0 {
		if err := json.Unmarshal(result.Result, &resultValue); err != nil {
			resultValue = string(result.Result)
		}
	}

	l.pub.Publish(core.ReviewGroup(review.ID),
		core.ReviewCompletedEvent(resultValue, result.Usage, result.ThreadID))
	l.pub.Publish(core.UserGroup(review.CreatedBy),
		core.ReviewStatusUpdateEvent(review.ID, core.StatusCompleted, ProgressDone))
	return true, nil
}

// Fail records the terminal failure state with a human-readable message so
// clients reconnecting later can learn why the review failed.
func (l *Lifecycle) Fail(ctx context.Context, review *core.Review, message string) (bool, error) {
	applied, err := l.store.FailReview(ctx, review.ID, message)
	if err != nil {
		return false, err
	}
	if !applied {
		l.logger.Warn("review already terminal, ignoring failure",
			"review_id", review.ID, "message", message)
		return false, nil
	}

	review.Status = core.StatusFailed
	review.ErrorMessage = message

	l.pub.Publish(core.ReviewGroup(review.ID),
		core.ReviewErrorEvent(message, "review failed"))
	l.pub.Publish(core.UserGroup(review.CreatedBy),
		core.ReviewStatusUpdateEvent(review.ID, core.StatusFailed, 0))
	return true, nil
}
