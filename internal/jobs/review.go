package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codehound/reviewhub/internal/core"
)

// ReviewJob executes one admitted review against the engine and drives the
// review to its terminal state.
type ReviewJob struct {
	engine    core.ReviewEngine
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// NewReviewJob creates the review job run by each dispatcher worker.
func NewReviewJob(engine core.ReviewEngine, lifecycle *Lifecycle, logger *slog.Logger) core.Job {
	if engine == nil {
		panic("engine cannot be nil")
	}
	if lifecycle == nil {
		panic("lifecycle cannot be nil")
	}
	return &ReviewJob{engine: engine, lifecycle: lifecycle, logger: logger}
}

// Run claims the review, invokes the engine, and records the outcome. The
// claim is the processing→in_progress conditional update: a duplicate
// delivery of the same review finds it already claimed and returns without a
// second engine invocation. Engine failures become a failed review with the
// error message captured, never a stuck one.
func (j *ReviewJob) Run(ctx context.Context, task *core.ReviewTask) error {
	if err := j.validate(task); err != nil {
		return err
	}
	review, req := task.Review, task.Request

	claimed, err := j.lifecycle.Transition(ctx, review, core.StatusInProgress, ProgressInProgress, "review analysis started")
	if err != nil {
		return fmt.Errorf("failed to claim review %d: %w", review.ID, err)
	}
	if !claimed {
		j.logger.Warn("review already claimed, suppressing duplicate delivery", "review_id", review.ID)
		return nil
	}

	result, err := j.engine.RunReview(ctx, review, req)
	if err != nil {
		j.logger.Error("engine run failed", "review_id", review.ID, "error", err)
		if _, failErr := j.lifecycle.Fail(ctx, review, err.Error()); failErr != nil {
			j.logger.Error("failed to record review failure", "review_id", review.ID, "error", failErr)
		}
		return err
	}

	model := req.EngineOptions.Model
	if _, err := j.lifecycle.Complete(ctx, review, result, model); err != nil {
		return fmt.Errorf("failed to record completion of review %d: %w", review.ID, err)
	}

	j.logger.Info("review completed",
		"review_id", review.ID,
		"thread_id", result.ThreadID,
		"total_tokens", result.Usage.TotalTokens,
	)
	return nil
}

func (j *ReviewJob) validate(task *core.ReviewTask) error {
	if task == nil || task.Review == nil || task.Request == nil {
		return fmt.Errorf("task is missing review or request")
	}
	if task.Review.ID <= 0 {
		return fmt.Errorf("review id must be positive, got %d", task.Review.ID)
	}
	return nil
}
