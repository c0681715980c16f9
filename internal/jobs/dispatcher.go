package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codehound/reviewhub/internal/core"
)

// dispatcher implements core.JobDispatcher: a bounded queue drained by a pool
// of worker goroutines, each running the review job.
type dispatcher struct {
	job        core.Job
	lifecycle  *Lifecycle
	jobQueue   chan *core.ReviewTask
	maxWorkers int
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewDispatcher initializes a dispatcher with a worker pool. maxWorkers and
// queueSize fall back to sane minimums when non-positive.
func NewDispatcher(job core.Job, lifecycle *Lifecycle, maxWorkers, queueSize int, logger *slog.Logger) core.JobDispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	d := &dispatcher{
		job:        job,
		lifecycle:  lifecycle,
		jobQueue:   make(chan *core.ReviewTask, queueSize),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
	d.startWorkers()
	return d
}

func (d *dispatcher) startWorkers() {
	for i := range d.maxWorkers {
		d.wg.Add(1)
		go d.startWorker(i)
	}
}

func (d *dispatcher) startWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Info("starting review worker", "id", workerID)

	for task := range d.jobQueue {
		d.logger.Info("worker processing review",
			"worker_id", workerID,
			"review_id", task.Review.ID,
			"target_kind", task.Request.TargetKind,
		)
		if err := d.job.Run(context.Background(), task); err != nil {
			d.logger.Error("review job failed",
				"review_id", task.Review.ID,
				"error", err,
			)
		}
	}

	d.logger.Info("shutting down review worker", "id", workerID)
}

// Dispatch moves an admitted review to processing and queues it for a worker.
// The conditional pending→processing update serializes duplicate dispatch
// attempts for the same review id: the second caller sees no row change and
// returns without queueing. If the queue is full the status change is
// compensated so the review stays pending and the caller learns synchronously.
func (d *dispatcher) Dispatch(ctx context.Context, task *core.ReviewTask) error {
	claimed, err := d.lifecycle.Transition(ctx, task.Review, core.StatusProcessing, ProgressQueued, "review queued for processing")
	if err != nil {
		return err
	}
	if !claimed {
		d.logger.Warn("review already dispatched, suppressing duplicate", "review_id", task.Review.ID)
		return nil
	}

	select {
	case d.jobQueue <- task:
		d.logger.Info("queued review job", "review_id", task.Review.ID, "queue_depth", len(d.jobQueue))
		return nil
	default:
		// Put the row back so a later dispatch attempt can claim it, and let
		// subscribers know the claim did not stick.
		if _, rbErr := d.lifecycle.Requeue(ctx, task.Review,
			"review queue is full, waiting to be re-queued"); rbErr != nil {
			d.logger.Error("failed to return review to pending after full queue",
				"review_id", task.Review.ID, "error", rbErr)
		}
		return fmt.Errorf("job queue is full, cannot accept review %d", task.Review.ID)
	}
}

// Depth reports the number of queued, unclaimed tasks.
func (d *dispatcher) Depth() int {
	return len(d.jobQueue)
}

// Stop gracefully shuts down the dispatcher, waiting for in-flight jobs.
func (d *dispatcher) Stop() {
	d.logger.Info("stopping dispatcher and waiting for jobs to finish")
	close(d.jobQueue)
	d.wg.Wait()
	d.logger.Info("all review jobs have finished")
}
