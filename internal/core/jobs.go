package core

import "context"

// ReviewTask is the unit of work handed to the dispatcher: an admitted review
// together with the normalized request that produced it.
type ReviewTask struct {
	Review  *Review
	Request *ReviewRequest
}

// JobDispatcher accepts admitted reviews and queues them for asynchronous
// processing. This interface decouples the trigger sources (webhook handler,
// manual trigger, editor endpoint) from the job execution mechanism.
type JobDispatcher interface {
	// Dispatch moves the review to processing and queues it. It returns an
	// error if the job cannot be queued, for example if the queue is full,
	// providing a mechanism for backpressure; the review is left pending in
	// that case.
	Dispatch(ctx context.Context, task *ReviewTask) error

	// Depth reports the number of queued, not-yet-claimed tasks.
	Depth() int

	// Stop drains the queue and waits for in-flight jobs to finish.
	Stop()
}

// Job is a single executable unit of work processed by a dispatcher worker.
type Job interface {
	// Run executes the job's logic for one admitted review. Duplicate
	// deliveries of the same review are suppressed inside Run, so an
	// at-least-once queue is safe.
	Run(ctx context.Context, task *ReviewTask) error
}
