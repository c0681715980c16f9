package core

import "fmt"

// ValidationError flags malformed or oversized input. It is the caller's
// fault and is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError is returned by the admission gate when a non-terminal review
// already exists for the requested target. It carries the live review so the
// caller can report its id and status.
type ConflictError struct {
	Existing *Review
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a review for this target already exists with status %q (id %d)",
		e.Existing.Status, e.Existing.ID)
}

// UpstreamNotFoundError indicates the GitHub mirror has no such target.
type UpstreamNotFoundError struct {
	Target string
}

func (e *UpstreamNotFoundError) Error() string {
	return fmt.Sprintf("%s not found upstream", e.Target)
}

// UpstreamUnprocessableError indicates the target identifier is malformed,
// for example an invalid commit SHA.
type UpstreamUnprocessableError struct {
	Target string
}

func (e *UpstreamUnprocessableError) Error() string {
	return fmt.Sprintf("upstream rejected %s as unprocessable", e.Target)
}

// PermissionDeniedError indicates the caller lacks access to the target
// repository or the credentials needed for the operation.
type PermissionDeniedError struct {
	Message string
}

func (e *PermissionDeniedError) Error() string { return e.Message }

// EngineUnavailableError indicates the review engine could not be reached or
// returned a non-success response.
type EngineUnavailableError struct {
	Err error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("review engine unavailable: %v", e.Err)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Err }

// EngineTimeoutError indicates the engine call exceeded its wall-clock budget.
type EngineTimeoutError struct {
	Err error
}

func (e *EngineTimeoutError) Error() string {
	return fmt.Sprintf("review engine timed out: %v", e.Err)
}

func (e *EngineTimeoutError) Unwrap() error { return e.Err }
