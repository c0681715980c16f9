package core

import "fmt"

// Group keys for the two fan-out namespaces.

// ReviewGroup returns the subscription group key for a single review.
func ReviewGroup(reviewID int64) string {
	return fmt.Sprintf("review:%d", reviewID)
}

// UserGroup returns the subscription group key for a single user.
func UserGroup(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Event is one message pushed to a subscription group. Payload maps directly
// to the JSON frame a subscriber receives; Type drives client-side routing.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"-"`
}

// Event type names on the wire.
const (
	EventReviewUpdate       = "review_update"
	EventReviewCompleted    = "review_completed"
	EventReviewError        = "review_error"
	EventReviewStatusUpdate = "review_status_update"
	EventUserNotification   = "notification"
)

// ReviewUpdateEvent reports a lifecycle transition to review:{id} subscribers.
func ReviewUpdateEvent(status Status, progress int, message string) Event {
	return Event{
		Type: EventReviewUpdate,
		Payload: map[string]any{
			"status":   status,
			"progress": progress,
			"message":  message,
		},
	}
}

// ReviewCompletedEvent carries the final engine output to review:{id}
// subscribers.
func ReviewCompletedEvent(result any, usage TokenUsage, threadID string) Event {
	return Event{
		Type: EventReviewCompleted,
		Payload: map[string]any{
			"review_data": result,
			"token_usage": usage,
			"thread_id":   threadID,
		},
	}
}

// ReviewErrorEvent reports a terminal failure to review:{id} subscribers.
func ReviewErrorEvent(errMsg, message string) Event {
	return Event{
		Type: EventReviewError,
		Payload: map[string]any{
			"error":   errMsg,
			"message": message,
		},
	}
}

// ReviewStatusUpdateEvent is the per-user lifecycle summary pushed to
// user:{id} subscribers.
func ReviewStatusUpdateEvent(reviewID int64, status Status, progress int) Event {
	return Event{
		Type: EventReviewStatusUpdate,
		Payload: map[string]any{
			"review_id": reviewID,
			"status":    status,
			"progress":  progress,
		},
	}
}

// UserNotificationEvent is a free-form per-user notification.
func UserNotificationEvent(title, message string, data any) Event {
	return Event{
		Type: EventUserNotification,
		Payload: map[string]any{
			"title":   title,
			"message": message,
			"data":    data,
		},
	}
}

// Publisher fans an event out to every member of a subscription group.
// Delivery is at-most-once and best-effort: implementations log failures and
// never block or fail the originating state transition.
type Publisher interface {
	Publish(group string, event Event)
}

// NopPublisher discards all events. Used where notification is not wired.
type NopPublisher struct{}

func (NopPublisher) Publish(string, Event) {}
