package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventProgressUpdated EventType = "progress_updated"
	EventProgressDeleted EventType = "progress_deleted"
	EventCleanupFinished EventType = "cleanup_finished"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type. The returned id is used to unsubscribe.
	Subscribe(eventType EventType, handler EventHandler) (string, error)

	// Unsubscribe removes the handler registered under id
	Unsubscribe(eventType EventType, id string) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
