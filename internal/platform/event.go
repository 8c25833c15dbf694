package platform

import "time"

// EventType names a lifecycle notification.
type EventType string

// Lifecycle events emitted by a Platform.
const (
	// EventConnected fires after a session is established and advertised.
	EventConnected EventType = "connected"
	// EventStatusChanged fires on every status publication.
	EventStatusChanged EventType = "status_changed"
	// EventPaired fires once an apiKey has been persisted.
	EventPaired EventType = "paired"
	// EventForgotten fires when the credential is discarded.
	EventForgotten EventType = "forgotten"
	// EventSessionFailed fires when a session could not be opened or dropped.
	EventSessionFailed EventType = "session_failed"
)

// Event is a lifecycle notification.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"device_id"`
	Status   Status    `json:"status"`
	Mode     Mode      `json:"mode"`
	Time     time.Time `json:"time"`
	Err      error     `json:"-"`
}

// Observer receives lifecycle events.
//
// HandleEvent runs while the Platform holds its lock. Implementations must
// not call back into the Platform synchronously.
type Observer interface {
	HandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// HandleEvent calls f(e).
func (f ObserverFunc) HandleEvent(e Event) { f(e) }

// Observers fans one event out to several observers in order.
type Observers []Observer

// HandleEvent forwards e to every non-nil observer.
func (o Observers) HandleEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.HandleEvent(e)
		}
	}
}
