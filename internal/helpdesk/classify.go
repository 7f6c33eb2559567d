package helpdesk

import "strings"

var explicitTypes = map[string]EventType{
	"ticket_created":  EventCreated,
	"created":         EventCreated,
	"ticket_updated":  EventUpdated,
	"updated":         EventUpdated,
	"ticket_resolved": EventResolved,
	"resolved":        EventResolved,
	"ticket_closed":   EventClosed,
	"closed":          EventClosed,
	"ticket_reopened": EventReopened,
	"reopened":        EventReopened,
}

// Classifier derives the EventType of a normalized event.
type Classifier struct {
	// Strict maps statuses that match no rule to EventUnknown instead of
	// EventUpdated.
	Strict bool
}

// Classify returns the event type. An explicit event type string always
// wins; otherwise the type is inferred from status and timestamps.
func (c Classifier) Classify(ev Event) EventType {
	if ev.RawEventType != "" {
		if t, ok := explicitTypes[strings.ToLower(strings.TrimSpace(ev.RawEventType))]; ok {
			return t
		}
		return EventUnknown
	}
	if ev.Shape == ShapeUnrecognized {
		return EventUnknown
	}

	status := statusWord(ev.Status)
	switch status {
	case "resolved":
		return EventResolved
	case "closed":
		return EventClosed
	case "open", "pending":
		if ev.UpdatedAt != "" {
			return EventUpdated
		}
		return EventCreated
	}

	if ev.CreatedAt != "" && ev.UpdatedAt == "" {
		return EventCreated
	}
	if status == "" {
		return EventUnknown
	}
	if c.Strict {
		return EventUnknown
	}
	return EventUpdated
}

// Apply classifies ev and stores the result on it.
func (c Classifier) Apply(ev *Event) {
	ev.Type = c.Classify(*ev)
}
