// Package helpdesk turns heterogeneous helpdesk webhook payloads into one
// canonical Event and classifies it into a ticket lifecycle event type.
package helpdesk

// EventType is the logical ticket lifecycle event carried by a webhook.
type EventType string

const (
	EventCreated  EventType = "created"
	EventUpdated  EventType = "updated"
	EventResolved EventType = "resolved"
	EventClosed   EventType = "closed"
	EventReopened EventType = "reopened"
	EventUnknown  EventType = "unknown"
)

// EventTypes lists every classification, in lifecycle order.
var EventTypes = []EventType{EventCreated, EventUpdated, EventResolved, EventClosed, EventReopened, EventUnknown}

// Shape names the payload layout detected by Normalize.
type Shape string

const (
	ShapeRawTicket    Shape = "raw_ticket"
	ShapeNested       Shape = "nested"
	ShapeFlat         Shape = "flat"
	ShapeUnrecognized Shape = "unrecognized"
)

// Event is the canonical, shape-independent view of a helpdesk webhook.
// Every field is optional; empty strings and nil mean absent.
type Event struct {
	// Type is empty until the event is classified, except for unrecognized
	// payloads which normalize straight to EventUnknown.
	Type EventType
	// RawEventType is the explicit event type string the sender supplied.
	RawEventType string
	Shape        Shape

	TicketID    *int64
	TicketURL   string
	Subject     string
	Description string
	// Status and Priority are strings or numbers depending on the sender.
	Status   any
	Priority any

	CreatedAt string
	UpdatedAt string

	RequesterEmail string
	RequesterName  string
	RequesterPhone string
	AgentEmail     string
	AgentName      string
	GroupName      string
	ProductName    string

	CustomFields map[string]any
}

// Label is the external event name: the sender's own string when present,
// otherwise "ticket_<type>" ("unknown" for unknown events).
func (e Event) Label() string {
	if e.RawEventType != "" {
		return e.RawEventType
	}
	if e.Type == "" || e.Type == EventUnknown {
		return string(EventUnknown)
	}
	return "ticket_" + string(e.Type)
}

// TicketIDValue returns the ticket id or nil, ready for JSON encoding.
func (e Event) TicketIDValue() any {
	if e.TicketID == nil {
		return nil
	}
	return *e.TicketID
}

// Fields renders the populated fields of e with their wire names. Absent
// values are omitted.
func (e Event) Fields() map[string]any {
	m := map[string]any{}
	put := func(k string, v any) {
		switch x := v.(type) {
		case nil:
			return
		case string:
			if x == "" {
				return
			}
		case map[string]any:
			if len(x) == 0 {
				return
			}
		}
		m[k] = v
	}
	put("eventType", string(e.Type))
	put("rawEventType", e.RawEventType)
	put("shape", string(e.Shape))
	put("ticketId", e.TicketIDValue())
	put("ticketUrl", e.TicketURL)
	put("subject", e.Subject)
	put("description", e.Description)
	put("status", e.Status)
	put("priority", e.Priority)
	put("createdAt", e.CreatedAt)
	put("updatedAt", e.UpdatedAt)
	put("requesterEmail", e.RequesterEmail)
	put("requesterName", e.RequesterName)
	put("requesterPhone", e.RequesterPhone)
	put("agentEmail", e.AgentEmail)
	put("agentName", e.AgentName)
	put("groupName", e.GroupName)
	put("productName", e.ProductName)
	put("customFields", e.CustomFields)
	return m
}
