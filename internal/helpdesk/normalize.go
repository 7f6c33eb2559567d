package helpdesk

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// wrapperKeys name the objects legacy senders nest their event type (and
// sometimes their flat ticket_* fields) under.
var wrapperKeys = []string{"freshdesk_webhook", "webhook"}

type shape struct {
	name    Shape
	match   func(body map[string]any) bool
	extract func(body map[string]any) Event
}

// shapes is ordered; the first matching predicate wins.
var shapes = []shape{
	{name: ShapeRawTicket, match: isRawTicket, extract: extractRawTicket},
	{name: ShapeNested, match: isNested, extract: extractNested},
	{name: ShapeFlat, match: isFlat, extract: extractFlat},
}

// Normalize maps a decoded JSON value onto the canonical Event. It never
// fails: anything it cannot recognize becomes an unknown event with no fields.
func Normalize(v any) Event {
	body, ok := v.(map[string]any)
	if !ok {
		return Event{Type: EventUnknown, Shape: ShapeUnrecognized}
	}
	for _, s := range shapes {
		if s.match(body) {
			ev := s.extract(body)
			ev.Shape = s.name
			return ev
		}
	}
	return Event{Type: EventUnknown, Shape: ShapeUnrecognized}
}

func isRawTicket(body map[string]any) bool {
	return hasKey(body, "id") && hasKey(body, "url") && hasKey(body, "subject")
}

func isNested(body map[string]any) bool {
	for _, k := range []string{"ticket", "requester", "agent"} {
		if objectAt(body, k) != nil {
			return true
		}
	}
	// A bare event_type alongside flat ticket_* fields is the legacy shape.
	return hasKey(body, "event_type") && !hasFlatFields(body)
}

func isFlat(body map[string]any) bool {
	if hasFlatFields(body) {
		return true
	}
	for _, k := range wrapperKeys {
		if objectAt(body, k) != nil {
			return true
		}
	}
	return false
}

func hasFlatFields(body map[string]any) bool {
	for k := range body {
		if strings.HasPrefix(k, "ticket_") {
			return true
		}
	}
	return false
}

func extractRawTicket(body map[string]any) Event {
	// Raw tickets are always classified by inference; event_type is not read.
	ev := Event{
		TicketID:     intAt(body, "id"),
		TicketURL:    stringAt(body, "url"),
		Subject:      stringAt(body, "subject"),
		Description:  firstString(body, "description", "description_text"),
		Status:       body["status"],
		Priority:     body["priority"],
		CreatedAt:    stringAt(body, "created_at"),
		UpdatedAt:    stringAt(body, "updated_at"),
		GroupName:    stringAt(body, "group_name"),
		ProductName:  stringAt(body, "product_name"),
		CustomFields: objectAt(body, "custom_fields"),
	}
	if req := objectAt(body, "requester"); req != nil {
		ev.RequesterEmail = stringAt(req, "email")
		ev.RequesterName = stringAt(req, "name")
		ev.RequesterPhone = stringAt(req, "phone")
	}
	if ev.RequesterEmail == "" {
		ev.RequesterEmail = firstString(body, "requester_email", "email")
	}
	return ev
}

func extractNested(body map[string]any) Event {
	ev := Event{RawEventType: stringAt(body, "event_type")}
	if t := objectAt(body, "ticket"); t != nil {
		ev.TicketID = intAt(t, "id")
		ev.TicketURL = stringAt(t, "url")
		ev.Subject = stringAt(t, "subject")
		ev.Description = firstString(t, "description", "description_text")
		ev.Status = t["status"]
		ev.Priority = t["priority"]
		ev.CreatedAt = stringAt(t, "created_at")
		ev.UpdatedAt = stringAt(t, "updated_at")
		ev.GroupName = stringAt(t, "group_name")
		ev.ProductName = stringAt(t, "product_name")
		ev.CustomFields = objectAt(t, "custom_fields")
	}
	if r := objectAt(body, "requester"); r != nil {
		ev.RequesterEmail = stringAt(r, "email")
		ev.RequesterName = stringAt(r, "name")
		ev.RequesterPhone = stringAt(r, "phone")
	}
	if a := objectAt(body, "agent"); a != nil {
		ev.AgentEmail = stringAt(a, "email")
		ev.AgentName = stringAt(a, "name")
	}
	if ev.CustomFields == nil {
		ev.CustomFields = objectAt(body, "custom_fields")
	}
	return ev
}

func extractFlat(body map[string]any) Event {
	fields := body
	var wrapper map[string]any
	for _, k := range wrapperKeys {
		if w := objectAt(body, k); w != nil {
			wrapper = w
			break
		}
	}
	if wrapper != nil {
		// Wrapper fields fill gaps; top-level fields win.
		fields = make(map[string]any, len(body)+len(wrapper))
		for k, v := range wrapper {
			fields[k] = v
		}
		for k, v := range body {
			fields[k] = v
		}
	}

	ev := Event{
		TicketID:       intAt(fields, "ticket_id"),
		TicketURL:      stringAt(fields, "ticket_url"),
		Subject:        stringAt(fields, "ticket_subject"),
		Description:    stringAt(fields, "ticket_description"),
		Status:         fields["ticket_status"],
		Priority:       fields["ticket_priority"],
		CreatedAt:      stringAt(fields, "ticket_created_at"),
		UpdatedAt:      stringAt(fields, "ticket_updated_at"),
		RequesterEmail: stringAt(fields, "requester_email"),
		RequesterName:  stringAt(fields, "requester_name"),
		RequesterPhone: stringAt(fields, "requester_phone"),
		AgentEmail:     stringAt(fields, "agent_email"),
		AgentName:      stringAt(fields, "agent_name"),
		GroupName:      stringAt(fields, "group_name"),
		ProductName:    stringAt(fields, "product_name"),
		CustomFields:   objectAt(fields, "custom_fields"),
	}
	if wrapper != nil {
		ev.RawEventType = stringAt(wrapper, "event_type")
	}
	if ev.RawEventType == "" {
		ev.RawEventType = stringAt(body, "event_type")
	}
	return ev
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func objectAt(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	return obj
}

// stringAt returns the value at key as a string. Numbers are rendered in
// decimal; other types come back empty.
func stringAt(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringAt(m, k); s != "" {
			return s
		}
	}
	return ""
}

// intAt returns the integral value at key. Numeric strings are accepted;
// fractions and anything else yield nil.
func intAt(m map[string]any, key string) *int64 {
	n, ok := toInt(m[key])
	if !ok {
		return nil
	}
	return &n
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// statusWord reduces a string or numeric status to a lower-case word.
// Freshdesk numeric codes: 2 open, 3 pending, 4 resolved, 5 closed.
func statusWord(v any) string {
	if s, ok := v.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return statusCode(n)
		}
		return strings.ToLower(strings.TrimSpace(s))
	}
	if n, ok := toInt(v); ok {
		return statusCode(n)
	}
	if v == nil {
		return ""
	}
	return strings.ToLower(fmt.Sprint(v))
}

func statusCode(n int64) string {
	switch n {
	case 2:
		return "open"
	case 3:
		return "pending"
	case 4:
		return "resolved"
	case 5:
		return "closed"
	default:
		return strconv.FormatInt(n, 10)
	}
}
