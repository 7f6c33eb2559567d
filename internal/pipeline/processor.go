package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/deskhook/internal/audit"
	"github.com/mattjoyce/deskhook/internal/helpdesk"
	"github.com/mattjoyce/deskhook/internal/user"
)

// AuditRecorder writes audit entries. *audit.Recorder satisfies it.
type AuditRecorder interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
	RecordBestEffort(ctx context.Context, e audit.Entry) (audit.Entry, bool)
}

// PanicError is a recovered panic converted into an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// projection selects the fields a handler records for its event type.
type projection func(ev helpdesk.Event) map[string]any

// Processor dispatches classified events to exactly one handler each.
type Processor struct {
	rec      AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
	handlers map[helpdesk.EventType]projection
}

func NewProcessor(rec AuditRecorder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		rec:    rec,
		logger: logger,
		now:    time.Now,
		handlers: map[helpdesk.EventType]projection{
			helpdesk.EventCreated:  projectCreated,
			helpdesk.EventUpdated:  projectUpdated,
			helpdesk.EventResolved: projectFinished,
			helpdesk.EventClosed:   projectFinished,
			helpdesk.EventReopened: projectReopened,
			helpdesk.EventUnknown:  projectUnknown,
		},
	}
}

// ProcessedEvent is the audit label of a successfully handled event type.
func ProcessedEvent(t helpdesk.EventType) string {
	return "ticket_" + string(t) + "_processed"
}

// HandlerErrorEvent is the audit label written when a handler fails.
func HandlerErrorEvent(t helpdesk.EventType) string {
	return "ticket_" + string(t) + "_error"
}

// Process runs the handler for ev.Type and returns the processed entry. On
// failure it records a handler error entry and returns the error.
func (p *Processor) Process(ctx context.Context, ev helpdesk.Event, id user.Identity, source audit.Source) (entry audit.Entry, err error) {
	t := ev.Type
	if _, ok := p.handlers[t]; !ok {
		t = helpdesk.EventUnknown
	}

	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
		if err != nil {
			p.recordHandlerError(ctx, t, ev, id, source, err)
			entry = audit.Entry{}
		}
	}()

	payload := p.handlers[t](ev)
	payload["processedAt"] = p.now().UTC().Format(time.RFC3339Nano)

	entry, err = p.rec.Append(ctx, audit.Entry{
		UserID:  id.AuditUserID(),
		Event:   ProcessedEvent(t),
		Payload: payload,
		Source:  source,
	})
	if err != nil {
		return audit.Entry{}, fmt.Errorf("process %s: %w", t, err)
	}
	p.logger.Debug("event processed", "event_type", string(t), "ticket_id", ev.TicketIDValue(), "entry_id", entry.ID)
	return entry, nil
}

func (p *Processor) recordHandlerError(ctx context.Context, t helpdesk.EventType, ev helpdesk.Event, id user.Identity, source audit.Source, cause error) {
	p.logger.Error("event handler failed", "event_type", string(t), "ticket_id", ev.TicketIDValue(), "error", cause)
	p.rec.RecordBestEffort(ctx, audit.Entry{
		UserID: id.AuditUserID(),
		Event:  HandlerErrorEvent(t),
		Payload: map[string]any{
			"ticketId":     ev.TicketIDValue(),
			"error":        cause.Error(),
			"originalData": ev.Fields(),
		},
		Source: source,
	})
}

func projectCreated(ev helpdesk.Event) map[string]any {
	return compact(map[string]any{
		"ticketId":       ev.TicketIDValue(),
		"subject":        ev.Subject,
		"requesterEmail": ev.RequesterEmail,
		"status":         ev.Status,
		"priority":       ev.Priority,
	})
}

func projectUpdated(ev helpdesk.Event) map[string]any {
	return compact(map[string]any{
		"ticketId":  ev.TicketIDValue(),
		"status":    ev.Status,
		"updatedAt": ev.UpdatedAt,
	})
}

// projectFinished serves both resolved and closed tickets.
func projectFinished(ev helpdesk.Event) map[string]any {
	return compact(map[string]any{
		"ticketId":       ev.TicketIDValue(),
		"subject":        ev.Subject,
		"requesterEmail": ev.RequesterEmail,
		"agentEmail":     ev.AgentEmail,
	})
}

func projectReopened(ev helpdesk.Event) map[string]any {
	return compact(map[string]any{
		"ticketId":       ev.TicketIDValue(),
		"subject":        ev.Subject,
		"requesterEmail": ev.RequesterEmail,
		"status":         ev.Status,
	})
}

func projectUnknown(ev helpdesk.Event) map[string]any {
	return compact(map[string]any{
		"ticketId":     ev.TicketIDValue(),
		"rawEventType": ev.RawEventType,
		"shape":        string(ev.Shape),
	})
}

// compact drops nil values and empty strings.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		if v == nil {
			delete(m, k)
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			delete(m, k)
		}
	}
	return m
}
