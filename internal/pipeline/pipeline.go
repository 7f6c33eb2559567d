package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/deskhook/internal/audit"
	"github.com/mattjoyce/deskhook/internal/helpdesk"
	"github.com/mattjoyce/deskhook/internal/metrics"
	"github.com/mattjoyce/deskhook/internal/user"
)

const (
	// EventReceived labels the entry written for every accepted webhook.
	EventReceived = "webhook_received"
	// EventWebhookError labels the entry written when processing fails.
	EventWebhookError = "webhook_error"
	// ErrorUserID is the audit user id of EventWebhookError entries.
	ErrorUserID = "error"

	StageProcess = "process"
	StageIngest  = "ingest"
)

// IdentityResolver maps a requester email to a user identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, email string) user.Identity
}

// Input is one verified webhook body.
type Input struct {
	Provider string
	Source   audit.Source
	// Body is the raw request body, Payload its decoded JSON value.
	Body    []byte
	Payload any
}

// Outcome describes a successfully processed webhook.
type Outcome struct {
	WebhookLogID string
	Event        string
	EventType    helpdesk.EventType
	TicketID     *int64
	UserID       string
	UserFound    bool
	ProcessedAt  time.Time
}

// Pipeline is safe for concurrent use; it holds no per-request state.
type Pipeline struct {
	classifier helpdesk.Classifier
	resolver   IdentityResolver
	rec        AuditRecorder
	proc       *Processor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Config carries the pipeline collaborators. Metrics and Logger are optional.
type Config struct {
	Resolver IdentityResolver
	Recorder AuditRecorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// StrictStatusInference classifies unmatched statuses as unknown.
	StrictStatusInference bool
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: helpdesk.Classifier{Strict: cfg.StrictStatusInference},
		resolver:   cfg.Resolver,
		rec:        cfg.Recorder,
		proc:       NewProcessor(cfg.Recorder, logger),
		metrics:    cfg.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest processes one webhook. A returned error means processing failed; the
// failure has already been recorded. Panics outside the handler are recovered
// and recorded the same way under StageIngest.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (out Outcome, err error) {
	source := in.Source
	if source == "" {
		source = audit.SourceHelpdesk
	}

	var ev helpdesk.Event
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		perr := &PanicError{Value: v, Stack: debug.Stack()}
		p.metrics.IncProcessed(typeLabel(ev.Type), "error")
		p.recordFailure(ctx, StageIngest, perr, in.Payload, source)
		out, err = Outcome{}, perr
	}()

	ev = helpdesk.Normalize(in.Payload)
	id := p.resolver.Resolve(ctx, ev.RequesterEmail)
	p.classifier.Apply(&ev)

	lookup := "not_found"
	if id.Resolved {
		lookup = "found"
	}
	received, _ := p.rec.RecordBestEffort(ctx, audit.Entry{
		UserID: id.AuditUserID(),
		Event:  EventReceived,
		Payload: map[string]any{
			"rawPayload":       in.Payload,
			"eventType":        string(ev.Type),
			"ticketId":         ev.TicketIDValue(),
			"shape":            string(ev.Shape),
			"userLookupStatus": lookup,
			"bodyDigest":       Digest(in.Body),
		},
		Source: source,
	})

	processed, err := p.proc.Process(ctx, ev, id, source)
	if err != nil {
		p.metrics.IncProcessed(string(ev.Type), "error")
		p.recordFailure(ctx, StageProcess, err, in.Payload, source)
		return Outcome{}, err
	}
	p.metrics.IncProcessed(string(ev.Type), "ok")

	logID := received.ID
	if logID == "" {
		logID = processed.ID
	}
	return Outcome{
		WebhookLogID: logID,
		Event:        ev.Label(),
		EventType:    ev.Type,
		TicketID:     ev.TicketID,
		UserID:       id.AuditUserID(),
		UserFound:    id.Resolved,
		ProcessedAt:  processed.Timestamp,
	}, nil
}

func typeLabel(t helpdesk.EventType) string {
	if t == "" {
		return string(helpdesk.EventUnknown)
	}
	return string(t)
}

// recordFailure writes the webhook_error entry. It never panics: a failing
// recorder is logged and the entry dropped.
func (p *Pipeline) recordFailure(ctx context.Context, stage string, cause error, original any, source audit.Source) {
	f := audit.Failure{Stage: stage, Message: cause.Error()}
	var pe *PanicError
	if errors.As(cause, &pe) {
		f.Trace = string(pe.Stack)
	}

	p.logger.Error("webhook processing failed", "stage", f.Stage, "error", f.Message)
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("webhook_error write panicked", "stage", f.Stage, "panic", v)
		}
	}()
	p.rec.RecordBestEffort(ctx, audit.Entry{
		UserID: ErrorUserID,
		Event:  EventWebhookError,
		Payload: map[string]any{
			"error":           f.Message,
			"stage":           f.Stage,
			"trace":           f.Trace,
			"originalPayload": original,
			"timestamp":       p.now().UTC().Format(time.RFC3339Nano),
		},
		Source: source,
	})
}

// Digest is the BLAKE3-256 hex digest of a raw webhook body.
func Digest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}
