package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/deskhook/internal/metrics"
)

// EventAppended is the live event type published for every written entry.
const EventAppended = "audit.appended"

// Publisher receives every entry the Recorder writes.
type Publisher interface {
	Publish(eventType string, data any)
}

// Recorder stamps entries with an id and timestamp, writes them to the store
// and publishes them to live subscribers.
type Recorder struct {
	store   Store
	pub     Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder builds a Recorder. pub, m and logger may be nil.
func NewRecorder(store Store, pub Publisher, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		pub:     pub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Append writes e and returns it as stored. A store error is returned to the
// caller.
func (r *Recorder) Append(ctx context.Context, e Entry) (Entry, error) {
	e.ID = uuid.NewString()
	e.Timestamp = r.now().UTC()
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.Source == "" {
		e.Source = SourceHelpdesk
	}

	if err := r.store.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("append %s: %w", e.Event, err)
	}
	if r.pub != nil {
		r.pub.Publish(EventAppended, e)
	}
	return e, nil
}

// RecordBestEffort writes e like Append but never propagates failure: an
// error is logged and counted, and ok reports whether the write landed.
func (r *Recorder) RecordBestEffort(ctx context.Context, e Entry) (Entry, bool) {
	stored, err := r.Append(ctx, e)
	if err != nil {
		r.logger.Warn("audit write suppressed", "event", e.Event, "user_id", e.UserID, "error", err)
		r.metrics.IncAuditWriteFailure(e.Event)
		return Entry{}, false
	}
	return stored, true
}
