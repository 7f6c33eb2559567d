package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deskhook/internal/audit"
	auditmocks "github.com/mattjoyce/deskhook/internal/audit/mocks"
	"github.com/mattjoyce/deskhook/internal/helpdesk"
	"github.com/mattjoyce/deskhook/internal/user"
	usermocks "github.com/mattjoyce/deskhook/internal/user/mocks"
)

// memStore is an audit.Store that keeps entries in memory. fail, when set,
// decides per entry whether Append returns an error.
type memStore struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    func(e audit.Entry) error
}

func (s *memStore) Append(_ context.Context, e audit.Entry) error {
	if s.fail != nil {
		if err := s.fail(e); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) Query(context.Context, audit.Filter) (audit.Page, error) {
	return audit.Page{}, nil
}

func (s *memStore) AggregateCounts(context.Context, audit.Filter) ([]audit.Count, error) {
	return nil, nil
}

func (s *memStore) PurgeBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *memStore) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Event)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *memStore
	users    *usermocks.MockStore
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{store: &memStore{}, users: usermocks.NewMockStore(ctrl)}
	logger := quietLogger()
	f.pipeline = New(Config{
		Resolver: user.NewResolver(f.users, logger),
		Recorder: audit.NewRecorder(f.store, nil, nil, logger),
		Logger:   logger,
	})
	return f
}

func input(t *testing.T, body string) Input {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return Input{Provider: "freshdesk", Source: audit.SourceHelpdesk, Body: []byte(body), Payload: v}
}

const createdBody = `{
	"event_type": "ticket_created",
	"ticket": {"id": 42, "subject": "Printer jam", "status": "open", "priority": 2},
	"requester": {"email": "Ann@Example.com"}
}`

func TestIngestCreatedKnownUser(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), "ann@example.com").
		Return(&user.User{ID: "u-1", Email: "ann@example.com"}, nil)

	out, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.NoError(t, err)

	require.Equal(t, []string{EventReceived, "ticket_created_processed"}, f.store.events())
	received, processed := f.store.entries[0], f.store.entries[1]

	assert.Equal(t, "u-1", received.UserID)
	assert.Equal(t, "found", received.Payload["userLookupStatus"])
	assert.Equal(t, "created", received.Payload["eventType"])
	assert.Equal(t, int64(42), received.Payload["ticketId"])
	assert.Equal(t, "nested", received.Payload["shape"])
	assert.Equal(t, Digest([]byte(createdBody)), received.Payload["bodyDigest"])
	assert.NotNil(t, received.Payload["rawPayload"])

	assert.Equal(t, "u-1", processed.UserID)
	assert.Equal(t, int64(42), processed.Payload["ticketId"])
	assert.Equal(t, "Printer jam", processed.Payload["subject"])
	assert.Equal(t, "ann@example.com", processed.Payload["requesterEmail"])
	assert.Equal(t, "open", processed.Payload["status"])
	assert.Equal(t, json.Number("2"), processed.Payload["priority"])
	assert.NotEmpty(t, processed.Payload["processedAt"])

	assert.Equal(t, received.ID, out.WebhookLogID)
	assert.Equal(t, "ticket_created", out.Event)
	assert.Equal(t, helpdesk.EventCreated, out.EventType)
	require.NotNil(t, out.TicketID)
	assert.EqualValues(t, 42, *out.TicketID)
	assert.Equal(t, "u-1", out.UserID)
	assert.True(t, out.UserFound)
	assert.Equal(t, processed.Timestamp, out.ProcessedAt)
}

func TestIngestUnknownUserIsSystem(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)

	out, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.NoError(t, err)

	assert.Equal(t, "system", out.UserID)
	assert.False(t, out.UserFound)
	for _, e := range f.store.entries {
		assert.Equal(t, "system", e.UserID)
	}
	assert.Equal(t, "not_found", f.store.entries[0].Payload["userLookupStatus"])
}

func TestIngestDuplicatesAreNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound).Times(2)

	_, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.NoError(t, err)

	assert.Equal(t, []string{
		EventReceived, "ticket_created_processed",
		EventReceived, "ticket_created_processed",
	}, f.store.events())
}

func TestIngestProcessedWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)
	f.store.fail = func(e audit.Entry) error {
		if strings.HasSuffix(e.Event, "_processed") {
			return errors.New("database is locked")
		}
		return nil
	}

	_, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	require.Equal(t, []string{EventReceived, "ticket_created_error", EventWebhookError}, f.store.events())

	handlerErr := f.store.entries[1]
	assert.Equal(t, "system", handlerErr.UserID)
	assert.Equal(t, int64(42), handlerErr.Payload["ticketId"])
	assert.Contains(t, handlerErr.Payload["error"], "database is locked")
	assert.Equal(t, "Printer jam", handlerErr.Payload["originalData"].(map[string]any)["subject"])

	webhookErr := f.store.entries[2]
	assert.Equal(t, ErrorUserID, webhookErr.UserID)
	assert.Equal(t, StageProcess, webhookErr.Payload["stage"])
	assert.Contains(t, webhookErr.Payload["error"], "database is locked")
	assert.NotNil(t, webhookErr.Payload["originalPayload"])
	assert.NotEmpty(t, webhookErr.Payload["timestamp"])
}

func TestIngestReceivedWriteFailureIsSuppressed(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)
	f.store.fail = func(e audit.Entry) error {
		if e.Event == EventReceived {
			return errors.New("transient")
		}
		return nil
	}

	out, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.NoError(t, err)
	require.Equal(t, []string{"ticket_created_processed"}, f.store.events())
	assert.Equal(t, f.store.entries[0].ID, out.WebhookLogID)
}

func TestIngestHandlerPanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)
	f.store.fail = func(e audit.Entry) error {
		if strings.HasSuffix(e.Event, "_processed") {
			panic("boom")
		}
		return nil
	}

	_, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.Error(t, err)
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Value)

	require.Equal(t, []string{EventReceived, "ticket_created_error", EventWebhookError}, f.store.events())
	assert.NotEmpty(t, f.store.entries[2].Payload["trace"])
}

func TestIngestResolverPanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string) (*user.User, error) { panic("lookup exploded") })

	out, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	require.Error(t, err)
	assert.Equal(t, Outcome{}, out)
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "lookup exploded", pe.Value)

	require.Equal(t, []string{EventWebhookError}, f.store.events())
	entry := f.store.entries[0]
	assert.Equal(t, ErrorUserID, entry.UserID)
	assert.Equal(t, StageIngest, entry.Payload["stage"])
	assert.NotEmpty(t, entry.Payload["trace"])
}

func TestIngestReceivedWritePanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)
	f.store.fail = func(e audit.Entry) error {
		if e.Event == EventReceived {
			panic("disk gone")
		}
		return nil
	}

	_, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, []string{EventWebhookError}, f.store.events())
	assert.Equal(t, StageIngest, f.store.entries[0].Payload["stage"])
}

func TestIngestSurvivesPanickingRecorder(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)
	f.store.fail = func(audit.Entry) error { panic("every write") }

	require.NotPanics(t, func() {
		_, err := f.pipeline.Ingest(context.Background(), input(t, createdBody))
		require.Error(t, err)
	})
	assert.Empty(t, f.store.events())
}

func TestIngestUnrecognizedPayload(t *testing.T) {
	f := newFixture(t)
	// No requester email: the user store is never consulted.

	out, err := f.pipeline.Ingest(context.Background(), input(t, `{"hello": "world"}`))
	require.NoError(t, err)

	assert.Equal(t, "unknown", out.Event)
	assert.Equal(t, helpdesk.EventUnknown, out.EventType)
	assert.Nil(t, out.TicketID)
	require.Equal(t, []string{EventReceived, "ticket_unknown_processed"}, f.store.events())
	assert.Equal(t, "unrecognized", f.store.entries[1].Payload["shape"])
	assert.NotContains(t, f.store.entries[1].Payload, "ticketId")
}

func TestIngestNonObjectPayload(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Ingest(context.Background(), input(t, `[1, 2, 3]`))
	require.NoError(t, err)
	assert.Equal(t, helpdesk.EventUnknown, out.EventType)
}

func TestIngestRawTicketResolved(t *testing.T) {
	f := newFixture(t)
	f.users.EXPECT().FindByEmail(gomock.Any(), "ann@example.com").Return(nil, user.ErrNotFound)

	out, err := f.pipeline.Ingest(context.Background(), input(t, `{
		"id": 9, "url": "https://x/9", "subject": "Done",
		"status": "Resolved", "requester": {"email": "ann@example.com"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "ticket_resolved", out.Event)
	require.Equal(t, []string{EventReceived, "ticket_resolved_processed"}, f.store.events())
	assert.Equal(t, "Done", f.store.entries[1].Payload["subject"])
}

func TestIngestExplicitEventStringIsEchoed(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Ingest(context.Background(), input(t, `{"event_type": "ticket_merged", "ticket": {"id": 3}}`))
	require.NoError(t, err)
	assert.Equal(t, "ticket_merged", out.Event)
	assert.Equal(t, helpdesk.EventUnknown, out.EventType)
	assert.Equal(t, "ticket_merged", f.store.entries[1].Payload["rawEventType"])
}

func TestIngestStrictStatusInference(t *testing.T) {
	store := &memStore{}
	p := New(Config{
		Resolver:              user.NewResolver(usermocks.NewMockStore(gomock.NewController(t)), quietLogger()),
		Recorder:              audit.NewRecorder(store, nil, nil, quietLogger()),
		StrictStatusInference: true,
	})

	out, err := p.Ingest(context.Background(), input(t, `{"ticket": {"id": 1, "status": "waiting"}}`))
	require.NoError(t, err)
	assert.Equal(t, helpdesk.EventUnknown, out.EventType)
}

func TestIngestWritesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := auditmocks.NewMockStore(ctrl)
	users := usermocks.NewMockStore(ctrl)
	users.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).Return(nil, user.ErrNotFound)

	gomock.InOrder(
		store.EXPECT().Append(gomock.Any(), entryEvent(EventReceived)).Return(nil),
		store.EXPECT().Append(gomock.Any(), entryEvent("ticket_updated_processed")).Return(nil),
	)

	p := New(Config{
		Resolver: user.NewResolver(users, quietLogger()),
		Recorder: audit.NewRecorder(store, nil, nil, quietLogger()),
	})
	_, err := p.Ingest(context.Background(), input(t, `{"ticket_id": 5, "ticket_status": "open", "ticket_updated_at": "2026-10-01T00:00:00Z", "requester_email": "a@x.com"}`))
	require.NoError(t, err)
}

type entryEvent string

func (m entryEvent) Matches(x interface{}) bool {
	e, ok := x.(audit.Entry)
	return ok && e.Event == string(m)
}

func (m entryEvent) String() string { return "entry with event " + string(m) }

func TestDigest(t *testing.T) {
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Digest(nil))
	assert.Len(t, Digest([]byte(createdBody)), 64)
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
}
