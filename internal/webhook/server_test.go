package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deskhook/internal/audit"
	auditmocks "github.com/mattjoyce/deskhook/internal/audit/mocks"
	"github.com/mattjoyce/deskhook/internal/config"
	"github.com/mattjoyce/deskhook/internal/helpdesk"
	"github.com/mattjoyce/deskhook/internal/pipeline"
	"github.com/mattjoyce/deskhook/internal/user"
	usermocks "github.com/mattjoyce/deskhook/internal/user/mocks"
)

// mockIngester is a function-field stand-in for the pipeline.
type mockIngester struct {
	ingestFn func(ctx context.Context, in pipeline.Input) (pipeline.Outcome, error)
	calls    int
}

func (m *mockIngester) Ingest(ctx context.Context, in pipeline.Input) (pipeline.Outcome, error) {
	m.calls++
	if m.ingestFn != nil {
		return m.ingestFn(ctx, in)
	}
	return pipeline.Outcome{EventType: helpdesk.EventUnknown, Event: "unknown", UserID: "system"}, nil
}

const secret = "test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Listen: "127.0.0.1:0",
		Endpoints: map[string]EndpointConfig{
			"freshdesk": {Source: audit.SourceHelpdesk, Secret: secret, SignatureHeader: "X-Freshdesk-Signature", MaxBodySize: 1024},
			"open":      {Source: audit.SourceCRM},
		},
	}
}

func TestWebhookIngestSurvivesClientDisconnect(t *testing.T) {
	var ingestErr error
	var hasDeadline bool
	ing := &mockIngester{ingestFn: func(ctx context.Context, in pipeline.Input) (pipeline.Outcome, error) {
		ingestErr = ctx.Err()
		_, hasDeadline = ctx.Deadline()
		return pipeline.Outcome{EventType: helpdesk.EventUnknown, Event: "unknown", UserID: "system"}, nil
	}}
	h := New(testConfig(), ing, nil, testLogger()).Handler()

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/open", bytes.NewReader([]byte(`{"ticket":{"id":1}}`))).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, 1, ing.calls)
	assert.NoError(t, ingestErr)
	assert.True(t, hasDeadline)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func post(t *testing.T, h http.Handler, path string, body []byte, signature string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Freshdesk-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestHandleWebhook_ValidSignature(t *testing.T) {
	body := []byte(`{"event_type":"ticket_created","ticket":{"id":42}}`)
	processedAt := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	ticketID := int64(42)

	ing := &mockIngester{ingestFn: func(_ context.Context, in pipeline.Input) (pipeline.Outcome, error) {
		assert.Equal(t, "freshdesk", in.Provider)
		assert.Equal(t, audit.SourceHelpdesk, in.Source)
		assert.Equal(t, body, in.Body)
		obj, ok := in.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ticket_created", obj["event_type"])
		return pipeline.Outcome{
			WebhookLogID: "log-1",
			Event:        "ticket_created",
			EventType:    helpdesk.EventCreated,
			TicketID:     &ticketID,
			UserID:       "u-1",
			UserFound:    true,
			ProcessedAt:  processedAt,
		}, nil
	}}
	server := New(testConfig(), ing, nil, testLogger())

	rec, resp := post(t, server.Handler(), "/webhooks/freshdesk", body, "sha256="+sign(body, secret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, resp.Success)
	assert.Equal(t, MessageProcessed, resp.Message)
	assert.NotEmpty(t, resp.Timestamp)
	require.NotNil(t, resp.Data)
	assert.Equal(t, ResponseData{
		WebhookLogID: "log-1",
		Event:        "ticket_created",
		EventType:    "created",
		TicketID:     &ticketID,
		UserID:       "u-1",
		UserFound:    true,
		ProcessedAt:  "2026-10-14T09:00:00Z",
	}, *resp.Data)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	ing := &mockIngester{}
	server := New(testConfig(), ing, nil, testLogger())

	rec, resp := post(t, server.Handler(), "/webhooks/freshdesk", []byte(`{}`), "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, MessageInvalidSignature, resp.Message)
	assert.Zero(t, ing.calls)
}

func TestHandleWebhook_MissingSignatureIsAccepted(t *testing.T) {
	ing := &mockIngester{}
	server := New(testConfig(), ing, nil, testLogger())

	rec, resp := post(t, server.Handler(), "/webhooks/freshdesk", []byte(`{"hello":"world"}`), "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, ing.calls)
}

func TestHandleWebhook_NoSecretSkipsVerification(t *testing.T) {
	ing := &mockIngester{}
	server := New(testConfig(), ing, nil, testLogger())

	rec, _ := post(t, server.Handler(), "/webhooks/open", []byte(`{}`), "not-even-hex")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ing.calls)
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	for _, body := range []string{`{not json`, ``, `{"a":1} {"b":2}`} {
		t.Run(body, func(t *testing.T) {
			ing := &mockIngester{}
			server := New(testConfig(), ing, nil, testLogger())

			rec, resp := post(t, server.Handler(), "/webhooks/freshdesk", []byte(body), sign([]byte(body), secret))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, MessageInvalidJSON, resp.Message)
			assert.Zero(t, ing.calls)
		})
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	ing := &mockIngester{}
	server := New(testConfig(), ing, nil, testLogger())
	body := bytes.Repeat([]byte("a"), 2048)

	rec, resp := post(t, server.Handler(), "/webhooks/freshdesk", body, sign(body, secret))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, MessageTooLarge, resp.Message)
	assert.Zero(t, ing.calls)
}

func TestHandleWebhook_UnknownProvider(t *testing.T) {
	ing := &mockIngester{}
	server := New(testConfig(), ing, nil, testLogger())

	rec, resp := post(t, server.Handler(), "/webhooks/zendesk", []byte(`{}`), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MessageUnknownProvider, resp.Message)
	assert.Zero(t, ing.calls)
}

func TestHandleWebhook_ProcessingFailureStillOK(t *testing.T) {
	ing := &mockIngester{ingestFn: func(context.Context, pipeline.Input) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, errors.New("process created: database is locked")
	}}
	server := New(testConfig(), ing, nil, testLogger())

	rec, resp := post(t, server.Handler(), "/webhooks/freshdesk", []byte(`{}`), "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, MessageFailed, resp.Message)
	assert.Equal(t, "process created: database is locked", resp.Error)
	assert.NotEmpty(t, resp.Timestamp)
	assert.Nil(t, resp.Data)
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	server := New(testConfig(), &mockIngester{}, nil, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/webhooks/freshdesk", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// Rejected requests never reach the audit store; accepted ones write the
// received entry before the processed one.
func TestHandleWebhook_AuditEntriesEndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := auditmocks.NewMockStore(ctrl)
	users := usermocks.NewMockStore(ctrl)

	p := pipeline.New(pipeline.Config{
		Resolver: user.NewResolver(users, testLogger()),
		Recorder: audit.NewRecorder(store, nil, nil, testLogger()),
		Logger:   testLogger(),
	})
	h := New(testConfig(), p, nil, testLogger()).Handler()

	// 400 and 401: no store calls expected yet.
	rec, _ := post(t, h, "/webhooks/freshdesk", []byte(`nope`), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = post(t, h, "/webhooks/freshdesk", []byte(`{}`), "00")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := []byte(`{"ticket_id": 7, "ticket_status": "closed", "requester_email": "a@x.com"}`)
	users.EXPECT().FindByEmail(gomock.Any(), "a@x.com").Return(&user.User{ID: "u-7"}, nil)
	var events []string
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) error {
		assert.Equal(t, "u-7", e.UserID)
		events = append(events, e.Event)
		return nil
	}).Times(2)

	rec, resp := post(t, h, "/webhooks/freshdesk", body, sign(body, secret))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	assert.Equal(t, "ticket_closed", resp.Data.Event)
	assert.Equal(t, "closed", resp.Data.EventType)
	assert.Equal(t, []string{pipeline.EventReceived, "ticket_closed_processed"}, events)
}

func TestFromGlobalConfig(t *testing.T) {
	wc := &config.WebhooksConfig{
		Listen: ":9000",
		Endpoints: map[string]config.WebhookEndpoint{
			"freshdesk": {Source: "helpdesk", Secret: "s", MaxBodySize: "2MB"},
			"hubspot":   {Source: "crm", SignatureHeader: "X-HubSpot-Signature", MaxBodySize: "512KB"},
		},
	}

	cfg, err := FromGlobalConfig(wc)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, EndpointConfig{Source: audit.SourceHelpdesk, Secret: "s", SignatureHeader: DefaultSignatureHeader, MaxBodySize: 2 << 20}, cfg.Endpoints["freshdesk"])
	assert.Equal(t, EndpointConfig{Source: audit.SourceCRM, SignatureHeader: "X-HubSpot-Signature", MaxBodySize: 512 << 10}, cfg.Endpoints["hubspot"])

	_, err = FromGlobalConfig(nil)
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: map[string]config.WebhookEndpoint{"x": {MaxBodySize: "lots"}}})
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: map[string]config.WebhookEndpoint{"x": {Source: "zendesk"}}})
	assert.Error(t, err)
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"1048576", 1048576, false},
		{"1MB", 1 << 20, false},
		{"1mb", 1 << 20, false},
		{"64KB", 64 << 10, false},
		{"1GB", 1 << 30, false},
		{" 2 MB ", 2 << 20, false},
		{"0", 0, true},
		{"-5KB", 0, true},
		{"abc", 0, true},
		{"9999999999GB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMaxBodySize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
