package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/deskhook/internal/metrics"
	"github.com/mattjoyce/deskhook/internal/pipeline"
)

// Server represents the webhook HTTP server.
type Server struct {
	config   Config
	ingester Ingester
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new webhook server instance. m may be nil.
func New(config Config, ingester Ingester, m *metrics.Metrics, logger *slog.Logger) *Server {
	endpoints := make(map[string]EndpointConfig, len(config.Endpoints))
	for name, ep := range config.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[name] = ep
	}
	config.Endpoints = endpoints

	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   config,
		ingester: ingester,
		metrics:  m,
		logger:   logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.config.Endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/{provider}", s.handleWebhook)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// ingestTimeout bounds pipeline work once a webhook has been accepted.
const ingestTimeout = 30 * time.Second

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	endpoint, ok := s.config.Endpoints[provider]
	if !ok {
		s.metrics.IncRejected("unknown", "provider")
		s.respondError(w, http.StatusNotFound, MessageUnknownProvider)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.metrics.IncRejected(provider, "too_large")
		s.respondError(w, http.StatusRequestEntityTooLarge, MessageTooLarge)
		return
	}

	if err := verifySignature(body, r.Header.Get(endpoint.SignatureHeader), endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed", "provider", provider)
		s.metrics.IncRejected(provider, "signature")
		s.respondError(w, http.StatusUnauthorized, MessageInvalidSignature)
		return
	}

	payload, err := decodeJSON(body)
	if err != nil {
		s.logger.Warn("webhook body is not valid JSON", "provider", provider, "error", err)
		s.metrics.IncRejected(provider, "json")
		s.respondError(w, http.StatusBadRequest, MessageInvalidJSON)
		return
	}
	s.metrics.IncReceived(provider)

	// The audit writes must complete even if the sender disconnects.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ingestTimeout)
	defer cancel()
	out, err := s.ingester.Ingest(ctx, pipeline.Input{
		Provider: provider,
		Source:   endpoint.Source,
		Body:     body,
		Payload:  payload,
	})
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err != nil {
		s.respondJSON(w, http.StatusOK, Response{
			Success:   false,
			Message:   MessageFailed,
			Error:     err.Error(),
			Timestamp: now,
		})
		return
	}

	s.logger.Info("webhook processed",
		"provider", provider,
		"event", out.Event,
		"event_type", string(out.EventType),
		"user_found", out.UserFound,
		"webhook_log_id", out.WebhookLogID,
	)
	s.respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: MessageProcessed,
		Data: &ResponseData{
			WebhookLogID: out.WebhookLogID,
			Event:        out.Event,
			EventType:    string(out.EventType),
			TicketID:     out.TicketID,
			UserID:       out.UserID,
			UserFound:    out.UserFound,
			ProcessedAt:  out.ProcessedAt.UTC().Format(time.RFC3339Nano),
		},
		Timestamp: now,
	})
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends the failure envelope.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, Response{Success: false, Message: message})
}
