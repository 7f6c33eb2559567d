package webhook

import (
	"context"

	"github.com/mattjoyce/deskhook/internal/audit"
	"github.com/mattjoyce/deskhook/internal/config"
	"github.com/mattjoyce/deskhook/internal/pipeline"
)

// Ingester processes a verified, decoded webhook.
type Ingester interface {
	Ingest(ctx context.Context, in pipeline.Input) (pipeline.Outcome, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	// Endpoints is keyed by provider name, served at POST /webhooks/<name>.
	Endpoints map[string]EndpointConfig
}

// EndpointConfig defines a single provider endpoint.
type EndpointConfig struct {
	Source audit.Source

	// Secret is the HMAC secret for signature verification. Empty accepts
	// unsigned requests.
	Secret string

	// SignatureHeader is the HTTP header carrying the hex HMAC-SHA256 digest.
	SignatureHeader string

	// MaxBodySize is the maximum accepted request body in bytes.
	MaxBodySize int64
}

// Response is the JSON envelope of every webhook reply.
type Response struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Data      *ResponseData `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
}

// ResponseData describes a processed webhook.
type ResponseData struct {
	WebhookLogID string `json:"webhookLogId"`
	Event        string `json:"event"`
	EventType    string `json:"eventType"`
	TicketID     *int64 `json:"ticketId"`
	UserID       string `json:"userId"`
	UserFound    bool   `json:"userFound"`
	ProcessedAt  string `json:"processedAt"`
}

// Response messages.
const (
	MessageProcessed        = "Webhook received and processed successfully"
	MessageFailed           = "Webhook processing failed"
	MessageInvalidSignature = "Invalid webhook signature"
	MessageInvalidJSON      = "Invalid JSON payload"
	MessageTooLarge         = "Payload too large"
	MessageUnknownProvider  = "Unknown webhook provider"
)

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = config.DefaultSignatureHeader
)
