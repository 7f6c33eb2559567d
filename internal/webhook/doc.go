// Package webhook serves the helpdesk webhook listener.
//
// Each configured provider is exposed at POST /webhooks/<provider>. A request
// is accepted when its body fits the endpoint's size limit, its HMAC-SHA256
// signature matches (or signing is not in use), and the body is valid JSON.
// Accepted bodies are handed to the ingestion pipeline.
//
// # Signatures
//
// The signature header carries the hex HMAC-SHA256 of the raw body keyed by
// the endpoint secret, optionally prefixed with "sha256=". Verification is
// skipped when the endpoint has no secret or the request carries no header.
// Comparison is constant time.
//
// # Responses
//
// All responses share one JSON envelope:
//
//	{"success": true, "message": "...", "data": {...}, "timestamp": "..."}
//
// - 200 with success=true: processed; data carries the audit log id and the
// classified event.
// - 200 with success=false: accepted but a handler failed; the failure is in
// the audit log.
// - 400: body is not valid JSON.
// - 401: signature mismatch.
// - 404: unknown provider.
// - 413: body exceeds max_body_size.
//
// Rejections (400, 401, 404, 413) write no audit entries.
package webhook
