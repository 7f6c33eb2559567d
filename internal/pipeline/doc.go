// Package pipeline runs a verified, decoded webhook payload through
// normalization, user resolution, classification and per-type processing,
// recording each step in the audit log.
//
// Every accepted webhook produces a "webhook_received" entry followed by
// either a "ticket_<type>_processed" entry or a failure pair
// ("ticket_<type>_error" and "webhook_error"). Audit writes for received and
// error entries are best effort; a failed processed write fails the webhook.
package pipeline
