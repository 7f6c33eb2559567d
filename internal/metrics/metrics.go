// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the deskhook collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	WebhooksReceived   *prometheus.CounterVec
	WebhooksRejected   *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
	AuditWriteFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskhook_webhooks_received_total",
			Help: "Webhook requests that passed signature and JSON checks",
		}, []string{"provider"}),
		WebhooksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskhook_webhooks_rejected_total",
			Help: "Webhook requests rejected before processing",
		}, []string{"provider", "reason"}),
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskhook_events_processed_total",
			Help: "Classified webhook events by outcome",
		}, []string{"event_type", "outcome"}),
		AuditWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deskhook_audit_write_failures_total",
			Help: "Best-effort audit writes that failed and were suppressed",
		}, []string{"event"}),
	}
}

func (m *Metrics) IncReceived(provider string) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.WebhooksRejected.WithLabelValues(provider, reason).Inc()
}

// IncProcessed counts a handled event; outcome is "ok" or "error".
func (m *Metrics) IncProcessed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) IncAuditWriteFailure(event string) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.WithLabelValues(event).Inc()
}
