package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound billing webhook deliveries.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "stripe_deliveries_total",
		Help:      "Stripe webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(deliveries)
	return &WebhookMetrics{deliveries: deliveries}
}

// Observe records one delivery.
func (w *WebhookMetrics) Observe(eventType, outcome string) {
	if w == nil || w.deliveries == nil {
		return
	}
	w.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
