package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts dispatcher results.
type OutboxMetrics struct {
	results *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "dispatch_results_total",
		Help:      "Outbox dispatch results (published, failed, terminal).",
	}, []string{"result"})
	reg.MustRegister(results)
	return &OutboxMetrics{results: results}
}

func (o *OutboxMetrics) Add(result string, n int) {
	if o == nil || o.results == nil || n <= 0 {
		return
	}
	o.results.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}
