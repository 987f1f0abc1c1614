package telemetry

import "github.com/prometheus/client_golang/prometheus"

// PromSink exposes engine events as Prometheus metrics.
type PromSink struct {
	requests   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	firstToken prometheus.Histogram
}

// NewPromSink creates a PromSink and registers its collectors with reg.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	s := &PromSink{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatfetch",
			Name:      "requests_total",
			Help:      "Resolved completion requests by terminal outcome.",
		}, []string{"outcome", "model"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatfetch",
			Name:      "retries_total",
			Help:      "Automatic retry attempts by trigger.",
		}, []string{"trigger"}),
		firstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatfetch",
			Name:      "first_token_seconds",
			Help:      "Latency from request issue to first streamed token.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{s.requests, s.retries, s.firstToken} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Emit implements Sink.
func (s *PromSink) Emit(ev Event) {
	switch ev.Name {
	case EventSuccess, EventError, EventCancelled:
		outcome := ev.Properties["kind"]
		if outcome == "" {
			outcome = ev.Name
		}
		s.requests.WithLabelValues(outcome, ev.Properties["model"]).Inc()
	case EventRequestIssued:
		if trigger := ev.Properties["retry_trigger"]; trigger != "" {
			s.retries.WithLabelValues(trigger).Inc()
		}
	case EventFirstToken:
		if ev.Duration > 0 {
			s.firstToken.Observe(ev.Duration.Seconds())
		}
	}
}
