package refresh

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts refresh traffic. Shared counts waiters that joined an existing ticket.
type Metrics struct {
	Attempts prometheus.Counter
	Shared   prometheus.Counter
	Failures prometheus.Counter
}

// NewMetrics creates the refresh counters and registers them on reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "refresh",
			Name:      "attempts_total",
			Help:      "Refresh round trips started",
		}),
		Shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "refresh",
			Name:      "shared_total",
			Help:      "Callers that received the outcome of a refresh started by another caller",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "refresh",
			Name:      "failures_total",
			Help:      "Refresh round trips that ended the session",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Shared, m.Failures)
	}
	return m
}
