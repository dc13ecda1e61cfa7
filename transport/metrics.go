package transport

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Replayed prometheus.Counter
	Failed   prometheus.Counter
}

// NewMetrics creates the interceptor counters and registers them on reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "interceptor",
			Name:      "replayed_total",
			Help:      "Requests replayed once with a refreshed credential",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_client",
			Subsystem: "interceptor",
			Name:      "refresh_failed_total",
			Help:      "Requests that returned their 401 because the refresh failed",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Replayed, m.Failed)
	}
	return m
}
