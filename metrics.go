package fanout

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the client collectors. A nil *metrics records nothing.
type metrics struct {
	admitted  prometheus.Gauge
	pending   prometheus.Gauge
	responses prometheus.Counter
	errors    prometheus.Counter
	canceled  prometheus.Counter
	duration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		admitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fanout_admitted_transfers",
			Help: "Requests currently registered with the transfer engine.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fanout_pending_requests",
			Help: "Requests waiting for a concurrency slot.",
		}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanout_responses_total",
			Help: "Requests that finished with a response.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanout_errors_total",
			Help: "Requests that finished with an error.",
		}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanout_canceled_total",
			Help: "Requests canceled before finishing.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanout_transfer_duration_seconds",
			Help:    "Total time of finished transfers.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}

	for _, c := range []prometheus.Collector{m.admitted, m.pending, m.responses, m.errors, m.canceled, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) setQueue(admitted, pending int) {
	if m == nil {
		return
	}
	m.admitted.Set(float64(admitted))
	m.pending.Set(float64(pending))
}

func (m *metrics) finished(st Stats, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.errors.Inc()
	} else {
		m.responses.Inc()
	}
	m.duration.Observe(st.Total.Seconds())
}

func (m *metrics) cancel() {
	if m == nil {
		return
	}
	m.canceled.Inc()
}
