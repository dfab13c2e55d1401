package reflection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the scheduler's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Submitted  prometheus.Counter
	Superseded prometheus.Counter
	Cancelled  prometheus.Counter
	Finished   *prometheus.CounterVec
	Pending    prometheus.Gauge
	Duration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmem",
			Subsystem: "reflection",
			Name:      "jobs_submitted_total",
			Help:      "Reflection jobs submitted.",
		}),
		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmem",
			Subsystem: "reflection",
			Name:      "jobs_superseded_total",
			Help:      "Pending jobs replaced by a newer submission with the same dedupe key.",
		}),
		Cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmem",
			Subsystem: "reflection",
			Name:      "jobs_cancelled_total",
			Help:      "Pending jobs cancelled before firing.",
		}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmem",
			Subsystem: "reflection",
			Name:      "jobs_finished_total",
			Help:      "Executed jobs by final status.",
		}, []string{"status"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentmem",
			Subsystem: "reflection",
			Name:      "jobs_pending",
			Help:      "Jobs waiting for their fire time.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentmem",
			Subsystem: "reflection",
			Name:      "job_duration_seconds",
			Help:      "Time spent executing a job, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Submitted, m.Superseded, m.Cancelled, m.Finished, m.Pending, m.Duration)
	}
	return m
}

func (m *Metrics) submitted(superseded bool, pending int) {
	if m == nil {
		return
	}
	m.Submitted.Inc()
	if superseded {
		m.Superseded.Inc()
	}
	m.Pending.Set(float64(pending))
}

func (m *Metrics) cancelled(pending int) {
	if m == nil {
		return
	}
	m.Cancelled.Inc()
	m.Pending.Set(float64(pending))
}

func (m *Metrics) setPending(pending int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(pending))
}

func (m *Metrics) finished(status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Finished.WithLabelValues(string(status)).Inc()
	m.Duration.Observe(elapsed.Seconds())
}
