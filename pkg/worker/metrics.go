package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by Metrics.
const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeNetwork     = "network"
	OutcomeStale       = "stale"
	OutcomePlaceholder = "placeholder"
	OutcomeError       = "error"
)

// Metrics counts what the worker does. A nil *Metrics records nothing.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Preloads  *prometheus.CounterVec
}

// NewMetrics creates the worker collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetedge",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Intercepted requests by class and outcome.",
		}, []string{"class", "outcome"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetedge",
			Subsystem: "worker",
			Name:      "evictions_total",
			Help:      "Entries removed by FIFO eviction, per partition.",
		}, []string{"partition"}),
		Preloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetedge",
			Subsystem: "worker",
			Name:      "preloads_total",
			Help:      "Preloaded assets by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.Requests, m.Evictions, m.Preloads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) request(class Class, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(class.String(), outcome).Inc()
}

func (m *Metrics) evicted(partition string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.WithLabelValues(partition).Add(float64(n))
}

func (m *Metrics) preloaded(loaded, failed int) {
	if m == nil {
		return
	}
	m.Preloads.WithLabelValues("loaded").Add(float64(loaded))
	m.Preloads.WithLabelValues("failed").Add(float64(failed))
}
