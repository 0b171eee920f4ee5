package place

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks place lookups. A nil *Metrics records nothing.
type Metrics struct {
	lookups   *prometheus.CounterVec
	cacheHits prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetrics creates and registers the place lookup metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shiori",
			Subsystem: "place",
			Name:      "lookups_total",
			Help:      "External place lookups by result.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shiori",
			Subsystem: "place",
			Name:      "cache_hits_total",
			Help:      "Place resolutions answered from the session cache.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shiori",
			Subsystem: "place",
			Name:      "inflight_lookups",
			Help:      "Coordinate keys with an outstanding external lookup.",
		}),
	}
	reg.MustRegister(m.lookups, m.cacheHits, m.inflight)
	return m
}

func (m *Metrics) observeLookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}
