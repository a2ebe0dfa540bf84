package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes lifecycle and generation collectors for the engine handle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	loadsTotal         *prometheus.CounterVec
	loadDuration       prometheus.Histogram
	evictionsTotal     prometheus.Counter
	modelLoaded        prometheus.Gauge
	generationDuration prometheus.Histogram
	tokensTotal        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelgw",
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Total model loads by result",
		}, []string{"result"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modelgw",
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Time spent constructing the engine handle",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modelgw",
			Subsystem: "model",
			Name:      "evictions_total",
			Help:      "Total idle evictions of the engine handle",
		}),
		modelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelgw",
			Subsystem: "model",
			Name:      "loaded",
			Help:      "1 while the engine handle is resident",
		}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modelgw",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of generations holding the engine",
			Buckets:   prometheus.DefBuckets,
		}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modelgw",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Total tokens emitted by the engine",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.loadsTotal, m.loadDuration, m.evictionsTotal, m.modelLoaded, m.generationDuration, m.tokensTotal)
	return m
}

func (m *Metrics) observeLoad(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.loadsTotal.WithLabelValues(result).Inc()
	m.loadDuration.Observe(d.Seconds())
}

func (m *Metrics) setLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.modelLoaded.Set(1)
		return
	}
	m.modelLoaded.Set(0)
}

func (m *Metrics) incEviction() {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
}

func (m *Metrics) observeGeneration(d time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
	m.tokensTotal.Add(float64(tokens))
}
