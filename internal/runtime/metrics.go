package runtime

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/phaseflow/internal/runtime/chain"
	"github.com/drblury/phaseflow/internal/runtime/exchange"
)

// ChainMetrics exports traversal statistics to Prometheus.
type ChainMetrics struct {
	mu sync.Mutex

	traversalsTotal *prometheus.CounterVec
	faultsTotal     *prometheus.CounterVec
	pausesTotal     *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	parkedCurrent   prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// newChainCounterVec creates a new counter vec with standard phaseflow/chain namespace.
func newChainCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phaseflow",
			Subsystem: "chain",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewChainMetrics creates the collectors. A nil registerer selects the
// Prometheus default registerer.
func NewChainMetrics(registerer prometheus.Registerer) *ChainMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ChainMetrics{
		registerer:      registerer,
		traversalsTotal: newChainCounterVec("traversals_total", "Total number of finished traversals", []string{"endpoint", "direction", "state"}),
		faultsTotal:     newChainCounterVec("faults_total", "Total number of faults that diverted a traversal", []string{"endpoint", "code", "mode"}),
		pausesTotal:     newChainCounterVec("pauses_total", "Total number of times a traversal parked", []string{"endpoint"}),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "phaseflow",
				Subsystem: "chain",
				Name:      "duration_seconds",
				Help:      "Wall time from traversal start to completion or abort",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "direction"},
		),
		parkedCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phaseflow",
			Subsystem: "chain",
			Name:      "parked_exchanges",
			Help:      "Number of exchanges waiting for a correlated response",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *ChainMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.traversalsTotal,
		m.faultsTotal,
		m.pausesTotal,
		m.durationSeconds,
		m.parkedCurrent,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Hooks records traversal events.
func (m *ChainMetrics) Hooks() chain.Hooks {
	return chain.Hooks{
		OnPause: func(ev chain.Event) {
			endpoint, _ := splitTraversalName(ev.Name)
			m.pausesTotal.WithLabelValues(endpoint).Inc()
		},
		OnFault: func(ev chain.Event, f *exchange.Fault) {
			endpoint, _ := splitTraversalName(ev.Name)
			m.faultsTotal.WithLabelValues(endpoint, f.Code, f.Mode.String()).Inc()
		},
		OnFinish: func(ev chain.Event) {
			endpoint, direction := splitTraversalName(ev.Name)
			m.traversalsTotal.WithLabelValues(endpoint, direction, ev.State.String()).Inc()
			m.durationSeconds.WithLabelValues(endpoint, direction).Observe(ev.Duration.Seconds())
		},
	}
}

// SetParked updates the parked exchange gauge.
func (m *ChainMetrics) SetParked(n int) {
	m.parkedCurrent.Set(float64(n))
}

// Reset resets all metrics (useful for testing).
func (m *ChainMetrics) Reset() {
	m.traversalsTotal.Reset()
	m.faultsTotal.Reset()
	m.pausesTotal.Reset()
	m.durationSeconds.Reset()
	m.parkedCurrent.Set(0)
}

// splitTraversalName splits "endpoint/label" as produced by the service.
func splitTraversalName(name string) (string, string) {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
