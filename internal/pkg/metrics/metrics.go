package metrics

import (
	"time"

	"trip-planner-be/pkg/planner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the planner collectors. Create one per registry.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	FallbacksTotal   *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	SessionEvictions prometheus.Counter

	reg prometheus.Registerer
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_turns_total",
				Help: "Planner turns by result (primary, fallback, failed, cancelled)",
			},
			[]string{"result"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_turn_duration_seconds",
				Help:    "Wall time of a planner turn including fallback and persistence",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
			},
			[]string{"result"},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_fallbacks_total",
				Help: "Turns answered by the fallback responder, by trigger",
			},
			[]string{"trigger"},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planner_phase_duration_seconds",
				Help:    "Duration of pipeline phases",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		SessionEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "planner_session_evictions_total",
				Help: "Pipeline sessions evicted from the in-memory store",
			},
		),
		reg: reg,
	}
}

func (m *Metrics) ObserveTurn(result string, elapsed time.Duration) {
	m.TurnsTotal.WithLabelValues(result).Inc()
	m.TurnDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFallback(trigger planner.FallbackTrigger) {
	m.FallbacksTotal.WithLabelValues(string(trigger)).Inc()
}

func (m *Metrics) ObservePhase(phase string, elapsed time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// SessionEvicted is installed as the session store's evict hook.
func (m *Metrics) SessionEvicted(string) {
	m.SessionEvictions.Inc()
}

// TrackSessions exposes the live pipeline session count.
func (m *Metrics) TrackSessions(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "planner_sessions_active",
			Help: "Pipeline sessions currently held in memory",
		},
		func() float64 { return float64(count()) },
	)
}
