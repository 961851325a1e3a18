package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the game collectors. A nil *Metrics records nothing.
type Metrics struct {
	attempts     *prometheus.CounterVec
	points       prometheus.Counter
	lockWait     *prometheus.HistogramVec
	lockFailures *prometheus.CounterVec
	transitions  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_attempts_total",
			Help: "Answer attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trivia_points_awarded_total",
			Help: "Points awarded to winning attempts.",
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trivia_lock_wait_seconds",
			Help:    "Time spent waiting for a lock.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"domain"}),
		lockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_lock_failures_total",
			Help: "Lock acquisitions that gave up.",
		}, []string{"domain"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_session_transitions_total",
			Help: "Game session transitions by kind and result.",
		}, []string{"transition", "result"}),
	}
	reg.MustRegister(m.attempts, m.points, m.lockWait, m.lockFailures, m.transitions)
	return m
}

// Handler serves the collectors of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Attempt(channel, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) PointsAwarded(points int64) {
	if m == nil {
		return
	}
	m.points.Add(float64(points))
}

func (m *Metrics) LockWait(domain string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(domain).Observe(d.Seconds())
}

func (m *Metrics) LockFailure(domain string) {
	if m == nil {
		return
	}
	m.lockFailures.WithLabelValues(domain).Inc()
}

func (m *Metrics) Transition(transition, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, result).Inc()
}
