package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// Metrics holds the tracker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	commitFailures  prometheus.Counter
	quoteFailures   prometheus.Counter
	activePositions prometheus.Gauge
	closes          *prometheus.CounterVec
	milestones      *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "optionbot", Subsystem: "poller", Name: "cycles_total",
			Help: "Completed poll cycles.",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "optionbot", Subsystem: "poller", Name: "cycle_duration_seconds",
			Help:    "Wall time of a poll cycle including fan-in and commit.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		commitFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "optionbot", Subsystem: "poller", Name: "commit_failures_total",
			Help: "Poll cycles whose batch was rolled back.",
		}),
		quoteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "optionbot", Subsystem: "poller", Name: "quote_failures_total",
			Help: "Quote fetches that failed or timed out.",
		}),
		activePositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "optionbot", Subsystem: "poller", Name: "active_positions",
			Help: "Active positions seen by the last cycle.",
		}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optionbot", Name: "positions_closed_total",
			Help: "Positions closed, by reason.",
		}, []string{"reason"}),
		milestones: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optionbot", Name: "milestones_total",
			Help: "Milestone crossings, by tier.",
		}, []string{"tier"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "optionbot", Subsystem: "evaluator", Name: "queue_depth",
			Help: "Position ids waiting for milestone evaluation.",
		}),
	}
}

func (m *Metrics) cycleDone(start time.Time, active int) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(time.Since(start).Seconds())
	m.activePositions.Set(float64(active))
}

func (m *Metrics) commitFailed() {
	if m != nil {
		m.commitFailures.Inc()
	}
}

func (m *Metrics) quoteFailed() {
	if m != nil {
		m.quoteFailures.Inc()
	}
}

func (m *Metrics) closed(reason domain.CloseReason) {
	if m != nil {
		m.closes.WithLabelValues(string(reason)).Inc()
	}
}

func (m *Metrics) milestone(tier int) {
	if m != nil {
		m.milestones.WithLabelValues(strconv.Itoa(tier)).Inc()
	}
}

func (m *Metrics) queueLen(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
