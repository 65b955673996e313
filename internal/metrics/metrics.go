// Package metrics provides Prometheus collectors for the event service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abrezinsky/eventxp/internal/models"
)

// Manager owns every collector and the registry they are exposed from.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	transitions     *prometheus.CounterVec
	ballots         *prometheus.CounterVec
	awardPasses     *prometheus.CounterVec
	awardPoints     prometheus.Counter
	awardDuration   prometheus.Histogram
	ledgerApplies   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers collectors on r instead of a fresh private registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for duration metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// NewManager creates a metrics manager with its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "eventxp",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.transitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "event_transitions_total",
		Help:      "Event status transitions by source and target status",
	}, []string{"from", "to"})

	m.ballots = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "ballots_total",
		Help:      "Accepted ballots by kind",
	}, []string{"kind"})

	m.awardPasses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "award_passes_total",
		Help:      "XP award passes by outcome",
	}, []string{"outcome"})

	m.awardPoints = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "award_points_total",
		Help:      "XP points credited to ledgers",
	})

	m.awardDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "award_pass_duration_seconds",
		Help:      "Duration of XP award passes",
		Buckets:   m.buckets,
	})

	m.ledgerApplies = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "ledger_applies_total",
		Help:      "Ledger award applications; skipped means already applied for the event",
	}, []string{"result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestTime = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route and method",
		Buckets:   m.buckets,
	}, []string{"route", "method"})
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TransitionRecorded counts a committed status change.
func (m *Manager) TransitionRecorded(from, to models.EventStatus) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// BallotRecorded counts an accepted ballot.
func (m *Manager) BallotRecorded(kind string) {
	m.ballots.WithLabelValues(kind).Inc()
}

// AwardPassFinished records one award pass.
func (m *Manager) AwardPassFinished(outcome string, points int64, elapsed time.Duration) {
	m.awardPasses.WithLabelValues(outcome).Inc()
	if points > 0 {
		m.awardPoints.Add(float64(points))
	}
	m.awardDuration.Observe(elapsed.Seconds())
}

// LedgerApplied counts one ledger write attempt that did not fail.
func (m *Manager) LedgerApplied(applied bool) {
	result := "applied"
	if !applied {
		result = "skipped"
	}
	m.ledgerApplies.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *Manager) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestTime.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
