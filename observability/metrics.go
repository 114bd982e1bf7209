package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	soulTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axobase",
			Subsystem: "ledger",
			Name:      "soul_transitions_total",
			Help:      "Applied soul status transitions.",
		},
		[]string{"from", "to"},
	)
	transitionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axobase",
			Subsystem: "ledger",
			Name:      "transition_conflicts_total",
			Help:      "Guarded transitions rejected by the status guard.",
		},
		[]string{"from", "to"},
	)
	chainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axobase",
			Subsystem: "chain",
			Name:      "events_total",
			Help:      "On-chain events by type and ingestion outcome.",
		},
		[]string{"event", "outcome"},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "axobase",
			Subsystem: "chain",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one ingestor poll tick.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	deployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axobase",
			Subsystem: "deploy",
			Name:      "deployments_total",
			Help:      "Provisioning attempts by result.",
		},
		[]string{"result"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axobase",
			Subsystem: "vault",
			Name:      "sessions_total",
			Help:      "Session key lifecycle counts.",
		},
		[]string{"op"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "axobase",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "axobase",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			soulTransitions, transitionConflicts,
			chainEvents, pollDuration,
			deployments, sessions,
			httpRequests, httpDuration,
		)
	})
}

func RecordSoulTransition(from, to string) {
	RegisterMetrics()
	soulTransitions.WithLabelValues(from, to).Inc()
}

func RecordTransitionConflict(from, to string) {
	RegisterMetrics()
	transitionConflicts.WithLabelValues(from, to).Inc()
}

// RecordChainEvent outcomes: observed, processed, failed, skipped, quarantined.
func RecordChainEvent(event, outcome string) {
	RegisterMetrics()
	chainEvents.WithLabelValues(event, outcome).Inc()
}

func RecordPollTick(duration time.Duration) {
	RegisterMetrics()
	pollDuration.Observe(duration.Seconds())
}

// RecordDeployment results: deployed, failed, closed.
func RecordDeployment(result string) {
	RegisterMetrics()
	deployments.WithLabelValues(result).Inc()
}

// RecordSession ops: issued, consumed, rejected, expired, invalidated.
func RecordSession(op string) {
	RegisterMetrics()
	sessions.WithLabelValues(op).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
