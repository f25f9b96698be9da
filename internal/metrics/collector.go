// Package metrics provides internal metrics collection for the dialog
// engine. This package is internal and should not be imported by
// external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the prometheus instruments of the dialog
// subsystem. A nil *Collector is valid and records nothing, so wiring
// metrics stays optional in tests.
type Collector struct {
	eventsProcessed    *prometheus.CounterVec
	eventDuration      *prometheus.HistogramVec
	transitionsTotal   *prometheus.CounterVec
	infiniteLoops      *prometheus.CounterVec
	suggestionsTotal   *prometheus.CounterVec
	guardEvalDuration  *prometheus.HistogramVec
	flowCacheFills     *prometheus.CounterVec
	janitorSweeps      prometheus.Counter
	janitorExpired     prometheus.Counter
	janitorTimeouts    prometheus.Counter
	janitorLockSkipped prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector registering under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_events_total",
			Help:      "Total number of dialog events processed",
		},
		[]string{"bot", "status"},
	)

	c.eventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dialog_event_duration_seconds",
			Help:      "Dialog event processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"bot"},
	)

	c.transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_transitions_total",
			Help:      "Total number of committed flow transitions",
		},
		[]string{"bot", "kind"},
	)

	c.infiniteLoops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_infinite_loops_total",
			Help:      "Total number of aborted infinite loops",
		},
		[]string{"bot"},
	)

	c.suggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_suggestions_total",
			Help:      "Total number of suggestions by election outcome",
		},
		[]string{"bot", "status"},
	)

	c.guardEvalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dialog_guard_eval_duration_seconds",
			Help:      "Transition guard evaluation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"sandboxed"},
	)

	c.flowCacheFills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_cache_fills_total",
			Help:      "Total number of flow cache fills",
		},
		[]string{"bot"},
	)

	c.janitorSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_sweeps_total",
		Help:      "Total number of janitor sweeps",
	})

	c.janitorExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_sessions_expired_total",
		Help:      "Total number of expired sessions deleted by the janitor",
	})

	c.janitorTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_timeouts_total",
		Help:      "Total number of stale contexts driven through timeout handling",
	})

	c.janitorLockSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_lock_skipped_total",
		Help:      "Total number of stale sessions skipped because another node held the lock",
	})

	return c
}

// RecordEvent records one processed dialog event.
func (c *Collector) RecordEvent(bot, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.eventsProcessed.WithLabelValues(bot, status).Inc()
	c.eventDuration.WithLabelValues(bot).Observe(elapsed.Seconds())
}

// RecordTransition records one committed transition by destination kind.
func (c *Collector) RecordTransition(bot, kind string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(bot, kind).Inc()
}

// RecordInfiniteLoop records one aborted infinite loop.
func (c *Collector) RecordInfiniteLoop(bot string) {
	if c == nil {
		return
	}
	c.infiniteLoops.WithLabelValues(bot).Inc()
}

// RecordSuggestion records one suggestion election outcome.
func (c *Collector) RecordSuggestion(bot, status string) {
	if c == nil {
		return
	}
	c.suggestionsTotal.WithLabelValues(bot, status).Inc()
}

// RecordGuardEval records one guard evaluation.
func (c *Collector) RecordGuardEval(sandboxed bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	label := "false"
	if sandboxed {
		label = "true"
	}
	c.guardEvalDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// RecordFlowCacheFill records one flow cache fill.
func (c *Collector) RecordFlowCacheFill(bot string) {
	if c == nil {
		return
	}
	c.flowCacheFills.WithLabelValues(bot).Inc()
}

// RecordSweep records one janitor sweep with its outcomes.
func (c *Collector) RecordSweep(expired, timeouts, lockSkipped int) {
	if c == nil {
		return
	}
	c.janitorSweeps.Inc()
	c.janitorExpired.Add(float64(expired))
	c.janitorTimeouts.Add(float64(timeouts))
	c.janitorLockSkipped.Add(float64(lockSkipped))
}
