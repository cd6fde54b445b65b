// Package metrics provides Prometheus metrics collection for the
// trigger core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for one process.
type Metrics struct {
	EventsIngestedTotal  *prometheus.CounterVec
	EventsDuplicate      prometheus.Counter
	MalformedEventsTotal prometheus.Counter

	RuleEvaluationsTotal *prometheus.CounterVec
	RuleEvaluationErrors *prometheus.CounterVec

	LLMCallsTotal    *prometheus.CounterVec
	LLMCallDuration  *prometheus.HistogramVec
	LLMCacheHitTotal prometheus.Counter

	NotificationsEnqueuedTotal *prometheus.CounterVec
	NotificationsSentTotal     *prometheus.CounterVec
	NotificationsDeadLetter    prometheus.Counter
	NotificationQueueDepth     prometheus.Gauge

	SweepDuration *prometheus.HistogramVec
}

// New creates a Metrics instance and registers every collector with
// registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_events_ingested_total",
				Help: "Total number of events consumed from the broker, by event_type.",
			},
			[]string{"event_type"},
		),
		EventsDuplicate: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_events_duplicate_total",
				Help: "Total number of events rejected as already processed.",
			},
		),
		MalformedEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_events_malformed_total",
				Help: "Total number of broker messages dropped for failing to parse as an event.",
			},
		),
		RuleEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_rule_evaluations_total",
				Help: "Total rule evaluations, by rule_id and outcome (triggered/skipped).",
			},
			[]string{"rule_id", "outcome"},
		),
		RuleEvaluationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_rule_evaluation_errors_total",
				Help: "Rule evaluation errors, by rule_id and stage (expression/llm).",
			},
			[]string{"rule_id", "stage"},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_llm_calls_total",
				Help: "Total LLM Engine model calls, by rule_id and result (ok/error).",
			},
			[]string{"rule_id", "result"},
		),
		LLMCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trigger_llm_call_duration_seconds",
				Help:    "LLM Engine model call latency in seconds.",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"rule_id"},
		),
		LLMCacheHitTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_llm_cache_hit_total",
				Help: "Total LLM Engine calls served from cache without a model round trip.",
			},
		),
		NotificationsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_notifications_enqueued_total",
				Help: "Notifications accepted past dedup/rate-limit, by rule_id.",
			},
			[]string{"rule_id"},
		),
		NotificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trigger_notifications_sent_total",
				Help: "Notification delivery attempts, by channel and result (sent/transient/permanent).",
			},
			[]string{"channel", "result"},
		),
		NotificationsDeadLetter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trigger_notifications_dead_letter_total",
				Help: "Total notifications moved to the dead-letter queue.",
			},
		),
		NotificationQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trigger_notification_queue_depth",
				Help: "Most recently observed depth of the durable notification queue.",
			},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trigger_sweep_duration_seconds",
				Help:    "Periodic-tick sweep duration per rule_id.",
				Buckets: []float64{.01, .05, .1, .5, 1, 5},
			},
			[]string{"rule_id"},
		),
	}

	registerer.MustRegister(
		m.EventsIngestedTotal,
		m.EventsDuplicate,
		m.MalformedEventsTotal,
		m.RuleEvaluationsTotal,
		m.RuleEvaluationErrors,
		m.LLMCallsTotal,
		m.LLMCallDuration,
		m.LLMCacheHitTotal,
		m.NotificationsEnqueuedTotal,
		m.NotificationsSentTotal,
		m.NotificationsDeadLetter,
		m.NotificationQueueDepth,
		m.SweepDuration,
	)
	return m
}

// RecordLLMCall observes one LLM Engine call.
func (m *Metrics) RecordLLMCall(ruleID, result string, d time.Duration) {
	m.LLMCallsTotal.WithLabelValues(ruleID, result).Inc()
	m.LLMCallDuration.WithLabelValues(ruleID).Observe(d.Seconds())
}

// RecordRuleOutcome tallies one rule evaluation's outcome.
func (m *Metrics) RecordRuleOutcome(ruleID, outcome string) {
	m.RuleEvaluationsTotal.WithLabelValues(ruleID, outcome).Inc()
}
