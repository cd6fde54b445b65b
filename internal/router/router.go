// Package router implements the Rule Router: the per-event pipeline
// that ingests a broker message, appends it to its context window,
// matches it against the active rule set, and drives each matched
// rule through its expression/LLM/hybrid evaluation to a notification
// enqueue.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/broker"
	"github.com/Aixtrade/LLMTrigger/internal/contextwindow"
	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
	"github.com/Aixtrade/LLMTrigger/internal/expr"
	"github.com/Aixtrade/LLMTrigger/internal/llmengine"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
	"github.com/Aixtrade/LLMTrigger/internal/rules"
	"github.com/Aixtrade/LLMTrigger/internal/store"
	"github.com/Aixtrade/LLMTrigger/internal/tmc"
)

// Router wires the Rule Repository, Context Window Manager, Expression
// Engine, Trigger Mode Controller, LLM Engine, and Notification
// Pipeline into the full per-event sequence.
type Router struct {
	store  *store.Store
	cwm    *contextwindow.Manager
	rr     *rules.Repository
	expr   *expr.Engine
	tmc    *tmc.Controller
	llm    *llmengine.Engine
	notify *notify.Pipeline
	log    *logging.Logger
	met    *metrics.Metrics
}

// New returns a Router. met may be nil, in which case metrics
// recording is skipped.
func New(ss *store.Store, cwm *contextwindow.Manager, rr *rules.Repository, exprEngine *expr.Engine, tmcCtl *tmc.Controller, llmEngine *llmengine.Engine, np *notify.Pipeline, met *metrics.Metrics, log *logging.Logger) *Router {
	if log == nil {
		log = logging.NewDefault("router")
	}
	return &Router{store: ss, cwm: cwm, rr: rr, expr: exprEngine, tmc: tmcCtl, llm: llmEngine, notify: np, met: met, log: log}
}

// HandleMessage decodes msg.Body as an Event and runs the full pipeline.
// A malformed payload returns a trigerrors.MalformedEvent error, which
// callers should ack and drop rather than nack (the caller decides, so
// this package stays broker-agnostic); any other error (e.g. a store
// failure while establishing idempotency) should be nacked for retry.
// Once the event is marked processed, per-rule failures are isolated
// and logged rather than propagated, so one bad rule never blocks its
// siblings or causes a redelivery storm.
func (rt *Router) HandleMessage(ctx context.Context, msg broker.Message) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return trigerrors.Malformed(err)
	}
	return rt.HandleEvent(ctx, event)
}

// HandleEvent runs the pipeline for an already-decoded event: dedup,
// context append, rule match, per-rule evaluation and routing.
func (rt *Router) HandleEvent(ctx context.Context, event domain.Event) error {
	first, err := rt.store.MarkProcessed(ctx, event.EventID)
	if err != nil {
		return trigerrors.StoreTransient("mark_processed", err)
	}
	if !first {
		if rt.met != nil {
			rt.met.EventsDuplicate.Inc()
		}
		rt.log.WithField("event_id", event.EventID).Debug("duplicate event, skipping")
		return nil
	}
	if rt.met != nil {
		rt.met.EventsIngestedTotal.WithLabelValues(event.EventType).Inc()
	}

	if err := rt.cwm.Append(ctx, event); err != nil {
		rt.log.WithField("event_id", event.EventID).WithField("error", err).Warn("context append failed")
	}

	matched, err := rt.rr.Match(ctx, event.EventType, event.ContextKey)
	if err != nil {
		rt.log.WithField("event_id", event.EventID).WithField("error", err).Warn("rule match failed")
		return nil
	}

	for _, rule := range matched {
		rt.evaluateRule(ctx, rule, event)
	}
	return nil
}

// evaluateRule runs one rule against one event. Panics and errors are
// contained here so a single misbehaving rule cannot affect its
// siblings.
func (rt *Router) evaluateRule(ctx context.Context, rule domain.Rule, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			rt.log.WithField("rule_id", rule.RuleID).WithField("panic", r).Error("rule evaluation panicked")
		}
	}()

	start := time.Now().UTC()

	switch rule.Config.Kind {
	case domain.KindExpression:
		rt.runExpression(ctx, rule, event, start)
	case domain.KindLLM:
		rt.runLLM(ctx, rule, event, start, nil)
	case domain.KindHybrid:
		rt.runHybrid(ctx, rule, event, start)
	}
}

func (rt *Router) runExpression(ctx context.Context, rule domain.Rule, event domain.Event, start time.Time) {
	vars := exprVars(event)
	triggered, err := rt.expr.Evaluate(rule.Config.PreFilter.Expression, vars)
	if err != nil {
		if rt.met != nil {
			rt.met.RuleEvaluationErrors.WithLabelValues(rule.RuleID, "expression").Inc()
		}
		rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("expression evaluation failed")
		return
	}
	if !triggered {
		if rt.met != nil {
			rt.met.RecordRuleOutcome(rule.RuleID, "skipped")
		}
		return
	}
	if rt.met != nil {
		rt.met.RecordRuleOutcome(rule.RuleID, "triggered")
	}
	rt.fire(ctx, rule, event.ContextKey, rule.Config.PreFilter.Expression, nil, start)
}

func (rt *Router) runHybrid(ctx context.Context, rule domain.Rule, event domain.Event, start time.Time) {
	vars := exprVars(event)
	passed, err := rt.expr.Evaluate(rule.Config.PreFilter.Expression, vars)
	if err != nil {
		rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("hybrid pre_filter evaluation failed")
		return
	}
	if !passed {
		return
	}
	rt.runLLM(ctx, rule, event, start, nil)
}

// runLLM drives the rule through the Trigger Mode Controller and, when
// it decides to trigger, the LLM Engine. A non-nil override is an
// Outcome already produced by the controller's Sweep and is used instead
// of calling Decide; event-driven callers pass nil.
func (rt *Router) runLLM(ctx context.Context, rule domain.Rule, event domain.Event, start time.Time, override *tmc.Outcome) {
	var outcome tmc.Outcome
	var err error
	if override != nil {
		outcome = *override
	} else {
		outcome, err = rt.tmc.Decide(ctx, rule, event)
		if err != nil {
			rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("trigger mode decision failed")
			return
		}
	}

	if outcome.Decision != tmc.Trigger {
		return
	}

	cfg := rule.Config.LLM
	callStart := time.Now().UTC()
	result, err := rt.llm.Evaluate(ctx, rule.RuleID, cfg.Description, cfg.ConfidenceThreshold, outcome.Payload, event)
	if outcome.Complete != nil {
		if cerr := outcome.Complete(ctx); cerr != nil {
			rt.log.WithField("rule_id", rule.RuleID).WithField("error", cerr).Warn("trigger mode completion failed")
		}
	}
	if err != nil {
		if rt.met != nil {
			rt.met.RecordLLMCall(rule.RuleID, "error", time.Since(callStart))
			rt.met.RuleEvaluationErrors.WithLabelValues(rule.RuleID, "llm").Inc()
		}
		rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("llm evaluation failed")
		rt.recordLLM(ctx, rule, event, result, start)
		return
	}
	if rt.met != nil {
		rt.met.RecordLLMCall(rule.RuleID, "ok", time.Since(callStart))
	}

	rt.recordLLM(ctx, rule, event, result, start)
	if !result.ShouldTrigger {
		if rt.met != nil {
			rt.met.RecordRuleOutcome(rule.RuleID, "skipped")
		}
		return
	}
	if rt.met != nil {
		rt.met.RecordRuleOutcome(rule.RuleID, "triggered")
	}
	confidence := result.Confidence
	rt.fire(ctx, rule, event.ContextKey, result.Reason, &confidence, start)
}

// fire runs the notification gate and records the outcome.
func (rt *Router) fire(ctx context.Context, rule domain.Rule, contextKey, reason string, confidence *float64, start time.Time) {
	message := notificationMessage(rule, reason)
	enqueued, skipReason, err := rt.notify.Enqueue(ctx, rule, contextKey, message)
	if err != nil {
		rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("notification enqueue failed")
	}

	status := domain.StatusQueued
	if enqueued && rt.met != nil {
		rt.met.NotificationsEnqueuedTotal.WithLabelValues(rule.RuleID).Inc()
	}
	if !enqueued {
		status = domain.StatusSkipped
		if skipReason != "" {
			reason = skipReason
		}
	}

	rt.record(ctx, rule, contextKey, domain.ExecutionRecord{
		ExecutionID:        contextKey + ":" + rule.RuleID + ":" + start.Format(time.RFC3339Nano),
		RuleID:             rule.RuleID,
		ContextKey:         contextKey,
		Triggered:          true,
		Confidence:         confidence,
		Reason:             reason,
		NotificationStatus: status,
		LatencyMS:          time.Since(start).Milliseconds(),
		CreatedAt:          time.Now().UTC(),
	})
}

func (rt *Router) recordLLM(ctx context.Context, rule domain.Rule, event domain.Event, result llmengine.Result, start time.Time) {
	confidence := result.Confidence
	rt.record(ctx, rule, event.ContextKey, domain.ExecutionRecord{
		ExecutionID: event.ContextKey + ":" + rule.RuleID + ":" + start.Format(time.RFC3339Nano),
		RuleID:      rule.RuleID,
		EventID:     event.EventID,
		ContextKey:  event.ContextKey,
		Triggered:   result.ShouldTrigger,
		Confidence:  &confidence,
		Reason:      result.Reason,
		LatencyMS:   time.Since(start).Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	})
}

func (rt *Router) record(ctx context.Context, rule domain.Rule, contextKey string, rec domain.ExecutionRecord) {
	if err := rt.store.RecordExecution(ctx, rec); err != nil {
		rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("execution record write failed")
	}
}

// SweepRule runs the periodic-tick path for one rule: any outcomes the
// Trigger Mode Controller's Sweep produces are routed through the same
// LLM-evaluate-then-fire path as an event-driven trigger, using the
// context key's most recent event as the "current" event for prompting
// and execution-record attribution.
func (rt *Router) SweepRule(ctx context.Context, rule domain.Rule) {
	if rule.Config.Kind != domain.KindLLM && rule.Config.Kind != domain.KindHybrid {
		return
	}
	sweepStart := time.Now().UTC()
	defer func() {
		if rt.met != nil {
			rt.met.SweepDuration.WithLabelValues(rule.RuleID).Observe(time.Since(sweepStart).Seconds())
		}
	}()
	outcomes, err := rt.tmc.Sweep(ctx, rule)
	if err != nil {
		rt.log.WithField("rule_id", rule.RuleID).WithField("error", err).Warn("sweep failed")
		return
	}
	for contextKey, outcome := range outcomes {
		current := latestEvent(outcome.Payload, contextKey)
		start := time.Now().UTC()
		o := outcome
		rt.runLLM(ctx, rule, current, start, &o)
	}
}

func latestEvent(events []domain.Event, contextKey string) domain.Event {
	if len(events) == 0 {
		return domain.Event{ContextKey: contextKey, Timestamp: time.Now().UTC()}
	}
	return events[len(events)-1]
}

func exprVars(event domain.Event) map[string]interface{} {
	vars := make(map[string]interface{}, len(event.Data)+3)
	for k, v := range event.Data {
		vars[k] = v
	}
	vars["event_type"] = event.EventType
	vars["context_key"] = event.ContextKey
	vars["event_id"] = event.EventID
	return vars
}

func notificationMessage(rule domain.Rule, reason string) string {
	if reason == "" {
		return rule.Name
	}
	return rule.Name + ": " + reason
}
