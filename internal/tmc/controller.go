// Package tmc implements the Trigger Mode Controller: per (rule,
// context_key) state deciding whether an event skips, pends, or
// triggers LLM inference, for the three modes realtime, batch, and
// interval.
package tmc

import (
	"context"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// Decision is the TMC's output for a single event.
type Decision int

const (
	Skip Decision = iota
	Pending
	Trigger
)

// Outcome carries the decision plus the analysis payload to hand to the
// LLM Engine and, for interval mode, the completion callback that must
// be invoked once analysis finishes to release the interval lock.
type Outcome struct {
	Decision Decision
	// Payload is the "current events under analysis": for realtime and
	// interval modes this is the context window read; for batch mode it
	// is the flushed batch snapshot, stored as full event copies rather
	// than references.
	Payload []domain.Event
	// Complete must be called exactly once after the LLM Engine call
	// finishes, for interval mode's lock release. It is a no-op for
	// realtime/batch.
	Complete func(ctx context.Context) error
}

// Controller decides TMC transitions using Store-backed atomic
// primitives so multiple worker processes share one source of truth.
type Controller struct {
	store *store.Store
}

// New returns a Controller backed by ss.
func New(ss *store.Store) *Controller {
	return &Controller{store: ss}
}

// Decide implements the per-event transition for rule's configured
// trigger mode.
func (c *Controller) Decide(ctx context.Context, rule domain.Rule, event domain.Event) (Outcome, error) {
	cfg := rule.Config.LLM
	switch cfg.TriggerMode {
	case domain.ModeRealtime:
		return c.decideRealtime(ctx, rule.RuleID, event.ContextKey)
	case domain.ModeBatch:
		return c.decideBatch(ctx, rule.RuleID, event, cfg)
	case domain.ModeInterval:
		return c.decideInterval(ctx, rule.RuleID, event.ContextKey, cfg)
	default:
		return Outcome{Decision: Skip}, nil
	}
}

func noopComplete(context.Context) error { return nil }

func (c *Controller) decideRealtime(ctx context.Context, _ string, contextKey string) (Outcome, error) {
	events, err := c.store.ReadContext(ctx, contextKey)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Decision: Trigger, Payload: events, Complete: noopComplete}, nil
}

func (c *Controller) decideBatch(ctx context.Context, ruleID string, event domain.Event, cfg *domain.LLMConfig) (Outcome, error) {
	flushed, batch, err := c.store.AppendBatch(ctx, ruleID, event.ContextKey, event, cfg.BatchSize, cfg.MaxWaitSeconds)
	if err != nil {
		return Outcome{}, err
	}
	if !flushed {
		return Outcome{Decision: Pending}, nil
	}
	return Outcome{Decision: Trigger, Payload: batch, Complete: noopComplete}, nil
}

func (c *Controller) decideInterval(ctx context.Context, ruleID string, contextKey string, cfg *domain.LLMConfig) (Outcome, error) {
	acquired, err := c.store.TryInterval(ctx, ruleID, contextKey, cfg.IntervalSeconds)
	if err != nil {
		return Outcome{}, err
	}
	if !acquired {
		return Outcome{Decision: Skip}, nil
	}
	events, err := c.store.ReadContext(ctx, contextKey)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Decision: Trigger,
		Payload:  events,
		Complete: func(ctx context.Context) error {
			return c.store.CompleteInterval(ctx, ruleID, contextKey)
		},
	}, nil
}

// Sweep implements the periodic-tick responsibilities for a single
// rule: flush any batch accumulator whose max_wait has
// expired, and fire interval checks for context keys whose clock has
// elapsed even without a new event. It returns one Outcome per
// (context_key) that should analyze now; callers run the LLM Engine
// over each and must invoke Complete.
func (c *Controller) Sweep(ctx context.Context, rule domain.Rule) (map[string]Outcome, error) {
	cfg := rule.Config.LLM
	out := make(map[string]Outcome)

	switch cfg.TriggerMode {
	case domain.ModeBatch:
		keys, err := c.store.ActiveBatchContextKeys(ctx, rule.RuleID)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			flushed, batch, err := c.store.SweepBatch(ctx, rule.RuleID, key, cfg.BatchSize, cfg.MaxWaitSeconds)
			if err != nil {
				continue
			}
			if flushed {
				out[key] = Outcome{Decision: Trigger, Payload: batch, Complete: noopComplete}
			}
		}
	case domain.ModeInterval:
		keys, err := c.store.ActiveIntervalContextKeys(ctx, rule.RuleID)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			acquired, err := c.store.TryInterval(ctx, rule.RuleID, key, cfg.IntervalSeconds)
			if err != nil || !acquired {
				continue
			}
			events, err := c.store.ReadContext(ctx, key)
			if err != nil {
				continue
			}
			ruleID := rule.RuleID
			contextKey := key
			out[key] = Outcome{
				Decision: Trigger,
				Payload:  events,
				Complete: func(ctx context.Context) error {
					return c.store.CompleteInterval(ctx, ruleID, contextKey)
				},
			}
		}
	}
	return out, nil
}
