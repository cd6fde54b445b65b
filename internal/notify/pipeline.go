// Package notify implements the Notification Pipeline: the enqueue gate
// (dedup + rate limit) and the worker that drains the durable queue,
// fans out to channels, and retries with backoff before dead-lettering.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// Pipeline is the enqueue-side half of the notification flow.
type Pipeline struct {
	store *store.Store
	log   *logging.Logger
}

// New returns a Pipeline backed by ss.
func New(ss *store.Store, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewDefault("notify")
	}
	return &Pipeline{store: ss, log: log}
}

// Enqueue runs the dedup and rate-limit gate for (rule, contextKey) and,
// if both pass, pushes a NotificationTask carrying message onto the
// durable queue. It returns (enqueued, reason) where reason is
// "dedup"/"rate_limit" when enqueued is false, for execution-record
// reporting by the caller.
func (p *Pipeline) Enqueue(ctx context.Context, rule domain.Rule, contextKey, message string) (enqueued bool, reason string, err error) {
	policy := rule.NotifyPolicy
	cooldown := policy.RateLimit.CooldownSeconds
	if cooldown <= 0 {
		cooldown = 60
	}

	ok, err := p.store.TryDedup(ctx, rule.RuleID, contextKey, cooldown)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "dedup", nil
	}

	// Always consult the rate limiter, even for MaxPerMinute == 0: that
	// setting means "block all notifications" (every enqueue exceeds
	// the zero ceiling), not "unlimited".
	_, exceeded, err := p.store.IncrRate(ctx, rule.RuleID, policy.RateLimit.MaxPerMinute)
	if err != nil {
		return false, "", err
	}
	if exceeded {
		return false, "rate_limit", nil
	}

	task := domain.NotificationTask{
		TaskID:     uuid.NewString(),
		RuleID:     rule.RuleID,
		ContextKey: contextKey,
		Targets:    policy.Targets,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.EnqueueNotification(ctx, task); err != nil {
		return false, "", err
	}
	return true, "", nil
}
