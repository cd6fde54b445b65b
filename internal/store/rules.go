package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

// ruleUpdateMsg is the payload published on RulesUpdateChannel.
type ruleUpdateMsg struct {
	Action string `json:"action"`
	RuleID string `json:"rule_id"`
}

// PutRule persists rule, updates the by-event-type index, bumps both the
// rule's own version and the global rules_version counter, and
// publishes a best-effort invalidation hint.
func (s *Store) PutRule(ctx context.Context, rule domain.Rule, oldEventTypes []string) (domain.Rule, error) {
	rule.Version++

	payload, err := json.Marshal(rule)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("marshal rule: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, et := range oldEventTypes {
			pipe.SRem(ctx, keyRulesIndex(et), rule.RuleID)
		}
		for _, et := range rule.EventTypes {
			pipe.SAdd(ctx, keyRulesIndex(et), rule.RuleID)
		}
		pipe.SAdd(ctx, keyRulesAll(), rule.RuleID)
		pipe.Set(ctx, keyRuleDetail(rule.RuleID), payload, 0)
		pipe.Incr(ctx, keyRulesVersion())
		return nil
	})
	if err != nil {
		return domain.Rule{}, err
	}

	s.publishRuleUpdate(ctx, "upsert", rule.RuleID)
	return rule, nil
}

// DeleteRule removes rule from the catalog and its event-type index.
func (s *Store) DeleteRule(ctx context.Context, rule domain.Rule) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, et := range rule.EventTypes {
			pipe.SRem(ctx, keyRulesIndex(et), rule.RuleID)
		}
		pipe.SRem(ctx, keyRulesAll(), rule.RuleID)
		pipe.Del(ctx, keyRuleDetail(rule.RuleID))
		pipe.Incr(ctx, keyRulesVersion())
		return nil
	})
	if err != nil {
		return err
	}
	s.publishRuleUpdate(ctx, "delete", rule.RuleID)
	return nil
}

func (s *Store) publishRuleUpdate(ctx context.Context, action, ruleID string) {
	payload, err := json.Marshal(ruleUpdateMsg{Action: action, RuleID: ruleID})
	if err != nil {
		return
	}
	// Best-effort: pub/sub is a latency hint, never a correctness
	// dependency, so a publish error is only logged.
	if err := s.rdb.Publish(ctx, RulesUpdateChannel, payload).Err(); err != nil {
		s.log.WithField("rule_id", ruleID).WithField("error", err).Warn("rule update publish failed")
	}
}

// GetRule fetches a single rule by ID.
func (s *Store) GetRule(ctx context.Context, ruleID string) (domain.Rule, error) {
	raw, err := s.rdb.Get(ctx, keyRuleDetail(ruleID)).Result()
	if err != nil {
		return domain.Rule{}, err
	}
	var rule domain.Rule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return domain.Rule{}, fmt.Errorf("unmarshal rule %s: %w", ruleID, err)
	}
	return rule, nil
}

// RuleIDsForEventType returns the rule IDs indexed for eventType.
func (s *Store) RuleIDsForEventType(ctx context.Context, eventType string) ([]string, error) {
	return s.rdb.SMembers(ctx, keyRulesIndex(eventType)).Result()
}

// AllRules returns every rule in the catalog, used by the periodic
// ticker to sweep batch/interval rules regardless of whether any event
// has touched their event types recently.
func (s *Store) AllRules(ctx context.Context) ([]domain.Rule, error) {
	ids, err := s.rdb.SMembers(ctx, keyRulesAll()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Rule, 0, len(ids))
	for _, id := range ids {
		rule, err := s.GetRule(ctx, id)
		if err != nil {
			s.log.WithField("rule_id", id).WithField("error", err).Warn("skipping unreadable rule during sweep listing")
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// RulesVersion returns the current global rules_version counter.
func (s *Store) RulesVersion(ctx context.Context) (int64, error) {
	raw, err := s.rdb.Get(ctx, keyRulesVersion()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SubscribeRuleUpdates returns a PubSub for the best-effort invalidation
// channel; callers must Close() it.
func (s *Store) SubscribeRuleUpdates(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, RulesUpdateChannel)
}
