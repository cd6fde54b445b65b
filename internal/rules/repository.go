// Package rules implements the Rule Repository: the authoritative rule
// catalog with a versioned in-process cache and a change notification
// channel.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// Repository caches rules in-process keyed by event type, tagged with
// the global version it was built from; on each Match it compares the
// local version to the store's global counter and invalidates+refetches
// when stale. Correctness never depends on any single refresh
// succeeding promptly, only on the version comparison eventually being
// checked again.
type Repository struct {
	store *store.Store
	log   *logging.Logger

	mu           sync.RWMutex
	cachedVersion int64
	byEventType  map[string][]domain.Rule
}

// New returns a Repository backed by ss.
func New(ss *store.Store, log *logging.Logger) *Repository {
	if log == nil {
		log = logging.NewDefault("rules")
	}
	return &Repository{store: ss, log: log, byEventType: make(map[string][]domain.Rule)}
}

// Create validates and persists a new rule, returning it with its
// version and timestamps populated.
func (r *Repository) Create(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.Config.Kind == domain.KindLLM || rule.Config.Kind == domain.KindHybrid {
		rule.Config.LLM.Clamp()
	}
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, trigerrors.Invalid(err.Error())
	}
	return r.store.PutRule(ctx, rule, nil)
}

// Update validates and persists changes to an existing rule.
func (r *Repository) Update(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	existing, err := r.store.GetRule(ctx, rule.RuleID)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("fetch existing rule %s: %w", rule.RuleID, err)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if rule.Config.Kind == domain.KindLLM || rule.Config.Kind == domain.KindHybrid {
		rule.Config.LLM.Clamp()
	}
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, trigerrors.Invalid(err.Error())
	}
	return r.store.PutRule(ctx, rule, existing.EventTypes)
}

// SetEnabled toggles enabled without touching other fields.
func (r *Repository) SetEnabled(ctx context.Context, ruleID string, enabled bool) (domain.Rule, error) {
	existing, err := r.store.GetRule(ctx, ruleID)
	if err != nil {
		return domain.Rule{}, err
	}
	existing.Enabled = enabled
	existing.UpdatedAt = time.Now().UTC()
	return r.store.PutRule(ctx, existing, existing.EventTypes)
}

// Delete removes a rule from the catalog.
func (r *Repository) Delete(ctx context.Context, ruleID string) error {
	existing, err := r.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	return r.store.DeleteRule(ctx, existing)
}

// Get fetches a single rule directly from the store (bypassing the
// match cache, since single-rule reads are rare relative to Match).
func (r *Repository) Get(ctx context.Context, ruleID string) (domain.Rule, error) {
	return r.store.GetRule(ctx, ruleID)
}

// Match returns enabled rules listening for eventType whose
// context_keys match contextKey, sorted by descending priority with
// ties broken by ascending rule_id.
func (r *Repository) Match(ctx context.Context, eventType, contextKey string) ([]domain.Rule, error) {
	r.mu.Lock()
	if _, ok := r.byEventType[eventType]; !ok {
		// First sight of this event type: track it and force a rebuild so
		// rules already indexed for it are loaded.
		r.byEventType[eventType] = nil
		r.cachedVersion = -1
	}
	r.mu.Unlock()

	if err := r.refreshIfStale(ctx); err != nil {
		// A stale cache is not fatal: fall back to whatever is cached
		// (possibly empty) and log rather than fail the whole match.
		r.log.WithField("error", err).Warn("rule cache refresh failed; serving from cache")
	}

	r.mu.RLock()
	candidates := append([]domain.Rule(nil), r.byEventType[eventType]...)
	r.mu.RUnlock()

	matched := make([]domain.Rule, 0, len(candidates))
	for _, rule := range candidates {
		if !rule.Enabled {
			continue
		}
		if !rule.MatchesContextKey(contextKey) {
			continue
		}
		matched = append(matched, rule)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].RuleID < matched[j].RuleID
	})
	return matched, nil
}

// ActiveRules returns every enabled rule in the catalog, bypassing the
// event-type cache. The periodic ticker uses this to sweep batch and
// interval rules even for context keys whose event type has not
// produced traffic recently.
func (r *Repository) ActiveRules(ctx context.Context) ([]domain.Rule, error) {
	all, err := r.store.AllRules(ctx)
	if err != nil {
		return nil, trigerrors.StoreTransient("all_rules", err)
	}
	active := make([]domain.Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	return active, nil
}

func (r *Repository) refreshIfStale(ctx context.Context) error {
	current, err := r.store.RulesVersion(ctx)
	if err != nil {
		return trigerrors.StoreTransient("rules_version", err)
	}

	r.mu.RLock()
	stale := current != r.cachedVersion
	r.mu.RUnlock()
	if !stale {
		return nil
	}
	return r.rebuild(ctx, current)
}

// rebuild re-reads every rule referenced by any event-type index. It is
// called only on a version mismatch, so it is not on the hot path for
// steady-state traffic.
func (r *Repository) rebuild(ctx context.Context, version int64) error {
	r.mu.RLock()
	eventTypes := make([]string, 0, len(r.byEventType))
	for et := range r.byEventType {
		eventTypes = append(eventTypes, et)
	}
	r.mu.RUnlock()

	byEventType := make(map[string][]domain.Rule)
	seen := make(map[string]domain.Rule)

	collect := func(eventType string) error {
		ids, err := r.store.RuleIDsForEventType(ctx, eventType)
		if err != nil {
			return err
		}
		rules := make([]domain.Rule, 0, len(ids))
		for _, id := range ids {
			if cached, ok := seen[id]; ok {
				rules = append(rules, cached)
				continue
			}
			rule, err := r.store.GetRule(ctx, id)
			if err != nil {
				r.log.WithField("rule_id", id).WithField("error", err).Warn("skipping unreadable rule")
				continue
			}
			if err := rule.Validate(); err != nil {
				r.log.WithField("rule_id", id).WithField("error", err).Warn("skipping invalid rule")
				continue
			}
			seen[id] = rule
			rules = append(rules, rule)
		}
		byEventType[eventType] = rules
		return nil
	}

	for _, et := range eventTypes {
		if err := collect(et); err != nil {
			return err
		}
	}

	r.mu.Lock()
	for et, rules := range byEventType {
		r.byEventType[et] = rules
	}
	r.cachedVersion = version
	r.mu.Unlock()
	return nil
}

// EnsureEventType registers eventType with the in-process cache so
// subsequent Match calls know to track it, even before any rule has
// been seen for it. Match registers an unseen event type the same way,
// so calling this first is optional.
func (r *Repository) EnsureEventType(ctx context.Context, eventType string) error {
	r.mu.RLock()
	_, ok := r.byEventType[eventType]
	r.mu.RUnlock()
	if ok {
		return nil
	}
	r.mu.Lock()
	if _, ok := r.byEventType[eventType]; !ok {
		r.byEventType[eventType] = nil
		r.cachedVersion = -1
	}
	r.mu.Unlock()
	return r.refreshIfStale(ctx)
}

// WatchInvalidations subscribes to the best-effort pub/sub channel and
// forces a refresh on the next Match call whenever a message arrives.
// It is a latency optimization only: correctness never depends on a
// message being delivered.
func (r *Repository) WatchInvalidations(ctx context.Context) {
	pubsub := r.store.SubscribeRuleUpdates(ctx)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				r.mu.Lock()
				r.cachedVersion = -1
				r.mu.Unlock()
			}
		}
	}()
}
