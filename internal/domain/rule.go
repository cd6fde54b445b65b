package domain

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind is the architectural shape of a rule.
type RuleKind string

const (
	KindExpression RuleKind = "expression"
	KindLLM        RuleKind = "llm"
	KindHybrid     RuleKind = "hybrid"
)

// TriggerMode controls when an LLM rule actually invokes the model.
type TriggerMode string

const (
	ModeRealtime TriggerMode = "realtime"
	ModeBatch    TriggerMode = "batch"
	ModeInterval TriggerMode = "interval"
)

// PreFilter is the expression pre-check used by expression and hybrid
// rules.
type PreFilter struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
}

// LLMConfig parameterizes the LLM Engine and Trigger Mode Controller for
// llm/hybrid rules.
type LLMConfig struct {
	Description          string      `json:"description"`
	TriggerMode          TriggerMode `json:"trigger_mode"`
	BatchSize            int         `json:"batch_size,omitempty"`
	MaxWaitSeconds       int         `json:"max_wait_seconds,omitempty"`
	IntervalSeconds      int         `json:"interval_seconds,omitempty"`
	ConfidenceThreshold  float64     `json:"confidence_threshold"`
}

// Clamp normalizes ConfidenceThreshold into [0,1], defaulting to 0.7.
func (c *LLMConfig) Clamp() {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.ConfidenceThreshold < 0 {
		c.ConfidenceThreshold = 0
	}
	if c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = 1
	}
}

// TargetKind tags a notification Target.
type TargetKind string

const (
	TargetTelegram TargetKind = "telegram"
	TargetWeCom    TargetKind = "wecom"
	TargetEmail    TargetKind = "email"
)

// Target is a tagged-union notification destination.
type Target struct {
	Kind       TargetKind `json:"kind"`
	ChatID     string     `json:"chat_id,omitempty"`
	WebhookKey string     `json:"webhook_key,omitempty"`
	To         []string   `json:"to,omitempty"`
}

// RateLimit bounds how often a rule may enqueue notifications.
type RateLimit struct {
	MaxPerMinute    int `json:"max_per_minute"`
	CooldownSeconds int `json:"cooldown_seconds"`
}

// NotifyPolicy describes where and how often a fired rule may notify.
type NotifyPolicy struct {
	Targets   []Target  `json:"targets"`
	RateLimit RateLimit `json:"rate_limit"`
}

// RuleConfig is the kind-tagged union of sub-configs.
type RuleConfig struct {
	Kind      RuleKind   `json:"kind"`
	PreFilter *PreFilter `json:"pre_filter,omitempty"`
	LLM       *LLMConfig `json:"llm_config,omitempty"`
}

// Rule is the authoritative, versioned rule record.
type Rule struct {
	RuleID      string       `json:"rule_id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Enabled     bool         `json:"enabled"`
	Priority    int          `json:"priority"`
	EventTypes  []string     `json:"event_types"`
	ContextKeys []string     `json:"context_keys"`
	Config      RuleConfig   `json:"rule_config"`
	NotifyPolicy NotifyPolicy `json:"notify_policy"`
	Version     int64        `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate enforces that rule_config.kind is one of the three known
// kinds and carries the matching sub-config.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.RuleID) == "" {
		return fmt.Errorf("rule_id is required")
	}
	if len(r.EventTypes) == 0 {
		return fmt.Errorf("event_types must be non-empty")
	}
	switch r.Config.Kind {
	case KindExpression:
		if r.Config.PreFilter == nil || strings.TrimSpace(r.Config.PreFilter.Expression) == "" {
			return fmt.Errorf("expression rule requires pre_filter.expression")
		}
	case KindLLM:
		if err := validateLLMConfig(r.Config.LLM); err != nil {
			return err
		}
	case KindHybrid:
		if r.Config.PreFilter == nil || strings.TrimSpace(r.Config.PreFilter.Expression) == "" {
			return fmt.Errorf("hybrid rule requires pre_filter.expression")
		}
		if err := validateLLMConfig(r.Config.LLM); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown rule_config.kind %q", r.Config.Kind)
	}
	return nil
}

func validateLLMConfig(cfg *LLMConfig) error {
	if cfg == nil {
		return fmt.Errorf("llm rule requires llm_config")
	}
	switch cfg.TriggerMode {
	case ModeRealtime:
	case ModeBatch:
		if cfg.BatchSize <= 0 || cfg.MaxWaitSeconds <= 0 {
			return fmt.Errorf("batch trigger_mode requires batch_size and max_wait_seconds")
		}
	case ModeInterval:
		if cfg.IntervalSeconds <= 0 {
			return fmt.Errorf("interval trigger_mode requires interval_seconds")
		}
	default:
		return fmt.Errorf("unknown trigger_mode %q", cfg.TriggerMode)
	}
	return nil
}

// MatchesContextKey implements the glob rule: empty ContextKeys matches
// everything; otherwise at least one pattern must
// glob-match contextKey, where '*' matches any substring within the
// dot-separated key.
func (r *Rule) MatchesContextKey(contextKey string) bool {
	if len(r.ContextKeys) == 0 {
		return true
	}
	for _, pattern := range r.ContextKeys {
		if GlobMatch(pattern, contextKey) {
			return true
		}
	}
	return false
}

// HasEventType reports whether the rule listens for eventType.
func (r *Rule) HasEventType(eventType string) bool {
	for _, t := range r.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
