package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

const llmCacheTTL = 60 * time.Second

// LLMResult mirrors the LLM Engine's output shape for caching.
type LLMResult struct {
	ShouldTrigger bool    `json:"should_trigger"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

// GetLLMCache returns the cached result for (ruleID, contextHash), if
// any. ok is false on a cache miss.
func (s *Store) GetLLMCache(ctx context.Context, ruleID, contextHash string) (LLMResult, bool, error) {
	raw, err := s.rdb.Get(ctx, keyLLMCache(ruleID, contextHash)).Result()
	if err == redis.Nil {
		return LLMResult{}, false, nil
	}
	if err != nil {
		return LLMResult{}, false, err
	}
	var res LLMResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return LLMResult{}, false, nil
	}
	return res, true, nil
}

// SetLLMCache stores a successful (cacheable) result for 60s.
func (s *Store) SetLLMCache(ctx context.Context, ruleID, contextHash string, res LLMResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyLLMCache(ruleID, contextHash), payload, llmCacheTTL).Err()
}
