package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(store.NewFromClient(rdb, nil), nil)
}

func ruleWithPolicy(ruleID string, maxPerMinute, cooldownSeconds int) domain.Rule {
	return domain.Rule{
		RuleID: ruleID,
		NotifyPolicy: domain.NotifyPolicy{
			Targets: []domain.Target{{Kind: domain.TargetTelegram, ChatID: "1"}},
			RateLimit: domain.RateLimit{
				MaxPerMinute:    maxPerMinute,
				CooldownSeconds: cooldownSeconds,
			},
		},
	}
}

// TestEnqueueZeroMaxPerMinuteBlocksEveryNotification is the regression
// case for the rate-limit bypass: max_per_minute=0 must reject the very
// first enqueue, not just the ones after it.
func TestEnqueueZeroMaxPerMinuteBlocksEveryNotification(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	rule := ruleWithPolicy("rule-1", 0, 60)

	enqueued, reason, err := p.Enqueue(ctx, rule, "ck", "msg")
	require.NoError(t, err)
	assert.False(t, enqueued, "max_per_minute=0 must block the first enqueue, not just subsequent ones")
	assert.Equal(t, "rate_limit", reason)

	queueLen, err := p.store.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), queueLen, "a blocked enqueue must not push onto the durable queue")
}

func TestEnqueueDedupAndRateLimit(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	rule := ruleWithPolicy("rule-1", 2, 3600)

	enqueued, reason, err := p.Enqueue(ctx, rule, "ck", "first")
	require.NoError(t, err)
	assert.True(t, enqueued)
	assert.Empty(t, reason)

	// Same (rule, context_key) within the cooldown window must dedup,
	// independent of the rate limit.
	enqueued, reason, err = p.Enqueue(ctx, rule, "ck", "second")
	require.NoError(t, err)
	assert.False(t, enqueued)
	assert.Equal(t, "dedup", reason)

	// A distinct context_key is a distinct dedup bucket, so it still
	// consumes a rate-limit slot.
	enqueued, reason, err = p.Enqueue(ctx, rule, "ck-2", "third")
	require.NoError(t, err)
	assert.True(t, enqueued)
	assert.Empty(t, reason)

	// Rate limit is per-rule, so a third distinct context_key trips
	// max_per_minute=2.
	enqueued, reason, err = p.Enqueue(ctx, rule, "ck-3", "fourth")
	require.NoError(t, err)
	assert.False(t, enqueued)
	assert.Equal(t, "rate_limit", reason)

	queueLen, err := p.store.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), queueLen, "only the two successful enqueues should have reached the durable queue")
}

func TestEnqueueDefaultsCooldownWhenUnset(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	rule := ruleWithPolicy("rule-1", 10, 0)

	enqueued, _, err := p.Enqueue(ctx, rule, "ck", "first")
	require.NoError(t, err)
	assert.True(t, enqueued)

	enqueued, reason, err := p.Enqueue(ctx, rule, "ck", "second")
	require.NoError(t, err)
	assert.False(t, enqueued, "cooldown_seconds<=0 must fall back to the default 60s window, not disable dedup")
	assert.Equal(t, "dedup", reason)
}
