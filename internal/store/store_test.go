package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

func TestMarkProcessedIsFirstWinsOnly(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	first, err := ss.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first, "first claim should win")

	second, err := ss.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, second, "second claim of the same event_id must be rejected as duplicate")

	other, err := ss.MarkProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, other, "a distinct event_id must still be claimable")
}

func TestAppendBatchFlushesAtomicallyViaLuaScript(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	event := domain.Event{EventID: "e", EventType: "t", ContextKey: "ck", Timestamp: time.Now().UTC()}

	for i := 0; i < 2; i++ {
		flushed, batch, err := ss.AppendBatch(ctx, "rule-1", "ck", event, 3, 3600)
		require.NoError(t, err)
		assert.False(t, flushed, "batch below batch_size must stay pending")
		assert.Nil(t, batch)
	}

	flushed, batch, err := ss.AppendBatch(ctx, "rule-1", "ck", event, 3, 3600)
	require.NoError(t, err)
	assert.True(t, flushed, "the third append must trip batch_size and flush")
	assert.Len(t, batch, 3)

	flushed, batch, err = ss.AppendBatch(ctx, "rule-1", "ck", event, 3, 3600)
	require.NoError(t, err)
	assert.False(t, flushed, "accumulator must reset to empty after a flush")
	assert.Nil(t, batch)
}

func TestAppendBatchFlushesOnMaxWaitElapsed(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	event := domain.Event{EventID: "e", EventType: "t", ContextKey: "ck", Timestamp: time.Now().UTC()}

	flushed, _, err := ss.AppendBatch(ctx, "rule-1", "ck", event, 100, 1)
	require.NoError(t, err)
	assert.False(t, flushed)

	// The since-timestamp comparison is driven by store.Now(), real wall
	// time, not Redis key expiry, so the wait must actually elapse.
	time.Sleep(1100 * time.Millisecond)

	flushed, batch, err := ss.AppendBatch(ctx, "rule-1", "ck", event, 100, 1)
	require.NoError(t, err)
	assert.True(t, flushed, "an accumulator older than max_wait_seconds must flush regardless of size")
	assert.Len(t, batch, 2)
}

func TestTryIntervalEnforcesSingleWinner(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	acquired, err := ss.TryInterval(ctx, "rule-1", "ck", 1)
	require.NoError(t, err)
	assert.True(t, acquired, "first call before any completion must acquire")

	require.NoError(t, ss.CompleteInterval(ctx, "rule-1", "ck"))

	acquired, err = ss.TryInterval(ctx, "rule-1", "ck", 1)
	require.NoError(t, err)
	assert.False(t, acquired, "a call inside the interval window after completion must be skipped")

	// The elapsed-since-last check is driven by store.Now(), real wall
	// time, not Redis key expiry, so the interval must actually elapse.
	time.Sleep(1100 * time.Millisecond)

	acquired, err = ss.TryInterval(ctx, "rule-1", "ck", 1)
	require.NoError(t, err)
	assert.True(t, acquired, "a call past the interval window must acquire again")
}

func TestTryIntervalLockExcludesConcurrentCaller(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	acquired, err := ss.TryInterval(ctx, "rule-1", "ck-a", 60)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Without CompleteInterval releasing the advisory lock, a second
	// context key for the same rule must not acquire: the lock is
	// per-rule, not per-context-key, so concurrent analysis for one rule
	// is serialized.
	acquired, err = ss.TryInterval(ctx, "rule-1", "ck-b", 60)
	require.NoError(t, err)
	assert.False(t, acquired, "the per-rule interval lock must exclude a second in-flight context key")
}

func TestPutRuleBumpsVersionAndIndex(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	rule := domain.Rule{
		RuleID:     "rule-1",
		EventTypes: []string{"order.created"},
		Config:     domain.RuleConfig{Kind: domain.KindExpression, PreFilter: &domain.PreFilter{Expression: "true"}},
	}

	saved, err := ss.PutRule(ctx, rule, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	version, err := ss.RulesVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	ids, err := ss.RuleIDsForEventType(ctx, "order.created")
	require.NoError(t, err)
	assert.Contains(t, ids, "rule-1")

	all, err := ss.AllRules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rule-1", all[0].RuleID)

	// Re-saving with a changed event type must drop the old index entry.
	saved.EventTypes = []string{"order.updated"}
	_, err = ss.PutRule(ctx, saved, []string{"order.created"})
	require.NoError(t, err)

	ids, err = ss.RuleIDsForEventType(ctx, "order.created")
	require.NoError(t, err)
	assert.Empty(t, ids, "old event-type index must be cleared when a rule's event_types change")

	version, err = ss.RulesVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestIncrRateZeroMaxPerMinuteBlocksEveryEnqueue(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	count, exceeded, err := ss.IncrRate(ctx, "rule-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.True(t, exceeded, "max_per_minute=0 must reject every call, including the first")
}

func TestIncrRateAllowsUpToMaxThenExceeds(t *testing.T) {
	ss, _ := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, exceeded, err := ss.IncrRate(ctx, "rule-1", 3)
		require.NoError(t, err)
		assert.False(t, exceeded, "calls within max_per_minute must not be exceeded")
	}

	_, exceeded, err := ss.IncrRate(ctx, "rule-1", 3)
	require.NoError(t, err)
	assert.True(t, exceeded, "the call past max_per_minute must be exceeded")
}
