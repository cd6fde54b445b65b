package contextwindow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aixtrade/LLMTrigger/internal/config"
	"github.com/Aixtrade/LLMTrigger/internal/domain"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

func newTestManager(t *testing.T, cfg config.ContextConfig) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(store.NewFromClient(rdb, nil), cfg)
}

func TestAppendTrimsByCount(t *testing.T) {
	m := newTestManager(t, config.ContextConfig{MaxEvents: 2, WindowSeconds: 300})
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		event := domain.Event{
			EventID:    "e",
			ContextKey: "ck",
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Data:       map[string]interface{}{"i": i},
		}
		require.NoError(t, m.Append(ctx, event))
	}

	events, err := m.Read(ctx, "ck")
	require.NoError(t, err)
	require.Len(t, events, 2, "MaxEvents=2 must trim down to the two newest events")
	assert.Equal(t, float64(1), events[0].Data["i"])
	assert.Equal(t, float64(2), events[1].Data["i"])
}

func TestReadReturnsAscendingOrder(t *testing.T) {
	m := newTestManager(t, config.ContextConfig{MaxEvents: 10, WindowSeconds: 300})
	ctx := context.Background()
	base := time.Now().UTC()

	order := []int{2, 0, 1}
	for _, i := range order {
		event := domain.Event{
			EventID:    "e",
			ContextKey: "ck",
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Data:       map[string]interface{}{"i": i},
		}
		require.NoError(t, m.Append(ctx, event))
	}

	events, err := m.Read(ctx, "ck")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, float64(0), events[0].Data["i"], "read must order by event timestamp, not insertion order")
	assert.Equal(t, float64(1), events[1].Data["i"])
	assert.Equal(t, float64(2), events[2].Data["i"])
}
