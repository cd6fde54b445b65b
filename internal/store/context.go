package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

// AppendContext inserts the event scored by its timestamp, trims by
// count and by age, then refreshes the
// key's TTL. All three steps run in one pipeline so concurrent appends
// under the same key serialize at the store rather than interleaving.
func (s *Store) AppendContext(ctx context.Context, contextKey string, event domain.Event, maxEvents int, windowSeconds int) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := keyContext(contextKey)
	score := float64(event.Timestamp.UTC().Unix())
	cutoff := float64(Now().Add(-time.Duration(windowSeconds) * time.Second).Unix())
	ttl := time.Duration(windowSeconds+60) * time.Second

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: score, Member: string(payload)})
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", cutoff))
		// Trim by count: keep only the newest maxEvents members (rank 0
		// is oldest under ZADD ascending-score ordering, so remove
		// everything below the tail window).
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-maxEvents-1))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// ReadContext implements CWM.read: events in ascending timestamp order.
func (s *Store) ReadContext(ctx context.Context, contextKey string) ([]domain.Event, error) {
	members, err := s.rdb.ZRangeByScore(ctx, keyContext(contextKey), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(members))
	for _, m := range members {
		var e domain.Event
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
