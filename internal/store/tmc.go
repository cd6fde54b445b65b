package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

func keyBatchActiveSet(ruleID string) string {
	return keyPrefix + "mode:batch_active:" + ruleID
}

func keyIntervalActiveSet(ruleID string) string {
	return keyPrefix + "mode:interval_active:" + ruleID
}

// batchFlushScript appends event to the accumulator list, seeds the
// first-event timestamp if absent, and atomically snapshots+clears both
// when the size or age threshold is met. It is one EVAL so append and
// flush can never interleave with a concurrent append/flush for the
// same key.
var batchFlushScript = redis.NewScript(`
local listKey = KEYS[1]
local sinceKey = KEYS[2]
local event = ARGV[1]
local now = tonumber(ARGV[2])
local batchSize = tonumber(ARGV[3])
local maxWait = tonumber(ARGV[4])

if event ~= '' then
  redis.call('RPUSH', listKey, event)
end
if redis.call('EXISTS', sinceKey) == 0 then
  redis.call('SET', sinceKey, now)
end
local since = tonumber(redis.call('GET', sinceKey))
local len = redis.call('LLEN', listKey)

if len > 0 and (len >= batchSize or (now - since) >= maxWait) then
  local items = redis.call('LRANGE', listKey, 0, -1)
  redis.call('DEL', listKey)
  redis.call('DEL', sinceKey)
  return items
end
return {}
`)

// AppendBatch implements the batch mode transition for a newly-arrived
// event: append, then flush if size or wait thresholds are
// met. flushed is true iff a snapshot was returned (TRIGGER); otherwise
// the event was accepted into the accumulator (PENDING).
func (s *Store) AppendBatch(ctx context.Context, ruleID, contextKey string, event domain.Event, batchSize, maxWaitSeconds int) (flushed bool, batch []domain.Event, err error) {
	if err := s.rdb.SAdd(ctx, keyBatchActiveSet(ruleID), contextKey).Err(); err != nil {
		return false, nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return false, nil, err
	}
	return s.runBatchFlush(ctx, ruleID, contextKey, string(payload), batchSize, maxWaitSeconds)
}

// SweepBatch implements the periodic-tick flush: it checks the age
// threshold for an existing accumulator without
// appending a new event, so a dead worker's delay bound still holds
// even if no further event arrives.
func (s *Store) SweepBatch(ctx context.Context, ruleID, contextKey string, batchSize, maxWaitSeconds int) (flushed bool, batch []domain.Event, err error) {
	return s.runBatchFlush(ctx, ruleID, contextKey, "", batchSize, maxWaitSeconds)
}

func (s *Store) runBatchFlush(ctx context.Context, ruleID, contextKey, payload string, batchSize, maxWaitSeconds int) (bool, []domain.Event, error) {
	res, err := batchFlushScript.Run(ctx, s.rdb,
		[]string{keyBatchAccumulator(ruleID, contextKey), keyBatchSince(ruleID, contextKey)},
		payload, Now().Unix(), batchSize, maxWaitSeconds,
	).Result()
	if err != nil {
		return false, nil, err
	}
	items, ok := res.([]interface{})
	if !ok || len(items) == 0 {
		return false, nil, nil
	}
	events := make([]domain.Event, 0, len(items))
	for _, raw := range items {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	// The accumulator is now empty; this (rule, context_key) no longer
	// needs sweeping until another event arrives and re-adds it.
	s.rdb.SRem(ctx, keyBatchActiveSet(ruleID), contextKey)
	return true, events, nil
}

// ActiveBatchContextKeys lists context keys with a live (or just-seeded)
// accumulator for ruleID, for the periodic ticker to sweep.
func (s *Store) ActiveBatchContextKeys(ctx context.Context, ruleID string) ([]string, error) {
	return s.rdb.SMembers(ctx, keyBatchActiveSet(ruleID)).Result()
}

const intervalLockTTL = 5 * time.Second

// TryInterval implements the interval mode transition. acquired=true
// means this call holds the advisory lock and must call
// CompleteInterval when analysis finishes; acquired=false means either
// the interval hasn't elapsed or another process holds the lock (SKIP).
func (s *Store) TryInterval(ctx context.Context, ruleID, contextKey string, intervalSeconds int) (acquired bool, err error) {
	if err := s.rdb.SAdd(ctx, keyIntervalActiveSet(ruleID), contextKey).Err(); err != nil {
		return false, err
	}

	last, err := s.intervalLast(ctx, ruleID, contextKey)
	if err != nil {
		return false, err
	}
	now := Now()
	if !last.IsZero() && now.Sub(last) < time.Duration(intervalSeconds)*time.Second {
		return false, nil
	}

	locked, err := s.rdb.SetNX(ctx, keyIntervalLock(ruleID), "1", intervalLockTTL).Result()
	if err != nil {
		return false, err
	}
	return locked, nil
}

// CompleteInterval updates the last-analysis timestamp and releases the
// advisory lock.
func (s *Store) CompleteInterval(ctx context.Context, ruleID, contextKey string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyIntervalLast(ruleID, contextKey), Now().Unix(), 0)
		pipe.Del(ctx, keyIntervalLock(ruleID))
		return nil
	})
	return err
}

func (s *Store) intervalLast(ctx context.Context, ruleID, contextKey string) (time.Time, error) {
	raw, err := s.rdb.Get(ctx, keyIntervalLast(ruleID, contextKey)).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(raw, 0).UTC(), nil
}

// ActiveIntervalContextKeys lists context keys ever seen for ruleID's
// interval mode, for the periodic ticker's empty-window sweep.
func (s *Store) ActiveIntervalContextKeys(ctx context.Context, ruleID string) ([]string, error) {
	return s.rdb.SMembers(ctx, keyIntervalActiveSet(ruleID)).Result()
}
