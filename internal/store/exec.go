package store

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

// execRecordCap bounds the best-effort per-context execution history.
const execRecordCap = 200

// RecordExecution appends rec to the capped list for its context key.
// This is purely diagnostic: no invariant depends on it, and a failure
// here must never block the pipeline (callers log and continue).
func (s *Store) RecordExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyExecRecords(rec.ContextKey), payload)
		pipe.LTrim(ctx, keyExecRecords(rec.ContextKey), 0, execRecordCap-1)
		return nil
	})
	return err
}

// ReadExecutions returns the most recent execution records for a
// context key, newest first.
func (s *Store) ReadExecutions(ctx context.Context, contextKey string) ([]domain.ExecutionRecord, error) {
	raws, err := s.rdb.LRange(ctx, keyExecRecords(contextKey), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExecutionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.ExecutionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
