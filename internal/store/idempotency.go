package store

import (
	"context"
	"time"
)

const idempotencyTTL = 3600 * time.Second

// MarkProcessed attempts to claim eventID for processing. It returns
// true if this call is the first to claim it (proceed), false if it was
// already claimed (duplicate — caller should ack and stop).
func (s *Store) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyProcessed(eventID), "1", idempotencyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
