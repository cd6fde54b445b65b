package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

// TryDedup sets the dedup key with NX semantics so only the first
// caller within the cooldown window wins. ok=true means this call may
// proceed to enqueue.
func (s *Store) TryDedup(ctx context.Context, ruleID, contextKey string, cooldownSeconds int) (bool, error) {
	if cooldownSeconds <= 0 {
		cooldownSeconds = 60
	}
	ok, err := s.rdb.SetNX(ctx, keyNotifyDedup(ruleID, contextKey), Now().Unix(), time.Duration(cooldownSeconds)*time.Second).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// rateMinuteBucket formats now into a clock-minute bucket key.
func rateMinuteBucket(now time.Time) string {
	return now.UTC().Format("200601021504")
}

// IncrRate increments the per-minute counter for ruleID and reports the
// post-increment count alongside whether it exceeds maxPerMinute.
func (s *Store) IncrRate(ctx context.Context, ruleID string, maxPerMinute int) (count int64, exceeded bool, err error) {
	key := keyNotifyRate(ruleID, rateMinuteBucket(Now()))
	count, err = s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if count == 1 {
		// First increment in this bucket: refresh TTL so stale buckets
		// never accumulate past one clock minute plus slack.
		s.rdb.Expire(ctx, key, 120*time.Second)
	}
	return count, maxPerMinute >= 0 && count > int64(maxPerMinute), nil
}

// EnqueueNotification LPUSHes task onto the durable queue.
func (s *Store) EnqueueNotification(ctx context.Context, task domain.NotificationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, keyNotifyQueue, payload).Err()
}

// DequeueNotification BRPOPs with a bounded timeout so the worker loop
// can observe shutdown signals between polls.
func (s *Store) DequeueNotification(ctx context.Context, timeout time.Duration) (domain.NotificationTask, bool, error) {
	res, err := s.rdb.BRPop(ctx, timeout, keyNotifyQueue).Result()
	if err != nil {
		if isRedisNilTimeout(err) {
			return domain.NotificationTask{}, false, nil
		}
		return domain.NotificationTask{}, false, err
	}
	if len(res) != 2 {
		return domain.NotificationTask{}, false, nil
	}
	var task domain.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return domain.NotificationTask{}, false, err
	}
	return task, true, nil
}

// RequeueNotification LPUSHes task back onto the queue (used for retry
// backoff re-delivery).
func (s *Store) RequeueNotification(ctx context.Context, task domain.NotificationTask) error {
	return s.EnqueueNotification(ctx, task)
}

// DeadLetter LPUSHes task onto the dead-letter tail.
func (s *Store) DeadLetter(ctx context.Context, task domain.NotificationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, keyNotifyDeadLetter, payload).Err()
}

// DeadLetterLen reports the current dead-letter tail length, useful for
// operator triage and tests.
func (s *Store) DeadLetterLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, keyNotifyDeadLetter).Result()
}

// QueueLen reports the current durable notification queue depth.
func (s *Store) QueueLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, keyNotifyQueue).Result()
}

func isRedisNilTimeout(err error) bool {
	return err != nil && err.Error() == "redis: nil"
}
