// Package redisbroker is the default Broker implementation: a Redis
// list used as a durable FIFO queue. No RabbitMQ adapter ships in this
// module (see DESIGN.md); the Broker interface is the extension point a
// future AMQP binding would implement.
package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Aixtrade/LLMTrigger/internal/broker"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
)

// Adapter consumes from a single Redis list using the reliable-queue
// pattern: BRPOPLPUSH moves a message into a per-process processing
// list atomically, so a crash between pop and ack leaves the message
// recoverable instead of lost. Ack removes it from the processing list;
// Nack both removes it there and pushes it back onto the main queue.
type Adapter struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	popTimeout    time.Duration
	log           *logging.Logger
}

// Config parameterizes the adapter.
type Config struct {
	QueueName string
	// PopTimeoutSeconds bounds each BRPOPLPUSH call; 0 defaults to 5s so
	// the consume loop can still observe context cancellation promptly.
	PopTimeoutSeconds int
}

// New returns an Adapter with a unique processing list name so multiple
// worker processes consuming the same queue never collide.
func New(rdb *redis.Client, cfg Config, log *logging.Logger) *Adapter {
	if log == nil {
		log = logging.NewDefault("redisbroker")
	}
	timeout := time.Duration(cfg.PopTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	queueKey := "trigger:broker:" + cfg.QueueName
	processingKey := queueKey + ":processing:" + uuid.NewString()
	return &Adapter{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: processingKey,
		popTimeout:    timeout,
		log:           log,
	}
}

// Consume blocks until a message arrives, ctx is canceled, or the pop
// times out (in which case it returns redis.Nil and the caller should
// treat that as "no message yet" and retry).
func (a *Adapter) Consume(ctx context.Context) (broker.Message, error) {
	body, err := a.rdb.BRPopLPush(ctx, a.queueKey, a.processingKey, a.popTimeout).Result()
	if err != nil {
		return broker.Message{}, err
	}
	return broker.Message{Body: []byte(body), AckID: body}, nil
}

// Ack removes the message from the processing list.
func (a *Adapter) Ack(ctx context.Context, ackID string) error {
	return a.rdb.LRem(ctx, a.processingKey, 1, ackID).Err()
}

// Nack removes the message from the processing list and re-queues it at
// the tail of the main queue for another consumer to retry.
func (a *Adapter) Nack(ctx context.Context, ackID string) error {
	if err := a.rdb.LRem(ctx, a.processingKey, 1, ackID).Err(); err != nil {
		return fmt.Errorf("remove from processing list: %w", err)
	}
	return a.rdb.LPush(ctx, a.queueKey, ackID).Err()
}

// Close is a no-op: the adapter does not own the redis.Client's
// lifecycle (the Store does).
func (a *Adapter) Close() error { return nil }

// Publish pushes a raw event payload onto the queue. It exists for
// tests and for local tooling that injects events without a real
// upstream producer.
func (a *Adapter) Publish(ctx context.Context, body []byte) error {
	return a.rdb.LPush(ctx, a.queueKey, body).Err()
}

// IsTimeout reports whether err is the "no message within the pop
// timeout" signal from Consume.
func IsTimeout(err error) bool {
	return errors.Is(err, redis.Nil)
}
