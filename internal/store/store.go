// Package store is the State Store: every Redis-backed primitive shared
// across worker processes, namespaced under the "trigger:" prefix.
// Every mutating operation that more than one process could race on
// uses a server-side atomic primitive (SETNX, INCR, ZADD, Lua EVAL)
// rather than read-then-write from Go.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Aixtrade/LLMTrigger/internal/logging"
)

// Store wraps a redis.Client with the key-space conventions used by
// every other component (RR, CWM, TMC, NP).
type Store struct {
	rdb *redis.Client
	log *logging.Logger
}

// New dials redisURL and returns a Store. The connection is lazy in the
// go-redis client sense; Ping verifies reachability.
func New(redisURL string, log *logging.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if log == nil {
		log = logging.NewDefault("store")
	}
	return &Store{rdb: rdb, log: log}, nil
}

// NewFromClient wraps an existing client, used by tests against a
// miniredis instance or an alternate pool configuration.
func NewFromClient(rdb *redis.Client, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewDefault("store")
	}
	return &Store{rdb: rdb, log: log}
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying client for components that need direct
// access to primitives this package doesn't wrap (e.g. Pub/Sub
// subscription loops).
func (s *Store) Client() *redis.Client { return s.rdb }

const keyPrefix = "trigger:"

func keyProcessed(eventID string) string {
	return keyPrefix + "processed:" + eventID
}

func keyContext(contextKey string) string {
	return keyPrefix + "context:" + contextKey
}

func keyRulesIndex(eventType string) string {
	return keyPrefix + "rules:index:" + eventType
}

func keyRuleDetail(ruleID string) string {
	return keyPrefix + "rules:detail:" + ruleID
}

func keyRulesVersion() string {
	return keyPrefix + "rules:version"
}

func keyRulesAll() string {
	return keyPrefix + "rules:all"
}

const RulesUpdateChannel = keyPrefix + "rules:update"

func keyLLMCache(ruleID, contextHash string) string {
	return keyPrefix + "llm_cache:" + ruleID + ":" + contextHash
}

func keyNotifyDedup(ruleID, contextKey string) string {
	return keyPrefix + "notify:dedup:" + ruleID + ":" + contextKey
}

func keyNotifyRate(ruleID string, minute string) string {
	return keyPrefix + "notify:rate:" + ruleID + ":" + minute
}

const keyNotifyQueue = keyPrefix + "notify:queue"
const keyNotifyDeadLetter = keyPrefix + "notify:dead_letter"

func keyBatchAccumulator(ruleID, contextKey string) string {
	return keyPrefix + "mode:batch:" + ruleID + ":" + contextKey
}

func keyBatchSince(ruleID, contextKey string) string {
	return keyPrefix + "mode:batch_since:" + ruleID + ":" + contextKey
}

func keyIntervalLast(ruleID, contextKey string) string {
	return keyPrefix + "mode:last:" + ruleID + ":" + contextKey
}

func keyIntervalLock(ruleID string) string {
	return keyPrefix + "mode:interval_lock:" + ruleID
}

func keyExecRecords(contextKey string) string {
	return keyPrefix + "exec:" + contextKey
}

// Now is the single clock source used across the store so tests can
// reason about it; production code always passes time.Now().UTC().
func Now() time.Time { return time.Now().UTC() }
