package redisbroker

import (
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestIsTimeoutRecognizesRedisNil(t *testing.T) {
	assert.True(t, IsTimeout(redis.Nil))
	assert.False(t, IsTimeout(errors.New("connection refused")))
}

func TestConsumeAckNackRoundTrip(t *testing.T) {
	t.Skip("test requires redis; run with integration test suite")
}
