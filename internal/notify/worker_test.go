package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

type fakeSender struct {
	kind domain.TargetKind
}

func (f fakeSender) Kind() domain.TargetKind { return f.kind }

func (f fakeSender) Send(ctx context.Context, target domain.Target, message string) error {
	return nil
}

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	d0 := backoff(0, base, max)
	d3 := backoff(3, base, max)
	d10 := backoff(10, base, max)

	assert.GreaterOrEqual(t, d0, time.Duration(0))
	assert.Less(t, d0, 2*base)
	assert.Greater(t, d3, d0)
	assert.LessOrEqual(t, d10, max+time.Duration(float64(max)*0.25))
}

func TestBackoffNeverNegative(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := backoff(i, time.Second, time.Minute)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestNewWorkerBuildsOneRateLimiterPerSenderKind(t *testing.T) {
	w := NewWorker(nil, Config{}, []Sender{
		fakeSender{kind: domain.TargetTelegram},
		fakeSender{kind: domain.TargetEmail},
	}, nil, nil)

	assert.Len(t, w.limiters, 2)
	assert.Contains(t, w.limiters, domain.TargetTelegram)
	assert.Contains(t, w.limiters, domain.TargetEmail)
	assert.NotNil(t, w.limiters[domain.TargetTelegram])
}
