package notify

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// defaultChannelRateLimit caps outbound sends per channel so a burst of
// fired rules can't trip Telegram/WeCom/SMTP provider rate limits.
const defaultChannelRateLimit = 5 // events per second, per target kind

// Worker drains the durable notification queue and fans each task out
// to its targets' senders, retrying transient failures with backoff and
// dead-lettering permanent ones or exhausted retries.
type Worker struct {
	store    *store.Store
	log      *logging.Logger
	senders  map[domain.TargetKind]Sender
	maxRetry int
	baseDelay time.Duration
	maxDelay  time.Duration
	popTimeout time.Duration
	met       *metrics.Metrics
	limiters  map[domain.TargetKind]*rate.Limiter
}

// Config parameterizes the Worker's retry policy.
type Config struct {
	MaxRetry   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	PopTimeout time.Duration
}

// NewWorker returns a Worker with the given senders registered by target
// kind. met may be nil.
func NewWorker(ss *store.Store, cfg Config, senders []Sender, met *metrics.Metrics, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.NewDefault("notify_worker")
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	registry := make(map[domain.TargetKind]Sender, len(senders))
	limiters := make(map[domain.TargetKind]*rate.Limiter, len(senders))
	for _, s := range senders {
		registry[s.Kind()] = s
		limiters[s.Kind()] = rate.NewLimiter(rate.Limit(defaultChannelRateLimit), defaultChannelRateLimit)
	}
	return &Worker{
		store:      ss,
		log:        log,
		senders:    registry,
		maxRetry:   cfg.MaxRetry,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		popTimeout: cfg.PopTimeout,
		met:        met,
		limiters:   limiters,
	}
}

// Run loops until ctx is canceled, processing one task per BRPOP.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.store.DequeueNotification(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.WithField("error", err).Warn("notification dequeue failed")
			continue
		}
		if !ok {
			continue
		}

		if !task.RetryAfter.IsZero() && task.RetryAfter.After(time.Now().UTC()) {
			// Not due yet: put it back and let another pop pick it up
			// once retry_after elapses.
			if err := w.store.RequeueNotification(ctx, task); err != nil {
				w.log.WithField("task_id", task.TaskID).WithField("error", err).Warn("requeue of not-yet-due task failed")
			}
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task domain.NotificationTask) {
	var transientErr error
	permanent := false

	for _, target := range task.Targets {
		sender, ok := w.senders[target.Kind]
		if !ok {
			w.log.WithField("kind", target.Kind).Warn("no sender registered for target kind")
			permanent = true
			continue
		}
		if limiter, ok := w.limiters[target.Kind]; ok {
			if err := limiter.Wait(ctx); err != nil {
				w.log.WithField("task_id", task.TaskID).WithField("kind", target.Kind).WithField("error", err).Warn("rate limiter wait aborted")
				continue
			}
		}
		if err := sender.Send(ctx, target, task.Message); err != nil {
			result := "transient"
			if trigerrors.Is(err, trigerrors.ChannelPermanent) {
				permanent = true
				result = "permanent"
			} else {
				transientErr = err
			}
			if w.met != nil {
				w.met.NotificationsSentTotal.WithLabelValues(string(target.Kind), result).Inc()
			}
			w.log.WithField("task_id", task.TaskID).WithField("kind", target.Kind).WithField("error", err).Warn("notification send failed")
		} else if w.met != nil {
			w.met.NotificationsSentTotal.WithLabelValues(string(target.Kind), "sent").Inc()
		}
	}

	switch {
	case permanent:
		w.deadLetter(ctx, task)
	case transientErr != nil:
		w.retryOrDeadLetter(ctx, task)
	default:
		// All targets succeeded.
	}
}

func (w *Worker) retryOrDeadLetter(ctx context.Context, task domain.NotificationTask) {
	task.RetryCount++
	if task.RetryCount > w.maxRetry {
		w.deadLetter(ctx, task)
		return
	}
	delay := backoff(task.RetryCount, w.baseDelay, w.maxDelay)
	task.RetryAfter = time.Now().UTC().Add(delay)
	if err := w.store.RequeueNotification(ctx, task); err != nil {
		w.log.WithField("task_id", task.TaskID).WithField("error", err).Warn("requeue for retry failed")
	}
}

func (w *Worker) deadLetter(ctx context.Context, task domain.NotificationTask) {
	if err := w.store.DeadLetter(ctx, task); err != nil {
		w.log.WithField("task_id", task.TaskID).WithField("error", err).Warn("dead-letter push failed")
		return
	}
	if w.met != nil {
		w.met.NotificationsDeadLetter.Inc()
	}
}

// backoff computes min(2^retryCount * base, maxDelay) with up to ±25%
// jitter so many simultaneously-retrying tasks don't thunder the herd.
func backoff(retryCount int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < retryCount && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	jitter := float64(d) * 0.25
	return d + time.Duration(rand.Float64()*jitter*2-jitter)
}
