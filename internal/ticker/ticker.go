// Package ticker implements the periodic tick: a cron-driven sweep
// over the active rule set that flushes expired batch accumulators and
// fires due interval checks, independent of new event arrivals.
package ticker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/rules"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// Sweeper is the subset of the Router the ticker drives; a separate
// interface keeps this package free of a direct router import cycle.
type Sweeper interface {
	SweepRule(ctx context.Context, rule domain.Rule)
}

// Ticker runs a cron schedule that, on each tick, sweeps every enabled
// batch/interval rule known to the Rule Repository.
type Ticker struct {
	cron    *cron.Cron
	rr      *rules.Repository
	sweeper Sweeper
	store   *store.Store
	log     *logging.Logger
	met     *metrics.Metrics
}

// New returns a Ticker. schedule is a standard cron expression with
// seconds precision (e.g. "*/5 * * * * *" for every five seconds).
func New(schedule string, rr *rules.Repository, sweeper Sweeper, ss *store.Store, met *metrics.Metrics, log *logging.Logger) (*Ticker, error) {
	if log == nil {
		log = logging.NewDefault("ticker")
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	t := &Ticker{cron: c, rr: rr, sweeper: sweeper, store: ss, log: log, met: met}
	if _, err := c.AddFunc(schedule, func() { t.runOnce() }); err != nil {
		return nil, err
	}
	return t, nil
}

// Start begins the cron schedule. It returns immediately; the schedule
// runs on cron's own goroutine until Stop is called.
func (t *Ticker) Start() {
	t.cron.Start()
}

// Stop halts the schedule and waits for any in-flight tick to finish.
func (t *Ticker) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
}

func (t *Ticker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if t.met != nil && t.store != nil {
		if depth, err := t.store.QueueLen(ctx); err == nil {
			t.met.NotificationQueueDepth.Set(float64(depth))
		}
	}

	active, err := t.rr.ActiveRules(ctx)
	if err != nil {
		t.log.WithField("error", err).Warn("ticker failed to list active rules")
		return
	}
	for _, rule := range active {
		if rule.Config.Kind != domain.KindLLM && rule.Config.Kind != domain.KindHybrid {
			continue
		}
		t.sweeper.SweepRule(ctx, rule)
	}
}
