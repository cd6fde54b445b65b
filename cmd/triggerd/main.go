// Command triggerd runs the event-driven trigger core: it consumes
// events from the broker, matches them against the rule catalog, and
// routes fired rules to the notification pipeline.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Aixtrade/LLMTrigger/internal/broker"
	"github.com/Aixtrade/LLMTrigger/internal/broker/redisbroker"
	"github.com/Aixtrade/LLMTrigger/internal/config"
	"github.com/Aixtrade/LLMTrigger/internal/contextwindow"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
	"github.com/Aixtrade/LLMTrigger/internal/expr"
	"github.com/Aixtrade/LLMTrigger/internal/llmengine"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
	"github.com/Aixtrade/LLMTrigger/internal/notify/channels"
	"github.com/Aixtrade/LLMTrigger/internal/router"
	"github.com/Aixtrade/LLMTrigger/internal/rules"
	"github.com/Aixtrade/LLMTrigger/internal/store"
	"github.com/Aixtrade/LLMTrigger/internal/ticker"
	"github.com/Aixtrade/LLMTrigger/internal/tmc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.Logging)

	ss, err := store.New(cfg.Redis.URL, log)
	if err != nil {
		log.WithError(err).Fatal("connect to redis")
	}
	defer ss.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ss.Ping(ctx); err != nil {
		log.WithError(err).Fatal("ping redis")
	}

	met := metrics.New(prometheus.DefaultRegisterer)

	rr := rules.New(ss, log)
	rr.WatchInvalidations(ctx)
	cwm := contextwindow.New(ss, cfg.Context)
	exprEngine := expr.NewEngine()
	tmcCtl := tmc.New(ss)
	llmEngine := llmengine.New(llmengine.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, ss, met, log)
	np := notify.New(ss, log)

	rt := router.New(ss, cwm, rr, exprEngine, tmcCtl, llmEngine, np, met, log)

	senders := buildSenders(cfg, log)
	worker := notify.NewWorker(ss, notify.Config{
		MaxRetry: cfg.Notification.MaxRetry,
	}, senders, met, log)

	brokerAdapter := redisbroker.New(ss.Client(), redisbroker.Config{QueueName: cfg.Broker.Queue}, log)

	sweepTicker, err := ticker.New("*/5 * * * * *", rr, rt, ss, met, log)
	if err != nil {
		log.WithError(err).Fatal("create ticker")
	}
	sweepTicker.Start()
	defer sweepTicker.Stop()

	go worker.Run(ctx)
	go runConsumeLoop(ctx, brokerAdapter, rt, met, log)
	go serveMetrics(cfg.Metrics.ListenAddr, log)

	log.Info("trigger core started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
}

// runConsumeLoop pulls messages from the broker and routes each to the
// Router. A malformed event (JSON parse/schema failure) is acked and
// dropped rather than nacked, since the broker's Nack redelivers onto
// the same queue and a poison message would otherwise loop forever;
// every other failure is nacked so the adapter retries it.
func runConsumeLoop(ctx context.Context, b broker.Broker, rt *router.Router, met *metrics.Metrics, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := b.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if redisbroker.IsTimeout(err) {
				continue
			}
			log.WithError(err).Warn("broker consume failed")
			continue
		}

		if err := rt.HandleMessage(ctx, msg); err != nil {
			if trigerrors.Is(err, trigerrors.MalformedEvent) {
				log.WithError(err).Warn("malformed event, acking and dropping")
				if met != nil {
					met.MalformedEventsTotal.Inc()
				}
				if aerr := b.Ack(ctx, msg.AckID); aerr != nil {
					log.WithError(aerr).Warn("ack failed")
				}
				continue
			}
			log.WithError(err).Warn("message handling failed, nacking")
			if nerr := b.Nack(ctx, msg.AckID); nerr != nil {
				log.WithError(nerr).Warn("nack failed")
			}
			continue
		}
		if err := b.Ack(ctx, msg.AckID); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	}
}

func serveMetrics(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("metrics server stopped")
	}
}

func buildSenders(cfg *config.Config, log *logging.Logger) []notify.Sender {
	var senders []notify.Sender

	if cfg.Channels.Telegram.BotToken != "" {
		sender, err := channels.NewTelegramSender(cfg.Channels.Telegram.BotToken)
		if err != nil {
			log.WithError(err).Warn("telegram sender disabled")
		} else {
			senders = append(senders, sender)
		}
	}
	if cfg.Channels.WeCom.WebhookBaseURL != "" {
		senders = append(senders, channels.NewWeComSender(cfg.Channels.WeCom.WebhookBaseURL))
	}
	if cfg.Channels.SMTP.Host != "" {
		senders = append(senders, channels.NewEmailSender(cfg.Channels.SMTP))
	}
	return senders
}
