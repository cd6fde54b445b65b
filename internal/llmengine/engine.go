// Package llmengine implements the LLM Engine: cache lookup, prompt
// assembly, an OpenAI-compatible model call, strict JSON parsing, and
// the confidence gate.
package llmengine

import (
	"context"
	"errors"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
	"github.com/Aixtrade/LLMTrigger/internal/logging"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/store"
)

// Result is the LLM Engine's output shape: a trigger decision, its
// confidence, and a short reason.
type Result struct {
	ShouldTrigger bool
	Confidence    float64
	Reason        string
}

// Config parameterizes the transport: base URL, model, timeout, and
// bearer auth from the API key.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Engine holds no cache of its own beyond the shared Store.
type Engine struct {
	client *openai.Client
	model  string
	timeout time.Duration
	store  *store.Store
	log    *logging.Logger
	met    *metrics.Metrics
}

// New constructs an Engine. The client is configured with a custom
// BaseURL so any OpenAI-compatible endpoint can be targeted. met may
// be nil.
func New(cfg Config, ss *store.Store, met *metrics.Metrics, log *logging.Logger) *Engine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if log == nil {
		log = logging.NewDefault("llmengine")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		store:   ss,
		log:     log,
		met:     met,
	}
}

// Evaluate runs the full pipeline for a (rule, current event,
// context/batch payload) triple: cache check, prompt build, model call,
// response parse, confidence gate, cache write.
func (e *Engine) Evaluate(ctx context.Context, ruleID, description string, confidenceThreshold float64, contextEvents []domain.Event, current domain.Event) (Result, error) {
	hash := ContextHash(contextEvents, current)

	if cached, ok, err := e.store.GetLLMCache(ctx, ruleID, hash); err != nil {
		e.log.WithField("rule_id", ruleID).WithField("error", err).Warn("llm cache lookup failed")
	} else if ok {
		if e.met != nil {
			e.met.LLMCacheHitTotal.Inc()
		}
		return gate(Result{ShouldTrigger: cached.ShouldTrigger, Confidence: cached.Confidence, Reason: cached.Reason}, confidenceThreshold), nil
	}

	system, user := BuildPrompt(description, contextEvents, current)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		kind := classifyTransportError(err)
		return Result{ShouldTrigger: false, Confidence: 0, Reason: "llm_error:" + kind},
			trigerrors.LLMTransport(kind, err)
	}
	if len(resp.Choices) == 0 {
		return Result{ShouldTrigger: false, Confidence: 0, Reason: "llm_error:empty_response"},
			trigerrors.LLMTransport("empty_response", errors.New("no choices returned"))
	}

	shouldTrigger, confidence, reason, parseErr := ParseResponse(resp.Choices[0].Message.Content)
	if parseErr != nil {
		res := Result{ShouldTrigger: false, Confidence: 0, Reason: "parse_error:" + parseErr.Error()}
		return res, trigerrors.LLMParse(parseErr.Error())
	}

	result := gate(Result{ShouldTrigger: shouldTrigger, Confidence: clamp01(confidence), Reason: reason}, confidenceThreshold)

	if err := e.store.SetLLMCache(ctx, ruleID, hash, store.LLMResult{
		ShouldTrigger: result.ShouldTrigger,
		Confidence:    result.Confidence,
		Reason:        result.Reason,
	}); err != nil {
		e.log.WithField("rule_id", ruleID).WithField("error", err).Warn("llm cache write failed")
	}

	return result, nil
}

// gate clamps confidence and forces should_trigger=false below
// threshold, preserving reason.
func gate(r Result, threshold float64) Result {
	r.Confidence = clamp01(r.Confidence)
	if r.Confidence < threshold {
		r.ShouldTrigger = false
	}
	return r
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func classifyTransportError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 {
			return "server_error"
		}
		return "api_error"
	}
	return "network"
}
