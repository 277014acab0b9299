// Package responder answers finished utterances.
//
// [LLM] calls a language model directly, optionally with the most recent
// turns from a [history.Store] as context. [Client] forwards the utterance
// to another instance's /api/respond endpoint, which [Handler] serves.
package responder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/b-aragu/organic-sphere/internal/history"
	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultFallbackText = "No response from the language model"
)

// Responder produces a reply for one finished utterance.
type Responder interface {
	Send(ctx context.Context, text string) (string, error)
}

// LLM answers utterances with a language model. It is safe for concurrent
// use; the system prompt may be replaced while calls are in flight.
type LLM struct {
	provider     llm.Provider
	providerName string
	fallback     string
	temperature  float64
	maxTokens    int
	history      history.Store
	contextTurns int
	metrics      *observe.Metrics

	mu     sync.RWMutex
	prompt string
}

// Option configures an [LLM].
type Option func(*LLM)

// WithSystemPrompt sets the system prompt. Empty keeps the default.
func WithSystemPrompt(prompt string) Option {
	return func(r *LLM) {
		if prompt != "" {
			r.prompt = prompt
		}
	}
}

// WithFallbackText sets the reply used when the model returns no content.
func WithFallbackText(text string) Option {
	return func(r *LLM) {
		if text != "" {
			r.fallback = text
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *LLM) { r.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(r *LLM) { r.maxTokens = n }
}

// WithHistory sends the last n turns from store ahead of each utterance.
// n <= 0 keeps requests stateless.
func WithHistory(store history.Store, n int) Option {
	return func(r *LLM) {
		r.history = store
		r.contextTurns = n
	}
}

// WithMetrics records model latency and request outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *LLM) { r.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(r *LLM) {
		if name != "" {
			r.providerName = name
		}
	}
}

// NewLLM returns a responder backed by provider.
func NewLLM(provider llm.Provider, opts ...Option) *LLM {
	r := &LLM{
		provider:     provider,
		providerName: "llm",
		fallback:     DefaultFallbackText,
		prompt:       DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSystemPrompt replaces the system prompt for subsequent calls.
func (r *LLM) SetSystemPrompt(prompt string) {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	r.mu.Lock()
	r.prompt = prompt
	r.mu.Unlock()
}

// SystemPrompt returns the current system prompt.
func (r *LLM) SystemPrompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prompt
}

// Send asks the model for a reply to text. A reply without content yields
// the fallback text, not an error.
func (r *LLM) Send(ctx context.Context, text string) (reply string, err error) {
	ctx, span := observe.StartSpan(ctx, "responder.llm")
	defer func() { observe.EndSpan(span, err) }()

	req := llm.CompletionRequest{
		Messages:     append(r.context(ctx), llm.UserMessage(text)),
		SystemPrompt: r.SystemPrompt(),
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	}

	start := time.Now()
	resp, err := r.provider.Complete(ctx, req)
	r.record(ctx, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("responder: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return r.fallback, nil
	}
	return resp.Content, nil
}

// context loads the recent turns as alternating user and assistant
// messages. Failed turns are skipped; a history error only costs context.
func (r *LLM) context(ctx context.Context) []llm.Message {
	if r.history == nil || r.contextTurns <= 0 {
		return nil
	}
	turns, err := r.history.Recent(ctx, r.contextTurns)
	if err != nil {
		observe.Logger(ctx).Warn("responder: loading history failed", "err", err)
		return nil
	}
	msgs := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		if t.Failed {
			continue
		}
		input := t.Corrected
		if input == "" {
			input = t.Input
		}
		msgs = append(msgs, llm.UserMessage(input), llm.AssistantMessage(t.Reply))
	}
	return msgs
}

func (r *LLM) record(ctx context.Context, d time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.LLMDuration.Record(ctx, d.Seconds())
	r.metrics.RecordProviderRequest(ctx, r.providerName, "llm", status)
}
