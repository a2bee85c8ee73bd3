// Package textgen generates meeting summaries and chat answers from
// transcripts through pluggable LLM backends.
//
// Backends live in sub-packages (anyllm, openai). [Chain] adds circuit
// breaker failover across backends the same way transcription does.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/resilience"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoBackends is returned by [NewChain] when no backend is configured.
	ErrNoBackends = errors.New("textgen: no text generation backends configured")

	// ErrEmptyResponse is returned when a backend answers without content.
	ErrEmptyResponse = errors.New("textgen: empty response")

	// ErrNoMessages is returned when Generate is called without messages.
	ErrNoMessages = errors.New("textgen: no messages")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces the next assistant message for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Func adapts a plain function to [Generator].
type Func func(ctx context.Context, messages []Message) (string, error)

// Generate implements [Generator].
func (f Func) Generate(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// Backend is a named [Generator] registered with a [Chain].
type Backend struct {
	Name      string
	Generator Generator
}

// ChainOption configures a [Chain].
type ChainOption func(*chainConfig)

type chainConfig struct {
	metrics *observe.Metrics
	breaker resilience.CircuitBreakerConfig
}

// WithMetrics records provider request, error and latency metrics.
func WithMetrics(m *observe.Metrics) ChainOption {
	return func(c *chainConfig) { c.metrics = m }
}

// WithCircuitBreaker sets the breaker configuration used for every backend.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) ChainOption {
	return func(c *chainConfig) { c.breaker = cfg }
}

// Chain tries its backends in registration order until one succeeds.
type Chain struct {
	group   *resilience.FallbackGroup[Generator]
	metrics *observe.Metrics
}

var _ Generator = (*Chain)(nil)

// NewChain builds a chain over backends. The first backend is the primary.
func NewChain(backends []Backend, opts ...ChainOption) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	cfg := chainConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	for _, b := range backends {
		if b.Name == "" || b.Generator == nil {
			return nil, fmt.Errorf("textgen: backend %q is incomplete", b.Name)
		}
	}

	group := resilience.NewFallbackGroup(backends[0].Generator, backends[0].Name,
		resilience.FallbackConfig{CircuitBreaker: cfg.breaker})
	for _, b := range backends[1:] {
		group.AddFallback(b.Name, b.Generator)
	}
	return &Chain{group: group, metrics: cfg.metrics}, nil
}

// Backends returns the backend names in the order they are tried.
func (c *Chain) Backends() []string { return c.group.Names() }

// Generate implements [Generator].
func (c *Chain) Generate(ctx context.Context, messages []Message) (text string, err error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	ctx, span := observe.StartSpan(ctx, "textgen.generate")
	defer func() { observe.EndSpan(span, err) }()

	text, err = resilience.ExecuteWithResult(ctx, c.group, func(ctx context.Context, name string, g Generator) (string, error) {
		start := time.Now()
		out, err := g.Generate(ctx, messages)
		if c.metrics != nil {
			c.metrics.RecordProviderCall(ctx, name, "textgen", time.Since(start).Seconds(), err)
		}
		return out, err
	})
	if err != nil {
		return "", fmt.Errorf("textgen: %w", err)
	}
	return text, nil
}
