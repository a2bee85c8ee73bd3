// Package transcribe turns a finished recording file into text.
//
// Backends live in sub-packages (deepgram, openai, whisper) and all satisfy
// [Transcriber]. [Chain] composes several backends behind circuit breakers
// so that a failing cloud service falls through to the next one.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/resilience"
)

// ErrNoBackends is returned by [NewChain] when no backend is configured.
var ErrNoBackends = errors.New("transcribe: no transcription backends configured")

// ErrEmptyTranscript is returned by backends when the service answered but
// recognised no speech.
var ErrEmptyTranscript = errors.New("transcribe: empty transcript")

// Transcriber converts the audio file at path into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Func adapts a plain function to [Transcriber].
type Func func(ctx context.Context, path string) (string, error)

// Transcribe implements [Transcriber].
func (f Func) Transcribe(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// Backend is a named [Transcriber] registered with a [Chain].
type Backend struct {
	Name        string
	Transcriber Transcriber
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
	group   *resilience.FallbackGroup[Transcriber]
	metrics *observe.Metrics
}

var _ Transcriber = (*Chain)(nil)

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
		if b.Name == "" || b.Transcriber == nil {
			return nil, fmt.Errorf("transcribe: backend %q is incomplete", b.Name)
		}
	}

	group := resilience.NewFallbackGroup(backends[0].Transcriber, backends[0].Name,
		resilience.FallbackConfig{CircuitBreaker: cfg.breaker})
	for _, b := range backends[1:] {
		group.AddFallback(b.Name, b.Transcriber)
	}
	return &Chain{group: group, metrics: cfg.metrics}, nil
}

// Backends returns the backend names in the order they are tried.
func (c *Chain) Backends() []string { return c.group.Names() }

// Transcribe implements [Transcriber].
func (c *Chain) Transcribe(ctx context.Context, path string) (text string, err error) {
	ctx, span := observe.StartSpan(ctx, "transcribe")
	defer func() { observe.EndSpan(span, err) }()

	text, err = resilience.ExecuteWithResult(ctx, c.group, func(ctx context.Context, name string, t Transcriber) (string, error) {
		start := time.Now()
		out, err := t.Transcribe(ctx, path)
		c.record(ctx, name, time.Since(start), err)
		return out, err
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %s: %w", path, err)
	}
	observe.Logger(ctx).Info("transcription finished", "path", path, "chars", len(text))
	return text, nil
}

func (c *Chain) record(ctx context.Context, name string, elapsed time.Duration, err error) {
	if c.metrics != nil {
		c.metrics.RecordProviderCall(ctx, name, "transcription", elapsed.Seconds(), err)
	}
}
