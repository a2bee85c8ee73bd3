// Package anyllm provides a text generation backend built on
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	g, err := anyllm.New("gemini", "gemini-1.5-pro", anyllmlib.WithAPIKey("..."))
//	g, err := anyllm.New("ollama", "llama3")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/chandeldivyam/samwise/internal/textgen"
)

// Providers lists the provider names accepted by [New].
var Providers = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Generator implements textgen.Generator by wrapping any-llm-go.
type Generator struct {
	backend     anyllmlib.Provider
	model       string
	maxTokens   int
	temperature float64
}

var _ textgen.Generator = (*Generator)(nil)

// Option configures a [Generator].
type Option func(*Generator)

// WithMaxTokens caps the length of each answer.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTemperature sets the sampling temperature. Zero leaves the provider
// default.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// New creates a Generator backed by the given LLM provider name.
//
// providerName is one of [Providers]; model is the provider's model name.
// opts are any-llm-go client options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the provider falls back
// to its environment variable (e.g., GEMINI_API_KEY).
func New(providerName, model string, opts []anyllmlib.Option, genOpts ...Option) (*Generator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	g := &Generator{backend: backend, model: model}
	for _, o := range genOpts {
		o(g)
	}
	return g, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(Providers, ", "))
	}
}

// Generate implements textgen.Generator.
func (g *Generator) Generate(ctx context.Context, messages []textgen.Message) (string, error) {
	resp, err := g.backend.Completion(ctx, g.buildParams(messages))
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if text == "" {
		return "", textgen.ErrEmptyResponse
	}
	return text, nil
}

// buildParams converts messages into anyllm CompletionParams.
func (g *Generator) buildParams(messages []textgen.Message) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    g.model,
		Messages: make([]anyllmlib.Message, 0, len(messages)),
	}
	for _, m := range messages {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	if g.temperature != 0 {
		t := g.temperature
		params.Temperature = &t
	}
	if g.maxTokens > 0 {
		mt := g.maxTokens
		params.MaxTokens = &mt
	}
	return params
}
