// Package openai provides a text generation backend using the OpenAI chat
// completions API, or any server compatible with it.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/chandeldivyam/samwise/internal/textgen"
)

// Generator implements textgen.Generator using the OpenAI API.
type Generator struct {
	client      oai.Client
	model       string
	maxTokens   int
	temperature float64
}

var _ textgen.Generator = (*Generator)(nil)

// config holds optional configuration for the generator.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	maxTokens    int
	temperature  float64
}

// Option is a functional option for Generator.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the client retries transient failures.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithMaxTokens caps the length of each answer.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// New constructs a new OpenAI Generator.
func New(apiKey string, model string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Generator{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}, nil
}

// Generate implements textgen.Generator.
func (g *Generator) Generate(ctx context.Context, messages []textgen.Message) (string, error) {
	params, err := g.buildParams(messages)
	if err != nil {
		return "", fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", textgen.ErrEmptyResponse
	}
	return text, nil
}

// buildParams converts messages into OpenAI SDK params.
func (g *Generator) buildParams(messages []textgen.Message) (oai.ChatCompletionNewParams, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		out = append(out, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.model),
		Messages: out,
	}
	if g.temperature != 0 {
		params.Temperature = param.NewOpt(g.temperature)
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(g.maxTokens))
	}
	return params, nil
}

// convertMessage converts a textgen.Message to an OpenAI SDK message param.
func convertMessage(m textgen.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case textgen.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case textgen.RoleUser:
		return oai.UserMessage(m.Content), nil
	case textgen.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
