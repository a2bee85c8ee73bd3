package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/textgen/anyllm"
	tgopenai "github.com/chandeldivyam/samwise/internal/textgen/openai"
	"github.com/chandeldivyam/samwise/internal/transcribe"
	"github.com/chandeldivyam/samwise/internal/transcribe/deepgram"
	tsopenai "github.com/chandeldivyam/samwise/internal/transcribe/openai"
	"github.com/chandeldivyam/samwise/internal/transcribe/whisper"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in backend factories into reg.
// Each factory receives a config.ProviderEntry and constructs the backend
// from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscriber("deepgram", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := language(entry); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if v, ok := entry.Options["diarize"].(bool); ok {
			opts = append(opts, deepgram.WithDiarize(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	openAITranscriber := func(ctor func(string, ...tsopenai.Option) (*tsopenai.Transcriber, error)) func(config.ProviderEntry) (transcribe.Transcriber, error) {
		return func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
			var opts []tsopenai.Option
			if entry.BaseURL != "" {
				opts = append(opts, tsopenai.WithBaseURL(entry.BaseURL))
			}
			if entry.Model != "" {
				opts = append(opts, tsopenai.WithModel(entry.Model))
			}
			if lang := language(entry); lang != "" {
				opts = append(opts, tsopenai.WithLanguage(lang))
			}
			return ctor(entry.APIKey, opts...)
		}
	}
	reg.RegisterTranscriber("openai", openAITranscriber(tsopenai.New))
	reg.RegisterTranscriber("groq", openAITranscriber(tsopenai.NewGroq))

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := language(entry); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := language(entry); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := entry.Options["threads"].(int); ok && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Text generation ───────────────────────────────────────────────────────

	reg.RegisterGenerator("openai", func(entry config.ProviderEntry) (textgen.Generator, error) {
		var opts []tgopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, tgopenai.WithBaseURL(entry.BaseURL))
		}
		return tgopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.Providers {
		if providerName == "openai" {
			continue
		}
		reg.RegisterGenerator(providerName, func(entry config.ProviderEntry) (textgen.Generator, error) {
			var opts []anyllmlib.Option
			// ollama is a local server; it uses BaseURL for the address, not an API key.
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts)
		})
	}

	slog.Debug("registered providers", "transcription", reg.Transcribers())
}

// buildTranscriber instantiates the configured transcription backends and
// composes them into a failover chain. It returns nil when none are
// configured or usable.
func buildTranscriber(cfg config.TranscriptionConfig, reg *config.Registry, m *observe.Metrics) (transcribe.Transcriber, error) {
	backends, err := reg.BuildTranscribers(cfg)
	if err != nil {
		return nil, err
	}
	if len(backends) == 0 {
		slog.Warn("no transcription backend configured; transcription is disabled")
		return nil, nil
	}
	chain, err := transcribe.NewChain(backends, transcribe.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	slog.Info("transcription ready", "backends", chain.Backends(), "use_cloud", cfg.UseCloud)
	return chain, nil
}

// buildGenerator is the text generation counterpart of buildTranscriber.
func buildGenerator(cfg config.TextGenConfig, reg *config.Registry, m *observe.Metrics) (textgen.Generator, error) {
	backends, err := reg.BuildGenerators(cfg)
	if err != nil {
		return nil, err
	}
	if len(backends) == 0 {
		slog.Warn("no text generation backend configured; summaries and chat are disabled")
		return nil, nil
	}
	chain, err := textgen.NewChain(backends, textgen.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	slog.Info("text generation ready", "backends", chain.Backends())
	return chain, nil
}

// buildBackends builds both chains. A nil chain disables its operations.
func buildBackends(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (transcribe.Transcriber, textgen.Generator, error) {
	t, terr := buildTranscriber(cfg.Transcription, reg, m)
	g, gerr := buildGenerator(cfg.TextGen, reg, m)
	if err := errors.Join(terr, gerr); err != nil {
		return nil, nil, fmt.Errorf("build backends: %w", err)
	}
	return t, g, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// language returns the entry's language, falling back to options.language.
func language(entry config.ProviderEntry) string {
	if entry.Language != "" {
		return entry.Language
	}
	return optString(entry.Options, "language")
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
