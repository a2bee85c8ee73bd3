package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]func(ProviderEntry) (transcribe.Transcriber, error)
	generators   map[string]func(ProviderEntry) (textgen.Generator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]func(ProviderEntry) (transcribe.Transcriber, error)),
		generators:   make(map[string]func(ProviderEntry) (textgen.Generator, error)),
	}
}

// RegisterTranscriber registers a transcription backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (transcribe.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// RegisterGenerator registers a text generation backend factory under name.
func (r *Registry) RegisterGenerator(name string, factory func(ProviderEntry) (textgen.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = factory
}

// CreateTranscriber instantiates a transcription backend using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcribe.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGenerator instantiates a text generation backend using the factory
// registered under entry.Name.
func (r *Registry) CreateGenerator(entry ProviderEntry) (textgen.Generator, error) {
	r.mu.RLock()
	factory, ok := r.generators[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: textgen/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Transcribers returns the registered transcription backend names, sorted.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcribers))
	for n := range r.transcribers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// BuildTranscribers creates a backend for every entry of cfg in order,
// skipping cloud backends when cfg.UseCloud is false. Unregistered names
// are an error.
func (r *Registry) BuildTranscribers(cfg TranscriptionConfig) ([]transcribe.Backend, error) {
	var (
		out  []transcribe.Backend
		errs []error
	)
	for i, e := range cfg.Providers {
		if !cfg.UseCloud && !IsLocalTranscription(e.Name) {
			continue
		}
		t, err := r.CreateTranscriber(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("transcription.providers[%d]: %w", i, err))
			continue
		}
		out = append(out, transcribe.Backend{Name: backendName(e), Transcriber: t})
	}
	return out, errors.Join(errs...)
}

// BuildGenerators creates a backend for every entry of cfg in order.
func (r *Registry) BuildGenerators(cfg TextGenConfig) ([]textgen.Backend, error) {
	var (
		out  []textgen.Backend
		errs []error
	)
	for i, e := range cfg.Providers {
		g, err := r.CreateGenerator(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("textgen.providers[%d]: %w", i, err))
			continue
		}
		out = append(out, textgen.Backend{Name: backendName(e), Generator: g})
	}
	return out, errors.Join(errs...)
}

// backendName labels a backend in metrics and logs.
func backendName(e ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}
