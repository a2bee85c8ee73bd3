package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SAMWISE_"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"deepgram", "openai", "groq", "whisper", "whisper-native"},
	"textgen":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// LocalTranscriptionProviders run without network access to a third party
// and are kept when transcription.use_cloud is false.
var LocalTranscriptionProviders = []string{"whisper", "whisper-native"}

// IsLocalTranscription reports whether name is a local transcription backend.
func IsLocalTranscription(name string) bool {
	return slices.Contains(LocalTranscriptionProviders, name)
}

// Load reads the YAML configuration file at path, applies .env files and
// SAMWISE_* environment overrides, and returns a validated [Config].
//
// An empty path skips the file and starts from [Default].
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.LookupEnv)
		applyDefaults(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment overrides are not applied. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// parse decodes data, applies lookup (if non-nil) and defaults, then
// validates.
func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env and .env.local from the working directory into the
// process environment. Variables that are already set win. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from SAMWISE_* variables found through lookup.
//
// Besides the fixed keys below, SAMWISE_<PROVIDER>_API_KEY fills the API key
// of every transcription and textgen provider entry named <provider> that
// has none (e.g. SAMWISE_DEEPGRAM_API_KEY, SAMWISE_WHISPER_NATIVE_API_KEY).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	str("OUTPUT_DIR", &cfg.Output.Dir)
	str("OUTPUT_FORMAT", &cfg.Output.Format)
	str("DATABASE_DSN", &cfg.Store.DSN)
	str("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	str("ARCHIVE_REGION", &cfg.Archive.Region)
	str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	str("LOOPBACK_DEVICE", &cfg.Audio.LoopbackDevice)
	str("LOG_FILE", &cfg.Log.File)

	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = LogLevel(strings.ToLower(v))
	}
	if v, ok := lookup(EnvPrefix + "STORE_DRIVER"); ok && v != "" {
		cfg.Store.Driver = StoreDriver(strings.ToLower(v))
	}
	if v, ok := lookup(EnvPrefix + "USE_CLOUD"); ok && v != "" {
		cfg.Transcription.UseCloud = v == "1" || strings.EqualFold(v, "true")
	}

	applyKeys := func(entries []ProviderEntry) {
		for i := range entries {
			if entries[i].APIKey != "" || entries[i].Name == "" {
				continue
			}
			key := strings.ToUpper(strings.ReplaceAll(entries[i].Name, "-", "_")) + "_API_KEY"
			str(key, &entries[i].APIKey)
		}
	}
	applyKeys(cfg.Transcription.Providers)
	applyKeys(cfg.TextGen.Providers)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}

	// Server
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio and capture
	if cfg.Audio.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_frames %d must not be negative", cfg.Audio.BufferFrames))
	}
	if cfg.Capture.FlushThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.flush_threshold %d must not be negative", cfg.Capture.FlushThreshold))
	}
	if cfg.Capture.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_capacity %d must not be negative", cfg.Capture.QueueCapacity))
	}
	if cfg.Capture.FlushThreshold > 0 && cfg.Capture.QueueCapacity > 0 && cfg.Capture.FlushThreshold >= cfg.Capture.QueueCapacity {
		errs = append(errs, fmt.Errorf("capture.flush_threshold %d must be below capture.queue_capacity %d", cfg.Capture.FlushThreshold, cfg.Capture.QueueCapacity))
	}
	if cfg.Capture.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("capture.retry_attempts %d must not be negative", cfg.Capture.RetryAttempts))
	}

	// Output
	switch cfg.Output.Format {
	case "", "mp3", "opus":
	default:
		errs = append(errs, fmt.Errorf("output.format %q is invalid; valid values: mp3, opus", cfg.Output.Format))
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StorePostgres || cfg.Store.Driver == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	// Providers
	errs = append(errs, validateProviders("transcription", cfg.Transcription.Providers)...)
	errs = append(errs, validateProviders("textgen", cfg.TextGen.Providers)...)

	if len(cfg.Transcription.Providers) > 0 && !cfg.Transcription.UseCloud {
		local := slices.ContainsFunc(cfg.Transcription.Providers, func(e ProviderEntry) bool {
			return IsLocalTranscription(e.Name)
		})
		if !local {
			slog.Warn("transcription.use_cloud is false and no local provider is configured; transcription is disabled")
		}
	}

	// Archive
	if cfg.Archive.Bucket == "" && (cfg.Archive.Prefix != "" || cfg.Archive.Endpoint != "") {
		errs = append(errs, errors.New("archive.bucket is required when other archive settings are set"))
	}

	return errors.Join(errs...)
}

// validateProviders checks required fields, duplicates and warns about
// unknown names for one provider list.
func validateProviders(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("%s.providers[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		// The same backend may appear twice with different models.
		id := e.Name + "/" + e.Model
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of %s.providers[%d]", prefix, id, kind, prev))
		}
		seen[id] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
