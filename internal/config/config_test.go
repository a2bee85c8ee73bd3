package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/transcribe"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  allowed_origins: ["localhost:5173"]
  shutdown_timeout: 5s

log:
  level: debug
  format: json
  file: /var/log/samwise.log
  max_size_mb: 50

audio:
  loopback_device: "Monitor of Built-in Audio"
  buffer_frames: 1024
  stall_timeout: 3s

capture:
  segment_dir: /tmp/samwise/segments
  flush_threshold: 6000
  queue_capacity: 16384
  poll_interval: 2s
  retry_attempts: 3
  retry_backoff: 1s

output:
  dir: /tmp/samwise
  format: opus
  keep_intermediates: true

store:
  driver: postgres
  dsn: postgres://localhost/samwise

transcription:
  use_cloud: true
  timeout: 10m
  providers:
    - name: deepgram
      api_key: dg-test
      model: whisper-medium
      language: en
    - name: whisper
      base_url: http://localhost:8081

textgen:
  providers:
    - name: gemini
      model: gemini-1.5-pro
      options:
        max_tokens: 8192
    - name: ollama
      model: llama3

archive:
  bucket: meetings
  prefix: samwise/
  region: eu-central-1

observability:
  service_name: samwise-dev
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Log.Level != config.LogDebug || cfg.Log.Format != config.LogJSON || cfg.Log.MaxSizeMB != 50 {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Audio.StallTimeout != 3*time.Second || cfg.Audio.BufferFrames != 1024 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Capture.FlushThreshold != 6000 || cfg.Capture.QueueCapacity != 16384 || cfg.Capture.PollInterval != 2*time.Second {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Output.Format != "opus" || !cfg.Output.KeepIntermediates {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.Store.Driver != config.StorePostgres {
		t.Errorf("store = %+v", cfg.Store)
	}
	if len(cfg.Transcription.Providers) != 2 || cfg.Transcription.Providers[0].Language != "en" {
		t.Errorf("transcription = %+v", cfg.Transcription)
	}
	if cfg.Transcription.Timeout != 10*time.Minute {
		t.Errorf("transcription timeout = %v", cfg.Transcription.Timeout)
	}
	if got := cfg.TextGen.Providers[0].Options["max_tokens"]; got != 8192 {
		t.Errorf("textgen options = %v", cfg.TextGen.Providers[0].Options)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.Region != "eu-central-1" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Observability.ServiceName != "samwise-dev" {
		t.Errorf("observability = %+v", cfg.Observability)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Log.Level != config.LogInfo || cfg.Log.Format != config.LogText {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Output.Dir != "recordings" || cfg.Output.Format != "mp3" {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.Capture.SegmentDir != filepath.Join("recordings", "segments") {
		t.Errorf("segment_dir = %q", cfg.Capture.SegmentDir)
	}
	if cfg.Store.Driver != config.StoreMemory {
		t.Errorf("store driver = %q", cfg.Store.Driver)
	}
	if cfg.Archive.Enabled() {
		t.Error("archive should be disabled by default")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("output:\n  bitrate: 192\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_ExampleFile(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	cfg, err := config.LoadFromReader(f)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Output.Format != "mp3" || cfg.Store.Driver != config.StoreMemory {
		t.Errorf("output/store = %q/%q", cfg.Output.Format, cfg.Store.Driver)
	}
	if cfg.Archive.Enabled() {
		t.Error("example enables archiving")
	}
	if len(cfg.Transcription.Providers) == 0 || !config.IsLocalTranscription(cfg.Transcription.Providers[0].Name) {
		t.Errorf("transcription providers = %+v, want a local backend first", cfg.Transcription.Providers)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samwise.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("SAMWISE_DATABASE_DSN", "postgres://env/samwise")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DSN != "postgres://env/samwise" {
		t.Errorf("dsn = %q, want env override", cfg.Store.DSN)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SAMWISE_OUTPUT_DIR=/data/out\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SAMWISE_OUTPUT_DIR", "")
	os.Unsetenv("SAMWISE_OUTPUT_DIR")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.Dir != "/data/out" {
		t.Errorf("output dir = %q, want value from .env", cfg.Output.Dir)
	}
}

// ── environment ──────────────────────────────────────────────────────────────

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Transcription: config.TranscriptionConfig{Providers: []config.ProviderEntry{
			{Name: "deepgram"},
			{Name: "groq", APIKey: "from-file"},
			{Name: "whisper-native"},
		}},
		TextGen: config.TextGenConfig{Providers: []config.ProviderEntry{{Name: "openai"}}},
	}
	env := map[string]string{
		"SAMWISE_DEEPGRAM_API_KEY":       "dg-env",
		"SAMWISE_GROQ_API_KEY":           "groq-env",
		"SAMWISE_WHISPER_NATIVE_API_KEY": "unused-but-applied",
		"SAMWISE_OPENAI_API_KEY":         "sk-env",
		"SAMWISE_LOG_LEVEL":              "WARN",
		"SAMWISE_STORE_DRIVER":           "sqlite",
		"SAMWISE_USE_CLOUD":              "true",
		"SAMWISE_LISTEN_ADDR":            ":7000",
	}
	config.ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	tp := cfg.Transcription.Providers
	if tp[0].APIKey != "dg-env" || tp[1].APIKey != "from-file" || tp[2].APIKey != "unused-but-applied" {
		t.Errorf("transcription keys = %+v", tp)
	}
	if cfg.TextGen.Providers[0].APIKey != "sk-env" {
		t.Errorf("textgen key = %q", cfg.TextGen.Providers[0].APIKey)
	}
	if cfg.Log.Level != config.LogWarn || cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("log level %q, store driver %q", cfg.Log.Level, cfg.Store.Driver)
	}
	if !cfg.Transcription.UseCloud || cfg.Server.ListenAddr != ":7000" {
		t.Errorf("use_cloud %v, listen %q", cfg.Transcription.UseCloud, cfg.Server.ListenAddr)
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"output format", "output:\n  format: flac\n", "output.format"},
		{"store driver", "store:\n  driver: mongo\n", "store.driver"},
		{"postgres dsn", "store:\n  driver: postgres\n", "store.dsn"},
		{"sqlite dsn", "store:\n  driver: sqlite\n", "store.dsn"},
		{"tls", "server:\n  tls:\n    cert_file: c.pem\n", "server.tls"},
		{"flush vs capacity", "capture:\n  flush_threshold: 100\n  queue_capacity: 50\n", "flush_threshold"},
		{"negative queue", "capture:\n  queue_capacity: -1\n", "queue_capacity"},
		{"provider name", "transcription:\n  providers:\n    - model: x\n", "name is required"},
		{"duplicate provider", "textgen:\n  providers:\n    - name: ollama\n      model: a\n    - name: ollama\n      model: a\n", "duplicate"},
		{"archive without bucket", "archive:\n  prefix: x/\n", "archive.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("log:\n  level: loud\noutput:\n  format: flac\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log.level", "output.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestValidate_SameProviderDifferentModels(t *testing.T) {
	t.Parallel()
	mustLoad(t, "textgen:\n  providers:\n    - name: ollama\n      model: a\n    - name: ollama\n      model: b\n")
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterTranscriber("whisper", func(e config.ProviderEntry) (transcribe.Transcriber, error) {
		return transcribe.Func(func(context.Context, string) (string, error) { return e.BaseURL, nil }), nil
	})
	reg.RegisterGenerator("ollama", func(e config.ProviderEntry) (textgen.Generator, error) {
		return textgen.Func(func(context.Context, []textgen.Message) (string, error) { return e.Model, nil }), nil
	})

	tr, err := reg.CreateTranscriber(config.ProviderEntry{Name: "whisper", BaseURL: "http://w"})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := tr.Transcribe(context.Background(), "x"); got != "http://w" {
		t.Errorf("transcriber got entry %q", got)
	}
	gen, err := reg.CreateGenerator(config.ProviderEntry{Name: "ollama", Model: "llama3"})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := gen.Generate(context.Background(), nil); got != "llama3" {
		t.Errorf("generator got entry %q", got)
	}

	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "deepgram"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateGenerator(config.ProviderEntry{Name: "gemini"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if names := reg.Transcribers(); len(names) != 1 || names[0] != "whisper" {
		t.Errorf("Transcribers() = %v", names)
	}
}

func TestRegistry_BuildTranscribers(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, name := range []string{"deepgram", "whisper"} {
		reg.RegisterTranscriber(name, func(config.ProviderEntry) (transcribe.Transcriber, error) {
			return transcribe.Func(func(context.Context, string) (string, error) { return name, nil }), nil
		})
	}
	providers := []config.ProviderEntry{
		{Name: "deepgram", Model: "whisper-medium"},
		{Name: "whisper"},
	}

	cloud, err := reg.BuildTranscribers(config.TranscriptionConfig{UseCloud: true, Providers: providers})
	if err != nil {
		t.Fatal(err)
	}
	if len(cloud) != 2 || cloud[0].Name != "deepgram/whisper-medium" || cloud[1].Name != "whisper" {
		t.Errorf("cloud backends = %+v", cloud)
	}

	local, err := reg.BuildTranscribers(config.TranscriptionConfig{Providers: providers})
	if err != nil {
		t.Fatal(err)
	}
	if len(local) != 1 || local[0].Name != "whisper" {
		t.Errorf("local backends = %+v", local)
	}

	_, err = reg.BuildTranscribers(config.TranscriptionConfig{Providers: []config.ProviderEntry{{Name: "whisper-native"}}})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_BuildGenerators(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterGenerator("ollama", func(config.ProviderEntry) (textgen.Generator, error) {
		return textgen.Func(func(context.Context, []textgen.Message) (string, error) { return "", nil }), nil
	})
	got, err := reg.BuildGenerators(config.TextGenConfig{Providers: []config.ProviderEntry{{Name: "ollama", Model: "llama3"}, {Name: "unknown"}}})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if len(got) != 1 || got[0].Name != "ollama/llama3" {
		t.Errorf("backends = %+v", got)
	}
}
