// Package config provides the configuration schema, loader, and provider registry
// for the samwise recorder.
package config

import (
	"path/filepath"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// StoreDriver selects the recording store implementation.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	Output        OutputConfig        `yaml:"output"`
	Store         StoreConfig         `yaml:"store"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	TextGen       TextGenConfig       `yaml:"textgen"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network settings for the HTTP API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns accepted for websocket event
	// subscriptions from browsers. Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`

	// File, when set, additionally writes logs to a size-rotated file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AudioConfig configures the platform audio host.
type AudioConfig struct {
	// LoopbackDevice pins the system-output side to a named capture device.
	// Empty picks the first monitor-like device.
	LoopbackDevice string `yaml:"loopback_device"`

	// BufferFrames is the frames-per-buffer requested from the device.
	BufferFrames int `yaml:"buffer_frames"`

	// StallTimeout reports a stream dead after this long without callbacks.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// CaptureConfig tunes capture sessions. Zero values keep the recorder's
// built-in defaults.
type CaptureConfig struct {
	// SegmentDir holds per-direction segment files while recording.
	// Defaults to <output.dir>/segments.
	SegmentDir string `yaml:"segment_dir"`

	FlushThreshold int           `yaml:"flush_threshold"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// OutputConfig controls post-processing output.
type OutputConfig struct {
	// Dir receives final recordings. Defaults to "recordings".
	Dir string `yaml:"dir"`

	// Format is the final encoder: "mp3" (default) or "opus".
	Format string `yaml:"format"`

	// KeepIntermediates leaves segment and merged files on disk.
	KeepIntermediates bool `yaml:"keep_intermediates"`
}

// StoreConfig selects where recording rows are kept.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a PostgreSQL connection string for the postgres driver or a
	// file path for sqlite.
	DSN string `yaml:"dsn"`
}

// TranscriptionConfig lists speech-to-text backends in failover order.
type TranscriptionConfig struct {
	// UseCloud enables cloud backends. When false only local backends
	// (whisper, whisper-native) are used.
	UseCloud bool `yaml:"use_cloud"`

	Providers []ProviderEntry `yaml:"providers"`

	// Timeout bounds one transcription request across all backends.
	Timeout time.Duration `yaml:"timeout"`
}

// TextGenConfig lists text generation backends in failover order.
type TextGenConfig struct {
	Providers []ProviderEntry `yaml:"providers"`
}

// ArchiveConfig enables uploading final recordings to S3-compatible
// storage. Archiving is off while Bucket is empty.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint (MinIO, R2, ...).
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Enabled reports whether archiving is configured.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name.
	ServiceName string `yaml:"service_name"`

	// DisableMetrics turns off the /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
}

// ProviderEntry is the common configuration block shared by transcription
// and text generation backends. The Name field is used to look up the
// constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-medium").
	Model string `yaml:"model"`

	// Language is the spoken language hint for transcription backends.
	Language string `yaml:"language"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Default returns a configuration that runs locally with no external
// services: in-memory store, MP3 output and no backends.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills unset fields that other packages do not default
// themselves.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = LogText
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "recordings"
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "mp3"
	}
	if cfg.Capture.SegmentDir == "" {
		cfg.Capture.SegmentDir = filepath.Join(cfg.Output.Dir, "segments")
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Transcription.Timeout <= 0 {
		cfg.Transcription.Timeout = 15 * time.Minute
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "samwise"
	}
}
