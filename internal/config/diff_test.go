package config_test

import (
	"slices"
	"testing"

	"github.com/chandeldivyam/samwise/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	if d := config.Diff(a, b); d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "log:\n  level: info\n")
	b := mustLoad(t, "log:\n  level: error\n")
	d := config.Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogError {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level should not require restart: %v", d.RestartRequired)
	}
}

func TestDiff_Providers(t *testing.T) {
	t.Parallel()
	base := mustLoad(t, sampleYAML)

	tests := []struct {
		name       string
		mutate     func(*config.Config)
		transcribe bool
		textgen    bool
	}{
		{"use_cloud", func(c *config.Config) { c.Transcription.UseCloud = false }, true, false},
		{"api key", func(c *config.Config) { c.Transcription.Providers[0].APIKey = "rotated" }, true, false},
		{"reorder", func(c *config.Config) { slices.Reverse(c.Transcription.Providers) }, true, false},
		{"model", func(c *config.Config) { c.TextGen.Providers[1].Model = "llama3.1" }, false, true},
		{"option", func(c *config.Config) { c.TextGen.Providers[0].Options["max_tokens"] = 1024 }, false, true},
		{"removed", func(c *config.Config) { c.TextGen.Providers = c.TextGen.Providers[:1] }, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := mustLoad(t, sampleYAML)
			tt.mutate(next)
			d := config.Diff(base, next)
			if d.TranscriptionChanged != tt.transcribe || d.TextGenChanged != tt.textgen {
				t.Errorf("diff = %+v", d)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	b.Server.ListenAddr = ":1"
	b.Store.DSN = "postgres://other/samwise"
	b.Output.Format = "mp3"
	b.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}

	d := config.Diff(a, b)
	want := []string{"server", "output", "store"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("restart required = %v, want %v", d.RestartRequired, want)
	}
	if d.TranscriptionChanged || d.TextGenChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}
