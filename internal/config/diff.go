package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscriptionChanged is set when the backend list, their settings or
	// use_cloud changed.
	TranscriptionChanged bool

	// TextGenChanged is set when the text generation backends changed.
	TextGenChanged bool

	// RestartRequired lists top-level sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TranscriptionChanged || d.TextGenChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.Transcription.UseCloud != new.Transcription.UseCloud ||
		old.Transcription.Timeout != new.Transcription.Timeout ||
		!providersEqual(old.Transcription.Providers, new.Transcription.Providers) {
		d.TranscriptionChanged = true
	}
	if !providersEqual(old.TextGen.Providers, new.TextGen.Providers) {
		d.TextGenChanged = true
	}

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Log.Format != new.Log.Format || old.Log.File != new.Log.File {
		d.RestartRequired = append(d.RestartRequired, "log")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Output != new.Output {
		d.RestartRequired = append(d.RestartRequired, "output")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	if !slices.Equal(a.AllowedOrigins, b.AllowedOrigins) {
		return false
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	}
	return *a.TLS == *b.TLS
}

// providersEqual compares provider lists by position. Options maps are
// compared shallowly.
func providersEqual(a, b []ProviderEntry) bool {
	return slices.EqualFunc(a, b, func(x, y ProviderEntry) bool {
		if x.Name != y.Name || x.APIKey != y.APIKey || x.BaseURL != y.BaseURL ||
			x.Model != y.Model || x.Language != y.Language || len(x.Options) != len(y.Options) {
			return false
		}
		for k, v := range x.Options {
			w, ok := y.Options[k]
			if !ok || !scalarEqual(v, w) {
				return false
			}
		}
		return true
	})
}

// scalarEqual compares decoded YAML scalars. Nested values are treated as
// changed.
func scalarEqual(a, b any) bool {
	switch a.(type) {
	case string, int, int64, float64, bool, nil:
		return a == b
	}
	return false
}
