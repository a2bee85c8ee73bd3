package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chandeldivyam/samwise/internal/app"
	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/pkg/audio/portaudio"
)

// drainTimeout bounds how long shutdown waits for post-processing and
// archive uploads of the last recording.
const drainTimeout = 5 * time.Minute

func newServeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), st)
		},
	}
}

func runServe(parent context.Context, st *state) error {
	cfg := st.cfg
	slog.Info("samwise starting",
		"version", version,
		"config", st.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Log.Level,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, closeHost, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHost()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	t, g, err := buildBackends(cfg, reg, application.Metrics())
	if err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}
	application.SetTranscriber(t)
	application.SetGenerator(g)

	// ── Config hot reload ─────────────────────────────────────────────────────
	if st.configPath != "" {
		w, err := config.NewWatcher(st.configPath, func(old, new *config.Config) {
			applyReload(old, new, st, reg, application)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)
	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "error", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// newApplication opens the PortAudio host and builds the App on it. The
// returned func releases the host and must run after App.Shutdown.
func newApplication(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	var opts []portaudio.Option
	if cfg.Audio.LoopbackDevice != "" {
		opts = append(opts, portaudio.WithLoopbackDevice(cfg.Audio.LoopbackDevice))
	}
	if cfg.Audio.BufferFrames > 0 {
		opts = append(opts, portaudio.WithBufferFrames(cfg.Audio.BufferFrames))
	}
	if cfg.Audio.StallTimeout > 0 {
		opts = append(opts, portaudio.WithStallTimeout(cfg.Audio.StallTimeout))
	}
	host, err := portaudio.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	closeHost := func() {
		if err := host.Close(); err != nil {
			slog.Warn("audio host close error", "error", err)
		}
	}

	application, err := app.New(ctx, cfg, &app.Providers{Host: host})
	if err != nil {
		closeHost()
		return nil, nil, fmt.Errorf("initialise application: %w", err)
	}
	return application, closeHost, nil
}

// applyReload applies the hot-reloadable parts of a changed config file.
func applyReload(old, new *config.Config, st *state, reg *config.Registry, application *app.App) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && st.logLevel == "" {
		st.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscriptionChanged {
		t, err := buildTranscriber(new.Transcription, reg, application.Metrics())
		if err != nil {
			slog.Error("reload transcription backends; keeping previous", "error", err)
		} else {
			application.SetTranscriber(t)
			application.SetTranscriptionTimeout(new.Transcription.Timeout)
		}
	}
	if d.TextGenChanged {
		g, err := buildGenerator(new.TextGen, reg, application.Metrics())
		if err != nil {
			slog.Error("reload text generation backends; keeping previous", "error", err)
		} else {
			application.SetGenerator(g)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	out := os.Stdout
	fmt.Fprintln(out, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(out, "║         samwise: startup summary      ║")
	fmt.Fprintln(out, "╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Store", string(cfg.Store.Driver))
	printRow("Output", cfg.Output.Format+" → "+cfg.Output.Dir)
	printRow("Transcription", providerNames(cfg.Transcription.Providers))
	printRow("Text gen", providerNames(cfg.TextGen.Providers))
	if cfg.Archive.Enabled() {
		printRow("Archive", "s3://"+cfg.Archive.Bucket)
	} else {
		printRow("Archive", "(disabled)")
	}
	fmt.Fprintln(out, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:16]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func providerNames(entries []config.ProviderEntry) string {
	var s string
	for i, e := range entries {
		if i > 0 {
			s += ", "
		}
		s += e.Name
	}
	return s
}
