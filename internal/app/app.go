// Package app wires all samwise subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithArchiver, WithListener, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chandeldivyam/samwise/internal/archive"
	"github.com/chandeldivyam/samwise/internal/capture"
	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/internal/health"
	"github.com/chandeldivyam/samwise/internal/notify"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/postprocess"
	"github.com/chandeldivyam/samwise/internal/recording"
	"github.com/chandeldivyam/samwise/internal/recording/postgres"
	"github.com/chandeldivyam/samwise/internal/recording/sqlite"
	"github.com/chandeldivyam/samwise/internal/segment"
	"github.com/chandeldivyam/samwise/internal/server"
	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/transcribe"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// Providers holds the externally constructed dependencies. Nil Transcriber
// or Generator disables the matching operations until a backend is swapped
// in. Populated by main.go via the config registry.
type Providers struct {
	Host        audio.Host
	Transcriber transcribe.Transcriber
	Generator   textgen.Generator
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store          recording.Store
	pinger         health.Pinger
	archiver       recording.Archiver
	metrics        *observe.Metrics
	metricsHandler http.Handler
	hub            *notify.Hub
	events         *notify.Multi
	recorder       *capture.Recorder
	service        *recording.Service
	transcriber    *transcriberSlot
	generator      *generatorSlot
	handler        http.Handler
	listener       net.Listener
	httpServer     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a recording store instead of opening one from config.
func WithStore(s recording.Store) Option {
	return func(a *App) { a.store = s }
}

// WithArchiver injects an archiver instead of creating an S3 uploader.
func WithArchiver(ar recording.Archiver) Option {
	return func(a *App) { a.archiver = ar }
}

// WithMetrics injects the instruments shared by all subsystems and disables
// the OpenTelemetry provider setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves the API on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing is captured
// and no port is bound until [App.Service] is used or [App.Run] is called.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Host == nil {
		return nil, errors.New("app: an audio host is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Recording store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 4. Notifications ─────────────────────────────────────────────────
	a.hub = notify.NewHub(notify.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	a.events = notify.NewMulti(notify.Log, a.hub)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 5. Capture + post-processing ─────────────────────────────────────
	if err := a.initCapture(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 6. Recording service ─────────────────────────────────────────────
	if err := a.initService(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init service: %w", err)
	}

	// ── 7. HTTP API ──────────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry registers the OpenTelemetry providers and the /metrics
// handler unless metrics were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	if a.cfg.Observability.DisableMetrics {
		a.metrics = observe.DefaultMetrics()
		return nil
	}
	p, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: a.cfg.Observability.ServiceName,
	})
	if err != nil {
		return err
	}
	a.metricsHandler = p.MetricsHandler
	a.metrics = observe.DefaultMetrics()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.Shutdown(ctx)
	})
	return nil
}

// initStore opens the configured store or uses the injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		if p, ok := a.store.(health.Pinger); ok {
			a.pinger = p
		}
		return nil
	}

	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store, a.pinger = s, s
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
	case config.StoreSQLite:
		s, err := sqlite.Open(a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store, a.pinger = s, s
		a.closers = append(a.closers, s.Close)
	default:
		slog.Warn("using in-memory recording store; rows are lost on restart")
		a.store = recording.NewMemStore()
	}
	slog.Info("recording store ready", "driver", a.cfg.Store.Driver)
	return nil
}

// initArchive creates the S3 uploader when archiving is configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.archiver != nil || !a.cfg.Archive.Enabled() {
		return nil
	}
	s3, err := archive.New(ctx, archive.Config{
		Bucket:       a.cfg.Archive.Bucket,
		Prefix:       a.cfg.Archive.Prefix,
		Region:       a.cfg.Archive.Region,
		Endpoint:     a.cfg.Archive.Endpoint,
		UsePathStyle: a.cfg.Archive.UsePathStyle,
	})
	if err != nil {
		return err
	}
	a.archiver = s3
	slog.Info("archiving recordings", "bucket", a.cfg.Archive.Bucket, "prefix", a.cfg.Archive.Prefix)
	return nil
}

// initCapture builds the segment writer, post-processor and recorder.
func (a *App) initCapture() error {
	if err := os.MkdirAll(a.cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	writer, err := segment.NewWriter(a.cfg.Capture.SegmentDir, segment.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	enc, err := postprocess.NewEncoder(a.cfg.Output.Format)
	if err != nil {
		return err
	}
	proc := postprocess.New(a.cfg.Output.Dir,
		postprocess.WithEncoder(enc),
		postprocess.WithNotifier(a.events),
		postprocess.WithMetrics(a.metrics),
		postprocess.WithKeepIntermediates(a.cfg.Output.KeepIntermediates),
	)

	cc := a.cfg.Capture
	opts := []capture.Option{
		capture.WithNotifier(a.events),
		capture.WithMetrics(a.metrics),
	}
	if cc.RetryAttempts > 0 {
		opts = append(opts, capture.WithRetry(cc.RetryAttempts, cc.RetryBackoff))
	}
	if cc.PollInterval > 0 {
		opts = append(opts, capture.WithPollInterval(cc.PollInterval))
	}
	if cc.FlushThreshold > 0 {
		opts = append(opts, capture.WithFlushThreshold(cc.FlushThreshold))
	}
	if cc.QueueCapacity > 0 {
		opts = append(opts, capture.WithQueueCapacity(cc.QueueCapacity))
	}
	rec, err := capture.New(a.providers.Host, writer, proc, opts...)
	if err != nil {
		return err
	}
	a.recorder = rec
	return nil
}

// initService builds the recording service and subscribes it to lifecycle
// events.
func (a *App) initService() error {
	a.transcriber = &transcriberSlot{}
	a.transcriber.timeout.Store(int64(a.cfg.Transcription.Timeout))
	a.transcriber.set(a.providers.Transcriber)
	a.generator = &generatorSlot{}
	a.generator.set(a.providers.Generator)

	enc, err := postprocess.NewEncoder(a.cfg.Output.Format)
	if err != nil {
		return err
	}
	opts := []recording.Option{
		recording.WithTranscriber(a.transcriber),
		recording.WithGenerator(a.generator),
		recording.WithNotifier(a.events),
		recording.WithOutputExt(enc.Ext()),
	}
	if a.archiver != nil {
		opts = append(opts, recording.WithArchiver(a.archiver))
	}
	svc, err := recording.NewService(a.store, a.recorder, a.cfg.Output.Dir, opts...)
	if err != nil {
		return err
	}
	a.service = svc
	a.events.Add(svc)
	return nil
}

// initServer builds the HTTP handler with health checks for every
// dependency that can fail at runtime.
func (a *App) initServer() {
	checks := []health.Checker{
		health.WritableDir("output_dir", a.cfg.Output.Dir),
		health.Func("audio", func() error {
			_, err := audio.ResolveDefault(a.providers.Host, audio.Input)
			return err
		}),
	}
	if a.pinger != nil {
		checks = append(checks, health.Ping("store", a.pinger))
	}

	opts := []server.Option{
		server.WithEvents(a.hub),
		server.WithHealth(health.New(checks...)),
		server.WithMetrics(a.metrics),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.handler = server.New(a.service, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Service returns the recording service.
func (a *App) Service() *recording.Service { return a.service }

// Metrics returns the instruments shared by all subsystems.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.handler }

// SetTranscriber replaces the transcription backend. Nil disables
// transcription. Safe to call while requests are in flight.
func (a *App) SetTranscriber(t transcribe.Transcriber) { a.transcriber.set(t) }

// SetTranscriptionTimeout bounds subsequent transcriptions. Zero removes
// the bound.
func (a *App) SetTranscriptionTimeout(d time.Duration) { a.transcriber.timeout.Store(int64(d)) }

// SetGenerator replaces the text generation backend. Nil disables text
// operations.
func (a *App) SetGenerator(g textgen.Generator) { a.generator.set(g) }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. When ctx is done, Run shuts the server down gracefully and returns
// ctx.Err().
func (a *App) Run(ctx context.Context) error {
	l := a.listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	a.httpServer = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(l, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(l)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	slog.Info("api listening", "addr", l.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops an active recording so its audio is not lost, waits for
// post-processing and archive uploads, then runs the closers. It respects
// the context deadline: if ctx expires first, remaining work is skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if id, ok := a.recorder.Active(); ok {
			slog.Info("stopping active recording", "recording_id", id)
			if _, err := a.service.Process(ctx, id); err != nil {
				slog.Warn("stop active recording", "recording_id", id, "error", err)
			}
		}

		done := make(chan struct{})
		go func() {
			a.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while post-processing")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Wait blocks until post-processing of stopped recordings and archive
// uploads have finished.
func (a *App) Wait() {
	a.recorder.Wait()
	a.service.Wait()
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "error", err)
		}
	}
	a.closers = nil
}
