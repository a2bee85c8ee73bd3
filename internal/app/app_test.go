package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/chandeldivyam/samwise/internal/app"
	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/recording"
	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/transcribe"
	"github.com/chandeldivyam/samwise/pkg/audio"
	"github.com/chandeldivyam/samwise/pkg/audio/mock"
)

var (
	micConfig     = audio.StreamConfig{Channels: 1, SampleRate: 16000, BitDepth: 32, Encoding: audio.EncodingFloat, BufferFrames: 1600}
	speakerConfig = audio.StreamConfig{Channels: 2, SampleRate: 48000, BitDepth: 16, Encoding: audio.EncodingInt, BufferFrames: 4800}
)

// testConfig returns a config writing under a temp dir with the health
// monitor effectively disabled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Capture.SegmentDir = filepath.Join(cfg.Output.Dir, "segments")
	cfg.Capture.PollInterval = time.Hour
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func testHost() *mock.Host {
	return mock.NewHost(
		audio.Device{Name: "Built-in Microphone", Config: micConfig},
		audio.Device{Name: "Monitor of Built-in Audio", Config: speakerConfig},
	)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fakeArchiver struct {
	mu   sync.Mutex
	urls []string
}

func (a *fakeArchiver) Archive(_ context.Context, id, path string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	url := "s3://test/" + id + filepath.Ext(path)
	a.urls = append(a.urls, url)
	return url, nil
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{app.WithMetrics(testMetrics(t))}
	a, err := app.New(context.Background(), cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func emitTone(t *testing.T, host *mock.Host, packets int) {
	t.Helper()
	for i := range packets {
		for _, dir := range audio.Directions {
			cfg := micConfig
			if dir == audio.Output {
				cfg = speakerConfig
			}
			buf := make([]float32, cfg.BufferFrames*cfg.Channels)
			for f := range cfg.BufferFrames {
				v := float32(0.25 * math.Sin(2*math.Pi*330*float64(i*cfg.BufferFrames+f)/float64(cfg.SampleRate)))
				for ch := range cfg.Channels {
					buf[f*cfg.Channels+ch] = v
				}
			}
			if !host.Stream(dir).Emit(buf) {
				t.Fatalf("%s stream not playing", dir)
			}
		}
	}
}

func waitStatus(t *testing.T, svc *recording.Service, id string, want recording.Status) recording.Recording {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		r, err := svc.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if r.Status == want {
			return r
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want %s", r.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func post(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestNew_RequiresHost(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(t), &app.Providers{}); err == nil {
		t.Fatal("expected error without audio host")
	}
	if _, err := app.New(context.Background(), testConfig(t), nil); err == nil {
		t.Fatal("expected error with nil providers")
	}
}

func TestNew_UnknownOutputFormat(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Output.Format = "flac"
	_, err := app.New(context.Background(), cfg, &app.Providers{Host: testHost()}, app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.DSN = filepath.Join(t.TempDir(), "samwise.db")

	a := newApp(t, cfg, &app.Providers{Host: testHost()})

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Checks["store"] != "ok" {
		t.Errorf("readyz = %d %+v", resp.StatusCode, body)
	}
}

func TestApp_EndToEnd(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	host := testHost()
	archiver := &fakeArchiver{}

	var (
		mu          sync.Mutex
		transcribed string
	)
	providers := &app.Providers{
		Host: host,
		Transcriber: transcribe.Func(func(_ context.Context, path string) (string, error) {
			mu.Lock()
			transcribed = path
			mu.Unlock()
			return "let's ship the recorder on friday", nil
		}),
		Generator: textgen.Func(func(_ context.Context, msgs []textgen.Message) (string, error) {
			if strings.HasPrefix(msgs[0].Content, "Extract the action items") {
				return "- Ship the recorder (owner: unknown, due: friday)", nil
			}
			return "## Summary\nShipping on Friday.", nil
		}),
	}
	a := newApp(t, cfg, providers, app.WithArchiver(archiver))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body := post(t, srv.URL+"/recordings", `{"user_id":"u1","name":"planning"}`)
	if status != http.StatusCreated {
		t.Fatalf("create = %d: %s", status, body)
	}
	var created recording.Recording
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}

	emitTone(t, host, 10)

	if status, body := post(t, srv.URL+"/recordings/"+created.ID+"/stop", ""); status != http.StatusOK {
		t.Fatalf("stop = %d: %s", status, body)
	}
	r := waitStatus(t, a.Service(), created.ID, recording.StatusProcessed)

	info, err := os.Stat(r.FilePath)
	if err != nil {
		t.Fatalf("final file: %v", err)
	}
	if info.Size() == 0 || filepath.Ext(r.FilePath) != ".mp3" {
		t.Errorf("final file %s has %d bytes", r.FilePath, info.Size())
	}

	status, body = post(t, srv.URL+"/recordings/"+created.ID+"/transcribe", "")
	if status != http.StatusOK {
		t.Fatalf("transcribe = %d: %s", status, body)
	}
	mu.Lock()
	if transcribed != r.FilePath {
		t.Errorf("transcribed %q, want %q", transcribed, r.FilePath)
	}
	mu.Unlock()

	status, body = post(t, srv.URL+"/recordings/"+created.ID+"/summarize", "")
	if status != http.StatusOK {
		t.Fatalf("summarize = %d: %s", status, body)
	}
	var done recording.Recording
	if err := json.Unmarshal(body, &done); err != nil {
		t.Fatal(err)
	}
	if done.Status != recording.StatusCompleted || done.Summary == "" || !strings.HasPrefix(done.ActionItems, "- Ship") {
		t.Errorf("final row = %+v", done)
	}

	a.Service().Wait()
	got, err := a.Service().Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ArchiveURL != "s3://test/"+created.ID+".mp3" {
		t.Errorf("archive url = %q", got.ArchiveURL)
	}
}

func TestApp_SwapBackends(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t), &app.Providers{Host: testHost()})
	ctx := context.Background()
	msgs := []textgen.Message{{Role: textgen.RoleUser, Content: "hi"}}

	if _, err := a.Service().Chat(ctx, msgs); !errors.Is(err, recording.ErrNoGenerator) {
		t.Fatalf("err = %v, want ErrNoGenerator", err)
	}

	a.SetGenerator(textgen.Func(func(context.Context, []textgen.Message) (string, error) {
		return "hello", nil
	}))
	reply, err := a.Service().Chat(ctx, msgs)
	if err != nil || reply != "hello" {
		t.Fatalf("Chat = %q, %v", reply, err)
	}

	a.SetGenerator(nil)
	if _, err := a.Service().Chat(ctx, msgs); !errors.Is(err, recording.ErrNoGenerator) {
		t.Fatalf("after reset err = %v, want ErrNoGenerator", err)
	}
}

func TestApp_TranscriptionTimeout(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Transcription.Timeout = 20 * time.Millisecond
	host := testHost()

	a := newApp(t, cfg, &app.Providers{
		Host: host,
		Transcriber: transcribe.Func(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	})
	ctx := context.Background()
	r, err := a.Service().Create(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	emitTone(t, host, 2)
	if _, err := a.Service().Process(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, a.Service(), r.ID, recording.StatusProcessed)

	if _, err := a.Service().Transcribe(ctx, r.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	waitStatus(t, a.Service(), r.ID, recording.StatusProcessed)
}

func TestApp_ShutdownStopsActiveRecording(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	host := testHost()
	a, err := app.New(context.Background(), cfg, &app.Providers{Host: host}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}

	r, err := a.Service().Create(context.Background(), "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	emitTone(t, host, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	got, err := a.Service().Get(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != recording.StatusProcessed {
		t.Errorf("status = %s, want %s", got.Status, recording.StatusProcessed)
	}
	if _, err := os.Stat(got.FilePath); err != nil {
		t.Errorf("final file: %v", err)
	}

	// A second Shutdown is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a := newApp(t, testConfig(t), &app.Providers{Host: testHost()}, app.WithListener(l))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	url := "http://" + l.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}
