package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chandeldivyam/samwise/internal/capture"
	"github.com/chandeldivyam/samwise/internal/postprocess"
	"github.com/chandeldivyam/samwise/internal/segment"
	"github.com/chandeldivyam/samwise/pkg/audio"
	"github.com/chandeldivyam/samwise/pkg/audio/mock"
)

var cfg = audio.StreamConfig{
	Channels:     1,
	SampleRate:   16000,
	BitDepth:     32,
	Encoding:     audio.EncodingFloat,
	BufferFrames: 160,
}

type nopProcessor struct{}

func (nopProcessor) Run(context.Context, postprocess.Job) (string, error) { return "", nil }

// TestHost_DrivesRecorder follows the package documentation's usage.
func TestHost_DrivesRecorder(t *testing.T) {
	host := mock.NewHost(
		audio.Device{Name: "mic", Config: cfg},
		audio.Device{Name: "monitor", Config: cfg},
	)
	host.SetOpenFailures(audio.Input, 2)

	writer, err := segment.NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rec, err := capture.New(host, writer, nopProcessor{},
		capture.WithRetry(3, 0), capture.WithPollInterval(time.Hour))
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}

	ctx := context.Background()
	if err := rec.Start(ctx, "rec-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		_ = rec.Stop(ctx, "rec-1", "")
		rec.Wait()
	}()

	if got := host.OpenCount(audio.Input); got != 3 {
		t.Errorf("input opens = %d, want 3", got)
	}
	if !host.Stream(audio.Input).Emit(make([]float32, 160)) {
		t.Error("playing stream did not deliver samples")
	}
}

func TestRefreshingHost(t *testing.T) {
	host := mock.NewRefreshingHost(
		audio.Device{Name: "mic", Config: cfg},
		audio.Device{Name: "monitor", Config: cfg},
	)
	host.StageDefault(audio.Input, audio.Device{Name: "USB Mic", Config: cfg})

	if dev, _ := host.DefaultDevice(audio.Input); dev.Name != "mic" {
		t.Fatalf("default before refresh = %q, want mic", dev.Name)
	}

	st, err := host.OpenStream(audio.Device{Name: "mic", Config: cfg}, audio.Input, func([]float32) {}, func(error) {})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := host.RefreshDevices(); !errors.Is(err, audio.ErrStreamsOpen) {
		t.Fatalf("refresh with open stream: err = %v, want ErrStreamsOpen", err)
	}

	_ = st.Close()
	if err := host.RefreshDevices(); err != nil {
		t.Fatalf("RefreshDevices: %v", err)
	}
	if dev, _ := host.DefaultDevice(audio.Input); dev.Name != "USB Mic" {
		t.Errorf("default after refresh = %q, want USB Mic", dev.Name)
	}
	if got := host.Refreshes(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}
