// Package segment writes snapshots of a capture queue to WAV segment files,
// filling sequence gaps with synthesized silence so that each segment's
// playback duration tracks wall-clock time even when packets were lost.
package segment

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/wavio"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

var (
	// ErrEmpty is returned by [Writer.Flush] when the snapshot holds no
	// packets. No file is written.
	ErrEmpty = errors.New("segment: no packets to flush")

	// ErrIO wraps file system failures while writing a segment.
	ErrIO = errors.New("segment: i/o error")
)

// Name returns the file name of segment index for dir in the session
// labelled label, e.g. "mic_recording_20240102_150405_part3.wav".
func Name(dir audio.Direction, label string, index int) string {
	return fmt.Sprintf("%s_recording_%s_part%d.wav", dir, label, index)
}

// MergedName returns the file name of the merged per-direction track, e.g.
// "merged_speaker_20240102_150405.wav".
func MergedName(dir audio.Direction, label string) string {
	return fmt.Sprintf("merged_%s_%s.wav", dir, label)
}

// Assemble orders packets by sequence number and concatenates their
// samples. Every gap of n missing sequence numbers is filled with the
// silence equivalent of n packets at cfg's packet duration. Packets with a
// duplicate sequence number are dropped. The input slice is not modified.
func Assemble(packets []audio.Packet, cfg audio.StreamConfig) []float32 {
	if len(packets) == 0 {
		return nil
	}
	sorted := slices.Clone(packets)
	slices.SortStableFunc(sorted, func(a, b audio.Packet) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	channels := max(cfg.Channels, 1)
	total := 0
	for _, p := range sorted {
		total += len(p.Samples)
	}
	out := make([]float32, 0, total)

	for i, p := range sorted {
		if i > 0 {
			prev := sorted[i-1].Seq
			if p.Seq == prev {
				continue
			}
			if missing := p.Seq - prev - 1; missing > 0 {
				out = append(out, make([]float32, cfg.SilenceFrames(missing)*channels)...)
			}
		}
		out = append(out, p.Samples...)
	}
	return out
}

// Option is a functional option for configuring a Writer.
type Option func(*Writer)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// Writer flushes packet snapshots into segment files under one directory.
// It is safe for concurrent use; each flush writes a distinct file.
type Writer struct {
	dir     string
	metrics *observe.Metrics
}

// NewWriter returns a Writer that places segment files in dir, creating the
// directory if needed.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("segment: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, dir, err)
	}
	w := &Writer{dir: dir}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w, nil
}

// Dir returns the directory segments are written to.
func (w *Writer) Dir() string { return w.dir }

// Flush writes packets as segment index of direction dir and returns the
// file path. It writes exactly once per call. A failed write leaves no
// partial file behind.
func (w *Writer) Flush(ctx context.Context, dir audio.Direction, label string, index int, packets []audio.Packet, cfg audio.StreamConfig) (string, error) {
	if len(packets) == 0 {
		return "", ErrEmpty
	}
	start := time.Now()
	path := filepath.Join(w.dir, Name(dir, label, index))

	track := wavio.Track{
		Format:  wavio.FormatOf(cfg),
		Samples: Assemble(packets, cfg),
	}
	if err := wavio.Write(path, track); err != nil {
		w.metrics.RecordSegmentFlush(ctx, dir.String(), "error", time.Since(start).Seconds())
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("segment: failed to remove partial file", "path", path, "error", rmErr)
		}
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}

	w.metrics.RecordSegmentFlush(ctx, dir.String(), "ok", time.Since(start).Seconds())
	slog.Debug("segment written",
		"direction", dir.String(),
		"path", path,
		"packets", len(packets),
		"frames", track.Frames(),
	)
	return path, nil
}
