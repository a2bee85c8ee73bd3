// Package postprocess turns the segment files of a stopped capture session
// into one compressed recording: it merges each direction's segments,
// superimposes the two directions and encodes the mix, then removes the
// intermediates.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chandeldivyam/samwise/internal/notify"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/segment"
	"github.com/chandeldivyam/samwise/internal/wavio"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// ErrNoUsableAudio is returned by [Processor.Run] when neither direction
// produced a merged track.
var ErrNoUsableAudio = errors.New("postprocess: no usable audio in either direction")

// Job describes one stopped session.
type Job struct {
	// RecordingID is carried on the completion event.
	RecordingID string

	// Label is the session label shared by all of the session's files.
	Label string

	// Dir holds the segment files; intermediates are written here too.
	Dir string

	// Segments lists each direction's segment files in index order.
	Segments map[audio.Direction][]string

	// OutputPath is the final file. Empty means final_<label>.<ext> in the
	// processor's output directory.
	OutputPath string
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithEncoder sets the final encoder. Defaults to [MP3Encoder].
func WithEncoder(e Encoder) Option {
	return func(p *Processor) { p.encoder = e }
}

// WithNotifier sets the receiver of recording_processed events. Defaults to
// [notify.Log].
func WithNotifier(n notify.Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithKeepIntermediates disables removal of segment and merged files.
func WithKeepIntermediates(keep bool) Option {
	return func(p *Processor) { p.keep = keep }
}

// Processor runs post-processing jobs. It holds no per-job state and is safe
// for concurrent use.
type Processor struct {
	outDir   string
	encoder  Encoder
	notifier notify.Notifier
	metrics  *observe.Metrics
	keep     bool
}

// New returns a Processor writing default-named outputs to outDir.
func New(outDir string, opts ...Option) *Processor {
	p := &Processor{outDir: outDir}
	for _, o := range opts {
		o(p)
	}
	if p.encoder == nil {
		p.encoder = MP3Encoder{}
	}
	if p.notifier == nil {
		p.notifier = notify.Log
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Encoder returns the configured encoder.
func (p *Processor) Encoder() Encoder { return p.encoder }

// OutputPath returns where job's recording is written.
func (p *Processor) OutputPath(job Job) string {
	if job.OutputPath != "" {
		return job.OutputPath
	}
	return filepath.Join(p.outDir, fmt.Sprintf("final_%s.%s", job.Label, p.encoder.Ext()))
}

// Run merges, mixes and encodes job and returns the output path. A direction
// whose merge fails is skipped; Run fails only when no direction merges.
// Intermediates are removed only after a successful run.
func (p *Processor) Run(ctx context.Context, job Job) (out string, err error) {
	ctx, span := observe.StartSpan(ctx, "postprocess.run")
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordPostProcess(ctx, status, time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	log := observe.Logger(ctx).With("recording_id", job.RecordingID, "label", job.Label)

	merged := make(map[audio.Direction]string, len(audio.Directions))
	paths := make([]string, len(audio.Directions))
	var g errgroup.Group
	for i, dir := range audio.Directions {
		g.Go(func() error {
			segs := job.Segments[dir]
			if len(segs) == 0 {
				log.Warn("no segments for direction", "direction", dir.String())
				return nil
			}
			path := filepath.Join(job.Dir, segment.MergedName(dir, job.Label))
			format, err := Merge(segs, path)
			if err != nil {
				log.Error("merge failed, skipping direction", "direction", dir.String(), "error", err)
				_ = os.Remove(path)
				return nil
			}
			log.Debug("direction merged", "direction", dir.String(), "segments", len(segs), "format", format.String())
			paths[i] = path
			return nil
		})
	}
	_ = g.Wait()
	for i, dir := range audio.Directions {
		if paths[i] != "" {
			merged[dir] = paths[i]
		}
	}

	var mixed string
	switch len(merged) {
	case 0:
		return "", fmt.Errorf("%w: recording %s", ErrNoUsableAudio, job.RecordingID)
	case 1:
		for dir, path := range merged {
			log.Warn("only one direction available, skipping superimpose", "direction", dir.String())
			mixed = path
		}
	default:
		mixed = filepath.Join(job.Dir, fmt.Sprintf("superimposed_%s.wav", job.Label))
		if err := Superimpose(merged[audio.Input], merged[audio.Output], mixed); err != nil {
			return "", err
		}
	}

	track, err := wavio.Read(mixed)
	if err != nil {
		return "", fmt.Errorf("postprocess: read mix: %w", err)
	}
	out = p.OutputPath(job)
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("postprocess: create output dir: %w", err)
		}
	}
	if err := EncodeFile(p.encoder, track, out); err != nil {
		return "", err
	}

	log.Info("recording processed", "output", out, "encoder", p.encoder.Name(), "frames", track.Frames())
	p.notifier.Notify(ctx, notify.NewEvent(notify.RecordingProcessed, job.RecordingID))

	if !p.keep {
		removeAll(log, job, merged, mixed)
	}
	return out, nil
}

// removeAll deletes segments and intermediates. Failures are logged only.
func removeAll(log *slog.Logger, job Job, merged map[audio.Direction]string, mixed string) {
	var files []string
	for _, dir := range audio.Directions {
		files = append(files, job.Segments[dir]...)
	}
	for _, path := range merged {
		files = append(files, path)
	}
	files = append(files, mixed)

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove intermediate file", "path", f, "error", err)
		}
	}
}
