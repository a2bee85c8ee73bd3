// Package capture runs a dual-stream recording session: one stream on the
// default input device and one on the default output (loopback) device.
//
// Device callbacks push sequence-numbered packets into a bounded [Queue] per
// direction. A health monitor goroutine flushes oversized queues to segment
// files and rebuilds streams that died or whose default device changed. Stop
// flushes what remains and hands the session's segments to a post-processor
// in the background.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chandeldivyam/samwise/internal/notify"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/postprocess"
	"github.com/chandeldivyam/samwise/internal/segment"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// LabelLayout formats the session start time into the label shared by every
// file of a session.
const LabelLayout = "20060102_150405"

// Default recorder parameters.
const (
	defaultBuildAttempts  = 3
	defaultBuildBackoff   = 1 * time.Second
	defaultPollInterval   = 2 * time.Second
	defaultFlushThreshold = 6000
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("capture: not recording")

	// ErrStreamBuildFailed is returned by Start when a stream could not be
	// opened within the retry budget.
	ErrStreamBuildFailed = errors.New("capture: stream build failed")
)

// Processor turns a stopped session's segment files into the final recording
// and returns its path.
type Processor interface {
	Run(ctx context.Context, job postprocess.Job) (string, error)
}

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithNotifier sets the lifecycle event receiver. Defaults to [notify.Log].
func WithNotifier(n notify.Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithRetry sets how many times Start tries to open each stream and the fixed
// pause between attempts. Defaults to 3 attempts, 1s apart.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Recorder) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if backoff >= 0 {
			r.backoff = backoff
		}
	}
}

// WithPollInterval sets the health monitor period. Defaults to 2s.
func WithPollInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithFlushThreshold sets the queue length above which the monitor flushes a
// direction early. Defaults to 6000 packets.
func WithFlushThreshold(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.flushThreshold = n
		}
	}
}

// WithQueueCapacity sets the per-direction queue capacity. Defaults to
// [DefaultQueueCapacity].
func WithQueueCapacity(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queueCap = n
		}
	}
}

// WithSleep replaces the backoff sleep used between stream build attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Recorder) { r.sleep = fn }
}

// WithClock replaces the wall clock used for session labels and packet
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder owns at most one active capture session at a time. All methods
// are safe for concurrent use.
type Recorder struct {
	host     audio.Host
	writer   *segment.Writer
	proc     Processor
	notifier notify.Notifier
	metrics  *observe.Metrics

	attempts       int
	backoff        time.Duration
	pollInterval   time.Duration
	flushThreshold int
	queueCap       int
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time

	mu   sync.Mutex
	sess *session
	jobs sync.WaitGroup
}

// New returns a Recorder capturing from host, writing segments with writer
// and handing stopped sessions to proc.
func New(host audio.Host, writer *segment.Writer, proc Processor, opts ...Option) (*Recorder, error) {
	if host == nil {
		return nil, errors.New("capture: host must not be nil")
	}
	if writer == nil {
		return nil, errors.New("capture: segment writer must not be nil")
	}
	if proc == nil {
		return nil, errors.New("capture: processor must not be nil")
	}
	r := &Recorder{
		host:           host,
		writer:         writer,
		proc:           proc,
		attempts:       defaultBuildAttempts,
		backoff:        defaultBuildBackoff,
		pollInterval:   defaultPollInterval,
		flushThreshold: defaultFlushThreshold,
		queueCap:       DefaultQueueCapacity,
		sleep:          sleepContext,
		now:            time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.notifier == nil {
		r.notifier = notify.Log
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// session is the state of one Start..Stop cycle.
type session struct {
	id     string
	label  string
	start  time.Time
	tracks map[audio.Direction]*track

	active       atomic.Bool
	segmentIndex atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// nextIndex returns the current shared segment index and advances it.
func (s *session) nextIndex() int {
	return int(s.segmentIndex.Add(1) - 1)
}

// track is the per-direction half of a session.
type track struct {
	dir   audio.Direction
	queue *Queue
	seq   atomic.Uint64
	alive atomic.Bool
	// gen identifies the newest stream opened for the track. Error
	// callbacks of older streams carry a stale value and are ignored.
	gen atomic.Uint64

	mu       sync.Mutex
	device   audio.Device
	stream   audio.Stream
	segments []string

	// Monitor-only counters for metric deltas.
	reportedPushed  uint64
	reportedDropped uint64
}

func (t *track) current() (audio.Device, audio.Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device, t.stream
}

func (t *track) config() audio.StreamConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device.Config
}

func (t *track) addSegment(path string) {
	t.mu.Lock()
	t.segments = append(t.segments, path)
	t.mu.Unlock()
}

func (t *track) segmentPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.segments))
	copy(out, t.segments)
	return out
}

// Active reports whether a session is in progress and returns its ID.
func (r *Recorder) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return "", false
	}
	return r.sess.id, true
}

// Start opens capture streams on the current default input and output
// devices and begins recording session id. Each stream is tried up to the
// configured number of attempts; if either direction cannot be opened Start
// fails with [ErrStreamBuildFailed] and leaves no session behind.
func (r *Recorder) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return fmt.Errorf("%w: session %s", ErrAlreadyRecording, r.sess.id)
	}

	now := r.now()
	s := &session{
		id:     id,
		label:  now.Format(LabelLayout),
		start:  now,
		tracks: make(map[audio.Direction]*track, len(audio.Directions)),
		done:   make(chan struct{}),
	}
	s.segmentIndex.Store(1)

	r.refreshDevices(id)
	for _, dir := range audio.Directions {
		dev, err := audio.ResolveDefault(r.host, dir)
		if err != nil {
			return fmt.Errorf("capture: start: %w", err)
		}
		s.tracks[dir] = &track{dir: dir, queue: NewQueue(r.queueCap), device: dev}
	}

	for _, dir := range audio.Directions {
		t := s.tracks[dir]
		stream, err := r.openWithRetry(ctx, s, t, t.device)
		if err != nil {
			closeTracks(s)
			return err
		}
		t.stream = stream
	}

	for _, dir := range audio.Directions {
		t := s.tracks[dir]
		if err := t.stream.Play(); err != nil {
			closeTracks(s)
			return fmt.Errorf("%w: play %s stream: %w", ErrStreamBuildFailed, dir, err)
		}
		t.alive.Store(true)
	}

	s.active.Store(true)
	r.sess = s
	s.wg.Add(1)
	go r.monitor(s)

	r.metrics.ActiveRecordings.Add(ctx, 1)
	slog.Info("recording started",
		"recording_id", id,
		"label", s.label,
		"mic", s.tracks[audio.Input].device.Name,
		"mic_config", s.tracks[audio.Input].device.Config.String(),
		"speaker", s.tracks[audio.Output].device.Name,
		"speaker_config", s.tracks[audio.Output].device.Config.String(),
	)
	r.notifier.Notify(ctx, notify.NewEvent(notify.RecordingStarted, id))
	return nil
}

// Stop ends the active session: it halts the monitor, stops both streams,
// flushes the remaining packets of each direction as one final segment and
// schedules post-processing into outputPath. Stop returns once the final
// segments are on disk; post-processing continues in the background (see
// [Recorder.Wait]).
//
// A non-empty id must match the active session.
func (r *Recorder) Stop(ctx context.Context, id, outputPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sess
	if s == nil {
		return ErrNotRecording
	}
	if id != "" && id != s.id {
		return fmt.Errorf("%w: session %s (active is %s)", ErrNotRecording, id, s.id)
	}

	s.active.Store(false)
	close(s.done)
	s.wg.Wait()
	closeTracks(s)

	idx := int(s.segmentIndex.Load())
	for _, dir := range audio.Directions {
		r.flush(ctx, s, s.tracks[dir], idx)
	}
	s.segmentIndex.Add(1)
	r.sess = nil

	job := postprocess.Job{
		RecordingID: s.id,
		Label:       s.label,
		Dir:         r.writer.Dir(),
		Segments: map[audio.Direction][]string{
			audio.Input:  s.tracks[audio.Input].segmentPaths(),
			audio.Output: s.tracks[audio.Output].segmentPaths(),
		},
		OutputPath: outputPath,
	}

	r.metrics.ActiveRecordings.Add(ctx, -1)
	slog.Info("recording stopped",
		"recording_id", s.id,
		"mic_segments", len(job.Segments[audio.Input]),
		"speaker_segments", len(job.Segments[audio.Output]),
		"duration", r.now().Sub(s.start).Round(time.Millisecond),
	)
	r.notifier.Notify(ctx, notify.NewEvent(notify.RecordingStopped, s.id))

	bg := context.WithoutCancel(ctx)
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		path, err := r.proc.Run(bg, job)
		if err != nil {
			slog.Error("post-processing failed", "recording_id", job.RecordingID, "error", err)
			r.notifier.Notify(bg, notify.NewEvent(notify.ProcessingFailed, job.RecordingID))
			return
		}
		slog.Info("post-processing finished", "recording_id", job.RecordingID, "output", path)
	}()
	return nil
}

// Wait blocks until every post-processing job scheduled by Stop has
// finished.
func (r *Recorder) Wait() {
	r.jobs.Wait()
}

// openWithRetry opens a stream for t on dev, sleeping the fixed backoff
// between failed attempts.
func (r *Recorder) openWithRetry(ctx context.Context, s *session, t *track, dev audio.Device) (audio.Stream, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		stream, err := r.host.OpenStream(dev, t.dir, r.onData(s, t), r.onError(s, t, t.gen.Add(1)))
		if err == nil {
			return stream, nil
		}
		lastErr = err
		slog.Warn("failed to build capture stream",
			"direction", t.dir.String(),
			"device", dev.Name,
			"attempt", attempt,
			"max_attempts", r.attempts,
			"error", err,
		)
		if attempt == r.attempts {
			break
		}
		if err := r.sleep(ctx, r.backoff); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrStreamBuildFailed, t.dir, err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrStreamBuildFailed, t.dir, r.attempts, lastErr)
}

// onData returns the device callback for t. It copies the samples, stamps
// them and pushes without blocking.
func (r *Recorder) onData(s *session, t *track) audio.DataFunc {
	return func(samples []float32) {
		if !s.active.Load() {
			return
		}
		buf := make([]float32, len(samples))
		copy(buf, samples)
		t.queue.Push(audio.Packet{
			Seq:       t.seq.Add(1) - 1,
			Timestamp: r.now().Sub(s.start),
			Samples:   buf,
		})
	}
}

// onError returns the error callback for the stream of generation gen on t.
// It only marks the track dead; the monitor rebuilds it. Errors reported by a
// stream that has since been replaced are logged and otherwise ignored.
func (r *Recorder) onError(s *session, t *track, gen uint64) audio.ErrorFunc {
	return func(err error) {
		if gen != t.gen.Load() {
			slog.Debug("ignoring error from replaced capture stream",
				"recording_id", s.id,
				"direction", t.dir.String(),
				"error", err,
			)
			return
		}
		t.alive.Store(false)
		slog.Warn("capture stream error",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"error", err,
		)
	}
}

// flush drains t's queue into segment idx. Empty queues produce no file and
// write failures are logged; the segment is then simply absent.
func (r *Recorder) flush(ctx context.Context, s *session, t *track, idx int) {
	packets := t.queue.Drain()
	if len(packets) == 0 {
		return
	}
	path, err := r.writer.Flush(ctx, t.dir, s.label, idx, packets, t.config())
	if err != nil {
		slog.Error("failed to write segment",
			"recording_id", s.id,
			"direction", t.dir.String(),
			"index", idx,
			"packets", len(packets),
			"error", err,
		)
		return
	}
	t.addSegment(path)
}

// refreshDevices asks a snapshotting host to re-enumerate its devices. It
// must only be called while none of the host's streams are open.
func (r *Recorder) refreshDevices(id string) {
	rf, ok := r.host.(audio.DeviceRefresher)
	if !ok {
		return
	}
	if err := rf.RefreshDevices(); err != nil {
		slog.Warn("failed to refresh audio devices", "recording_id", id, "error", err)
	}
}

func closeTracks(s *session) {
	for _, t := range s.tracks {
		_, stream := t.current()
		if stream == nil {
			continue
		}
		if err := stream.Pause(); err != nil {
			slog.Debug("pause capture stream", "direction", t.dir.String(), "error", err)
		}
		if err := stream.Close(); err != nil {
			slog.Debug("close capture stream", "direction", t.dir.String(), "error", err)
		}
		t.alive.Store(false)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
