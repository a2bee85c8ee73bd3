package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chandeldivyam/samwise/internal/notify"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/transcribe"
)

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// recording's current status.
	ErrInvalidState = errors.New("recording: invalid state")

	// ErrBusy is returned while another transcription of the same
	// recording is in flight.
	ErrBusy = errors.New("recording: transcription in progress")

	// ErrNoTranscription is returned by Summarize and ChatAbout before the
	// recording has been transcribed.
	ErrNoTranscription = errors.New("recording: no transcription")

	// ErrNoTranscriber is returned by Transcribe when no backend is set.
	ErrNoTranscriber = errors.New("recording: no transcriber configured")

	// ErrNoGenerator is returned by text operations when no backend is set.
	ErrNoGenerator = errors.New("recording: no text generator configured")

	// ErrInvalidArgument is returned for missing user IDs, names or
	// messages.
	ErrInvalidArgument = errors.New("recording: invalid argument")
)

// errUnchanged short-circuits update without writing the row.
var errUnchanged = errors.New("unchanged")

// Recorder starts and stops capture sessions. It is satisfied by
// *capture.Recorder.
type Recorder interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id, outputPath string) error
}

// Archiver copies a finished recording to long-term storage and returns
// its location.
type Archiver interface {
	Archive(ctx context.Context, id, path string) (string, error)
}

// Option configures a [Service].
type Option func(*Service)

// WithTranscriber sets the speech-to-text backend.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(s *Service) { s.transcriber = t }
}

// WithGenerator sets the text generation backend.
func WithGenerator(g textgen.Generator) Option {
	return func(s *Service) { s.generator = g }
}

// WithNotifier sets where transcription events go. Defaults to [notify.Nop].
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithArchiver uploads every processed recording.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithOutputExt sets the extension of final files. Defaults to "mp3".
func WithOutputExt(ext string) Option {
	return func(s *Service) { s.ext = strings.TrimPrefix(ext, ".") }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// Service drives recordings through their lifecycle. It is also a
// [notify.Notifier]: wire it into the capture recorder's notifier so that
// post-processing results update the stored status.
type Service struct {
	store       Store
	recorder    Recorder
	transcriber transcribe.Transcriber
	generator   textgen.Generator
	archiver    Archiver
	notifier    notify.Notifier
	outputDir   string
	ext         string
	newID       func() string
	now         func() time.Time

	// mu serializes read-modify-write cycles on the store.
	mu   sync.Mutex
	busy map[string]struct{}

	wg sync.WaitGroup
}

var _ notify.Notifier = (*Service)(nil)

// NewService returns a Service storing rows in store, capturing through rec
// and writing final files under outputDir.
func NewService(store Store, rec Recorder, outputDir string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("recording: store must not be nil")
	}
	if rec == nil {
		return nil, errors.New("recording: recorder must not be nil")
	}
	if outputDir == "" {
		return nil, errors.New("recording: output dir must not be empty")
	}
	s := &Service{
		store:     store,
		recorder:  rec,
		notifier:  notify.Nop,
		outputDir: outputDir,
		ext:       "mp3",
		newID:     uuid.NewString,
		now:       time.Now,
		busy:      make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Wait blocks until background archive uploads have finished.
func (s *Service) Wait() { s.wg.Wait() }

// Create inserts a new recording for userID and starts capturing it. If the
// capture cannot start the row is kept with status failed and the start
// error is returned.
func (s *Service) Create(ctx context.Context, userID, name string) (Recording, error) {
	if userID == "" {
		return Recording{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	now := s.now().UTC()
	r := Recording{
		ID:        s.newID(),
		UserID:    userID,
		Name:      name,
		Status:    StatusRecording,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if r.Name == "" {
		r.Name = "Recording " + now.Format("2006-01-02 15:04")
	}
	if err := s.store.Create(ctx, r); err != nil {
		return Recording{}, fmt.Errorf("recording: create: %w", err)
	}

	if err := s.recorder.Start(ctx, r.ID); err != nil {
		failed, uerr := s.setStatus(ctx, r.ID, StatusFailed)
		if uerr != nil {
			return r, errors.Join(fmt.Errorf("recording: start: %w", err), uerr)
		}
		return failed, fmt.Errorf("recording: start: %w", err)
	}
	observe.Logger(ctx).Info("recording created", "recording_id", r.ID, "user_id", userID)
	return r, nil
}

// Process stops capturing id and hands the session to post-processing.
// The row moves to processing with its final file path; the
// recording_processed event later moves it to processing_completed.
func (s *Service) Process(ctx context.Context, id string) (Recording, error) {
	out := filepath.Join(s.outputDir, "final_"+id+"."+s.ext)

	// The row is updated before Stop so that a fast post-processing run
	// cannot have its processed status overwritten.
	r, err := s.update(ctx, id, func(r *Recording) error {
		if r.Status != StatusRecording {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, r.Status)
		}
		r.Status = StatusProcessing
		r.FilePath = out
		return nil
	})
	if err != nil {
		return r, err
	}

	if err := s.recorder.Stop(ctx, id, out); err != nil {
		if _, uerr := s.setStatus(ctx, id, StatusFailed); uerr != nil {
			return r, errors.Join(fmt.Errorf("recording: stop: %w", err), uerr)
		}
		return r, fmt.Errorf("recording: stop: %w", err)
	}
	return r, nil
}

// Transcribe returns the recording with its transcription, running the
// transcriber if none is stored yet. On failure the status reverts to what
// it was before.
func (s *Service) Transcribe(ctx context.Context, id string) (Recording, error) {
	if s.transcriber == nil {
		return Recording{}, ErrNoTranscriber
	}
	if !s.acquire(id) {
		return Recording{}, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	defer s.release(id)

	var prev Status
	r, err := s.update(ctx, id, func(r *Recording) error {
		if r.Transcription != "" {
			return errUnchanged
		}
		switch r.Status {
		case StatusProcessed, StatusCompleted:
		default:
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, r.Status)
		}
		if r.FilePath == "" {
			return fmt.Errorf("%w: %s has no audio file", ErrInvalidState, id)
		}
		prev = r.Status
		r.Status = StatusTranscribing
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return r, nil
	}
	if err != nil {
		return r, err
	}

	log := observe.Logger(ctx).With("recording_id", id)
	text, err := s.transcriber.Transcribe(ctx, r.FilePath)
	if err != nil {
		log.Warn("transcription failed", "error", err)
		if _, uerr := s.setStatus(context.WithoutCancel(ctx), id, prev); uerr != nil {
			return r, errors.Join(fmt.Errorf("recording: transcribe: %w", err), uerr)
		}
		return r, fmt.Errorf("recording: transcribe: %w", err)
	}

	r, err = s.update(ctx, id, func(r *Recording) error {
		r.Transcription = text
		r.Status = StatusCompleted
		return nil
	})
	if err != nil {
		return r, err
	}
	log.Info("transcription stored", "chars", len(text))
	s.notifier.Notify(ctx, notify.NewEvent(notify.TranscriptionCompleted, id))
	return r, nil
}

// Summarize generates and stores a summary and action items for a
// transcribed recording.
func (s *Service) Summarize(ctx context.Context, id string) (Recording, error) {
	if s.generator == nil {
		return Recording{}, ErrNoGenerator
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return Recording{}, err
	}
	if r.Transcription == "" {
		return r, fmt.Errorf("%w: %s", ErrNoTranscription, id)
	}

	summary, items, err := textgen.Summarize(ctx, s.generator, r.Transcription)
	if err != nil {
		return r, fmt.Errorf("recording: summarize: %w", err)
	}
	return s.update(ctx, id, func(r *Recording) error {
		r.Summary = summary
		r.ActionItems = items
		return nil
	})
}

// Chat passes messages straight to the text generator.
func (s *Service) Chat(ctx context.Context, messages []textgen.Message) (string, error) {
	if s.generator == nil {
		return "", ErrNoGenerator
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrInvalidArgument)
	}
	out, err := s.generator.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("recording: chat: %w", err)
	}
	return out, nil
}

// ChatAbout is Chat with the recording's transcript and summary prepended
// as a system message.
func (s *Service) ChatAbout(ctx context.Context, id string, messages []textgen.Message) (string, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Transcription == "" {
		return "", fmt.Errorf("%w: %s", ErrNoTranscription, id)
	}
	msgs := make([]textgen.Message, 0, len(messages)+1)
	msgs = append(msgs, textgen.ChatContext(r.Transcription, r.Summary))
	msgs = append(msgs, messages...)
	return s.Chat(ctx, msgs)
}

// Get returns the recording with id.
func (s *Service) Get(ctx context.Context, id string) (Recording, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Recording{}, fmt.Errorf("recording: get %s: %w", id, err)
	}
	return r, nil
}

// List returns the user's recordings, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Recording, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	rs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recording: list: %w", err)
	}
	return rs, nil
}

// Notify implements [notify.Notifier]. It applies post-processing results
// to the stored status and ignores every other kind.
func (s *Service) Notify(ctx context.Context, ev notify.Event) {
	log := slog.With("recording_id", ev.RecordingID, "kind", string(ev.Kind))
	switch ev.Kind {
	case notify.RecordingProcessed:
		r, err := s.setStatus(ctx, ev.RecordingID, StatusProcessed)
		if err != nil {
			log.Error("update status", "error", err)
			return
		}
		if s.archiver != nil && r.FilePath != "" {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.archive(context.WithoutCancel(ctx), r)
			}()
		}
	case notify.ProcessingFailed:
		if _, err := s.setStatus(ctx, ev.RecordingID, StatusFailed); err != nil {
			log.Error("update status", "error", err)
		}
	}
}

func (s *Service) archive(ctx context.Context, r Recording) {
	log := slog.With("recording_id", r.ID, "path", r.FilePath)
	url, err := s.archiver.Archive(ctx, r.ID, r.FilePath)
	if err != nil {
		log.Error("archive recording", "error", err)
		return
	}
	if _, err := s.update(ctx, r.ID, func(r *Recording) error {
		r.ArchiveURL = url
		return nil
	}); err != nil {
		log.Error("store archive url", "error", err)
		return
	}
	log.Info("recording archived", "url", url)
}

// ---- store helpers ----

// update loads id, applies fn and writes the row back under s.mu. When fn
// returns an error nothing is written and the loaded row is returned with
// that error.
func (s *Service) update(ctx context.Context, id string, fn func(*Recording) error) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Recording{}, fmt.Errorf("recording: get %s: %w", id, err)
	}
	if err := fn(&r); err != nil {
		return r, err
	}
	r.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, r); err != nil {
		return r, fmt.Errorf("recording: update %s: %w", id, err)
	}
	return r, nil
}

func (s *Service) setStatus(ctx context.Context, id string, st Status) (Recording, error) {
	return s.update(ctx, id, func(r *Recording) error {
		r.Status = st
		return nil
	})
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[id]; ok {
		return false
	}
	s.busy[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.busy, id)
	s.mu.Unlock()
}
