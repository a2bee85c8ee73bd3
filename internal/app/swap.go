package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chandeldivyam/samwise/internal/recording"
	"github.com/chandeldivyam/samwise/internal/textgen"
	"github.com/chandeldivyam/samwise/internal/transcribe"
)

// transcriberSlot is a hot-swappable transcriber. The recording service
// holds the slot; config reloads replace what is inside.
type transcriberSlot struct {
	p       atomic.Pointer[transcribe.Transcriber]
	timeout atomic.Int64
}

var _ transcribe.Transcriber = (*transcriberSlot)(nil)

func (s *transcriberSlot) set(t transcribe.Transcriber) {
	if t == nil {
		s.p.Store(nil)
		return
	}
	s.p.Store(&t)
}

// Transcribe forwards to the current backend, bounded by the configured
// timeout.
func (s *transcriberSlot) Transcribe(ctx context.Context, path string) (string, error) {
	t := s.p.Load()
	if t == nil {
		return "", recording.ErrNoTranscriber
	}
	if d := time.Duration(s.timeout.Load()); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return (*t).Transcribe(ctx, path)
}

// generatorSlot is the text generation counterpart of transcriberSlot.
type generatorSlot struct {
	p atomic.Pointer[textgen.Generator]
}

var _ textgen.Generator = (*generatorSlot)(nil)

func (s *generatorSlot) set(g textgen.Generator) {
	if g == nil {
		s.p.Store(nil)
		return
	}
	s.p.Store(&g)
}

func (s *generatorSlot) Generate(ctx context.Context, messages []textgen.Message) (string, error) {
	g := s.p.Load()
	if g == nil {
		return "", recording.ErrNoGenerator
	}
	return (*g).Generate(ctx, messages)
}
