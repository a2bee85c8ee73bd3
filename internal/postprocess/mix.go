package postprocess

import (
	"errors"
	"fmt"

	"github.com/chandeldivyam/samwise/internal/wavio"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// ErrFormatMismatch is returned by [Merge] when the segments of one direction
// do not share the same sample rate, channel count and bit depth.
var ErrFormatMismatch = errors.New("postprocess: segment format mismatch")

// ErrNoInput is returned when there is nothing to merge or mix.
var ErrNoInput = errors.New("postprocess: no input")

// Merge concatenates the WAV files at paths, in order, into out and returns
// the merged track's format. Every file must have the format of the first.
func Merge(paths []string, out string) (wavio.Format, error) {
	if len(paths) == 0 {
		return wavio.Format{}, ErrNoInput
	}

	var merged wavio.Track
	for i, p := range paths {
		t, err := wavio.Read(p)
		if err != nil {
			return wavio.Format{}, fmt.Errorf("postprocess: merge: %w", err)
		}
		if i == 0 {
			merged.Format = t.Format
		} else if t.Format != merged.Format {
			return wavio.Format{}, fmt.Errorf("%w: %s is %s, want %s", ErrFormatMismatch, p, t.Format, merged.Format)
		}
		merged.Samples = append(merged.Samples, t.Samples...)
	}

	if err := wavio.Write(out, merged); err != nil {
		return wavio.Format{}, fmt.Errorf("postprocess: merge: %w", err)
	}
	return merged.Format, nil
}

// Superimpose mixes the WAV files a and b into out. b is first converted to
// a's sample rate and channel layout. Where both tracks have audio the output
// is their mean; past the end of the shorter track the longer one passes
// through unchanged, so the output is as long as the longer input.
func Superimpose(a, b, out string) error {
	ta, err := wavio.Read(a)
	if err != nil {
		return fmt.Errorf("postprocess: superimpose: %w", err)
	}
	tb, err := wavio.Read(b)
	if err != nil {
		return fmt.Errorf("postprocess: superimpose: %w", err)
	}

	mixed := wavio.Track{
		Format: wavio.Format{
			SampleRate: ta.Format.SampleRate,
			Channels:   ta.Format.Channels,
			BitDepth:   max(ta.Format.BitDepth, tb.Format.BitDepth),
		},
		Samples: Mix(ta.Samples, convertTo(tb, ta.Format.Audio())),
	}
	if err := wavio.Write(out, mixed); err != nil {
		return fmt.Errorf("postprocess: superimpose: %w", err)
	}
	return nil
}

// Mix returns the sample-wise mean of a and b. The result has the length of
// the longer input, whose tail is copied unchanged.
// The tail is deliberately not averaged against silence, which would halve it.
func Mix(a, b []float32) []float32 {
	if len(a) < len(b) {
		a, b = b, a
	}
	out := make([]float32, len(a))
	copy(out, a)
	for i, s := range b {
		out[i] = (out[i] + s) / 2
	}
	return out
}

func convertTo(t wavio.Track, target audio.Format) []float32 {
	conv := audio.FormatConverter{Target: target}
	return conv.Convert(t.Samples, t.Format.Audio())
}
