// Package wavio reads and writes the WAV files used for capture segments and
// intermediate post-processing tracks.
//
// Samples are handled as normalised float32 in memory. On disk every file is
// integer PCM: integer device streams keep their bit depth (16 or 24) and
// float streams are stored as 32-bit PCM, which preserves float32 precision
// for the [-1, 1] range.
package wavio

import (
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chandeldivyam/samwise/pkg/audio"
)

// ErrInvalidFile is returned by [Read] when the file is not a readable WAV.
var ErrInvalidFile = errors.New("wavio: not a valid wav file")

// pcmFormat is the WAVE_FORMAT_PCM format tag.
const pcmFormat = 1

// Format is the on-disk layout of a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// String returns e.g. "48000Hz/2ch/32bit".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// Audio returns the rate/channel part of f.
func (f Format) Audio() audio.Format {
	return audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// FormatOf returns the on-disk format used for a capture stream.
func FormatOf(cfg audio.StreamConfig) Format {
	depth := 16
	switch {
	case cfg.Encoding == audio.EncodingFloat || cfg.BitDepth > 24:
		depth = 32
	case cfg.BitDepth > 16:
		depth = 24
	}
	return Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, BitDepth: depth}
}

// Track is a fully decoded audio file.
type Track struct {
	Format Format

	// Samples are interleaved and normalised to [-1, 1].
	Samples []float32
}

// Frames returns the number of frames in t.
func (t Track) Frames() int {
	if t.Format.Channels <= 0 {
		return 0
	}
	return len(t.Samples) / t.Format.Channels
}

// Write encodes t to path, replacing any existing file.
func Write(path string, t Track) (err error) {
	if t.Format.SampleRate <= 0 || t.Format.Channels <= 0 {
		return fmt.Errorf("wavio: write %s: invalid format %s", path, t.Format)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavio: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wavio: close %s: %w", path, cerr)
		}
	}()

	enc := wav.NewEncoder(f, t.Format.SampleRate, t.Format.BitDepth, t.Format.Channels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: t.Format.Channels, SampleRate: t.Format.SampleRate},
		Data:           toInts(t.Samples, t.Format.BitDepth),
		SourceBitDepth: t.Format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavio: finalize %s: %w", path, err)
	}
	return nil
}

// Read decodes the WAV file at path.
func Read(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, fmt.Errorf("wavio: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Track{}, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Track{}, fmt.Errorf("wavio: read %s: %w", path, err)
	}
	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return Track{Format: format, Samples: toFloats(buf.Data, format.BitDepth)}, nil
}

// ReadFormat returns the format of the WAV file at path without decoding
// its samples.
func ReadFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("wavio: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Format{}, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	return Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}, nil
}

func fullScale(bitDepth int) float64 {
	return math.Exp2(float64(bitDepth - 1))
}

func toInts(samples []float32, bitDepth int) []int {
	scale := fullScale(bitDepth)
	hi, lo := scale-1, -scale
	out := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * scale)
		if v > hi {
			v = hi
		} else if v < lo {
			v = lo
		}
		out[i] = int(v)
	}
	return out
}

func toFloats(data []int, bitDepth int) []float32 {
	scale := fullScale(bitDepth)
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(float64(v) / scale)
	}
	return out
}
