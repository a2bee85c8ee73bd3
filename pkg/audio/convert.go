package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio track.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter converts interleaved float samples to a target format. It
// logs a warning on the first format mismatch.
// Create one per track; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts samples in format from to the target format. If the
// source format already matches the target, samples is returned unchanged.
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(samples []float32, from Format) []float32 {
	if from == c.Target {
		return samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", from.String(),
			"to", c.Target.String(),
		)
	})

	out := samples
	if from.SampleRate != c.Target.SampleRate {
		out = Resample(out, from.Channels, from.SampleRate, c.Target.SampleRate)
	}
	if from.Channels != c.Target.Channels {
		out = Remix(out, from.Channels, c.Target.Channels)
	}
	return out
}

// Remix changes the channel count of interleaved samples. Mono is duplicated
// into every output channel; multi-channel to mono averages all channels;
// any other combination keeps the first min(src, dst) channels and pads the
// rest with silence.
func Remix(samples []float32, srcChannels, dstChannels int) []float32 {
	if srcChannels <= 0 || dstChannels <= 0 || srcChannels == dstChannels {
		return samples
	}
	switch {
	case srcChannels == 1 && dstChannels == 2:
		return MonoToStereo(samples)
	case dstChannels == 1:
		return DownmixMono(samples, srcChannels)
	}

	frames := len(samples) / srcChannels
	out := make([]float32, frames*dstChannels)
	for i := range frames {
		for ch := range dstChannels {
			switch {
			case srcChannels == 1:
				out[i*dstChannels+ch] = samples[i]
			case ch < srcChannels:
				out[i*dstChannels+ch] = samples[i*srcChannels+ch]
			}
		}
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(samples []float32) []float32 {
	out := make([]float32, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages L+R per stereo frame.
func StereoToMono(samples []float32) []float32 {
	return DownmixMono(samples, 2)
}

// DownmixMono averages all channels of each interleaved frame.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// SplitStereo separates interleaved stereo samples into left and right
// channels by alternating samples. A trailing odd sample goes to left only.
func SplitStereo(samples []float32) (left, right []float32) {
	left = make([]float32, 0, (len(samples)+1)/2)
	right = make([]float32, 0, len(samples)/2)
	for i, s := range samples {
		if i%2 == 0 {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

// Interleave is the inverse of [SplitStereo]. The shorter channel is padded
// with silence.
func Interleave(left, right []float32) []float32 {
	n := max(len(left), len(right))
	out := make([]float32, n*2)
	for i := range n {
		if i < len(left) {
			out[i*2] = left[i]
		}
		if i < len(right) {
			out[i*2+1] = right[i]
		}
	}
	return out
}

// Resample resamples interleaved samples from srcRate to dstRate using linear
// interpolation per channel. If srcRate == dstRate, the input is returned
// unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// FloatToInt16 converts normalised samples to 16-bit PCM, clamping to the
// int16 range.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(clamp(float64(s)*32767, math.MinInt16, math.MaxInt16))
	}
	return out
}

// Int16ToFloat converts 16-bit PCM to normalised samples in [-1, 1).
func Int16ToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
