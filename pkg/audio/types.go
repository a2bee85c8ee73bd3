package audio

import (
	"fmt"
	"math"
	"time"
)

// DefaultBufferFrames is the nominal callback size assumed when a device does
// not report a fixed buffer size.
const DefaultBufferFrames = 1024

// Direction identifies one capture side of a recording session.
type Direction int

const (
	// Input is the microphone-class capture side.
	Input Direction = iota

	// Output is the system-output (loopback) capture side.
	Output
)

// Directions lists both capture sides in a stable order.
var Directions = [...]Direction{Input, Output}

// String returns the file-name prefix used for the direction ("mic" or
// "speaker").
func (d Direction) String() string {
	switch d {
	case Input:
		return "mic"
	case Output:
		return "speaker"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// SampleEncoding describes how the device represents a single sample.
type SampleEncoding int

const (
	// EncodingInt is signed integer PCM.
	EncodingInt SampleEncoding = iota

	// EncodingFloat is IEEE 754 floating point PCM.
	EncodingFloat
)

// String returns "int" or "float".
func (e SampleEncoding) String() string {
	if e == EncodingFloat {
		return "float"
	}
	return "int"
}

// StreamConfig is the negotiated format of one device stream. It is captured
// once when a stream is opened and does not change for that stream's lifetime.
type StreamConfig struct {
	// Channels is the number of interleaved channels per frame.
	Channels int

	// SampleRate in Hz.
	SampleRate int

	// BitDepth is the number of bits per sample (16, 24, 32).
	BitDepth int

	// Encoding is integer or float PCM.
	Encoding SampleEncoding

	// BufferFrames is the nominal number of frames delivered per device
	// callback. Zero means unknown; see [StreamConfig.Frames].
	BufferFrames int
}

// Frames returns BufferFrames, or [DefaultBufferFrames] when it is unknown.
func (c StreamConfig) Frames() int {
	if c.BufferFrames <= 0 {
		return DefaultBufferFrames
	}
	return c.BufferFrames
}

// PacketSeconds returns the expected duration of a single packet in seconds:
// Frames() / SampleRate. Returns 0 for a zero sample rate.
func (c StreamConfig) PacketSeconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// PacketDuration returns [StreamConfig.PacketSeconds] as a time.Duration.
func (c StreamConfig) PacketDuration() time.Duration {
	return time.Duration(c.PacketSeconds() * float64(time.Second))
}

// SilenceFrames converts the duration of missing packets into a frame count
// at the stream's sample rate.
func (c StreamConfig) SilenceFrames(missing uint64) int {
	return int(math.Round(float64(missing) * c.PacketSeconds() * float64(c.SampleRate)))
}

// Format returns the rate/channel layout of the stream.
func (c StreamConfig) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// String renders the config for logs, e.g. "48000Hz/2ch/float32/1024".
func (c StreamConfig) String() string {
	return fmt.Sprintf("%dHz/%dch/%s%d/%d", c.SampleRate, c.Channels, c.Encoding, c.BitDepth, c.Frames())
}

// Packet is one device callback worth of captured audio.
type Packet struct {
	// Seq is assigned per stream, starting at 0 and strictly increasing.
	Seq uint64

	// Timestamp is the elapsed time since the capture session started.
	Timestamp time.Duration

	// Samples are interleaved amplitudes normalised to [-1, 1].
	Samples []float32
}

// Device is a platform audio device resolved for one direction.
type Device struct {
	// ID is a platform-specific handle. It is only meaningful to the [Host]
	// that returned it.
	ID string

	// Name is the human-readable device name. It is the identity used to
	// detect default-device changes.
	Name string

	// Config is the format the device will be opened with.
	Config StreamConfig
}
