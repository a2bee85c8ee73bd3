// Package audio defines the types and host abstraction used to capture two
// live audio streams (microphone and system output) in samwise.
//
// The two primary abstractions are:
//
//   - [Host] resolves the current default device per [Direction] and opens
//     callback-driven capture streams on it.
//   - [Stream] is a live capture stream that can be paused, resumed and closed.
//
// Implementations are provided by platform-specific packages (e.g.
// audio/portaudio). Tests use audio/mock.
package audio

import (
	"errors"
	"fmt"
)

// ErrDeviceNotFound is returned when the platform reports no default device
// for a direction.
var ErrDeviceNotFound = errors.New("audio: no default device")

// ErrStreamsOpen is returned by [DeviceRefresher.RefreshDevices] while
// streams are still open.
var ErrStreamsOpen = errors.New("audio: streams still open")

// DataFunc receives interleaved samples from a device callback. The slice is
// owned by the caller of the callback and may be reused after it returns.
type DataFunc func(samples []float32)

// ErrorFunc receives asynchronous stream errors (device removed, stall).
type ErrorFunc func(err error)

// Stream is a live device capture stream.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Play starts or resumes delivering callbacks.
	Play() error

	// Pause stops delivering callbacks without releasing the device.
	Pause() error

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

// Host is the platform audio subsystem.
//
// DefaultDevice must re-query the platform on every call and never cache
// device handles, so that OS-level default changes are observed.
type Host interface {
	// DefaultDevice returns the current default device for dir together with
	// its negotiated [StreamConfig]. Returns an error wrapping
	// [ErrDeviceNotFound] when there is none.
	DefaultDevice(dir Direction) (Device, error)

	// OpenStream opens a capture stream on dev. The stream is created paused;
	// call [Stream.Play] to start callbacks. onData may be invoked on a
	// real-time thread and must not block.
	OpenStream(dev Device, dir Direction, onData DataFunc, onError ErrorFunc) (Stream, error)
}

// DeviceRefresher is implemented by hosts whose device list is a snapshot
// that only updates on an explicit refresh. RefreshDevices re-enumerates the
// platform devices. It fails with [ErrStreamsOpen] while any stream opened by
// the host is still open.
type DeviceRefresher interface {
	RefreshDevices() error
}

// ResolveDefault returns the current default device for dir.
func ResolveDefault(h Host, dir Direction) (Device, error) {
	dev, err := h.DefaultDevice(dir)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return Device{}, err
		}
		return Device{}, fmt.Errorf("audio: resolve %s device: %w", dir, err)
	}
	if dev.Config.SampleRate <= 0 || dev.Config.Channels <= 0 {
		return Device{}, fmt.Errorf("audio: resolve %s device %q: invalid config %s", dir, dev.Name, dev.Config)
	}
	if dev.Config.BufferFrames <= 0 {
		dev.Config.BufferFrames = DefaultBufferFrames
	}
	return dev, nil
}
