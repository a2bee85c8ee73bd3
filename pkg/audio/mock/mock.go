// Package mock provides in-memory mock implementations of the [audio.Host]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	host := mock.NewHost(
//	    audio.Device{Name: "mic", Config: cfg},
//	    audio.Device{Name: "monitor", Config: cfg},
//	)
//	host.SetOpenFailures(audio.Input, 2)
//	rec, err := capture.New(host, writer, proc, capture.WithRetry(3, time.Second))
//	// ...
//	err = rec.Start(ctx, "rec-1")
//	host.Stream(audio.Input).Emit(samples)
package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chandeldivyam/samwise/pkg/audio"
)

// ErrOpenFailed is returned by [Host.OpenStream] while scripted failures
// remain.
var ErrOpenFailed = errors.New("mock: open stream failed")

// ─── Host ─────────────────────────────────────────────────────────────────────

// OpenCall records a single [Host.OpenStream] invocation.
type OpenCall struct {
	Device    audio.Device
	Direction audio.Direction
}

// Host is a mock implementation of [audio.Host].
type Host struct {
	mu sync.Mutex

	devices      map[audio.Direction]audio.Device
	openFailures map[audio.Direction]int
	streams      map[audio.Direction]*Stream

	// DefaultDeviceError, when set, is returned by DefaultDevice for every
	// direction.
	DefaultDeviceError error

	// CallCountDefaultDevice records how many times DefaultDevice was called.
	CallCountDefaultDevice int

	// OpenCalls records every OpenStream invocation, including failed ones.
	OpenCalls []OpenCall
}

var _ audio.Host = (*Host)(nil)

// NewHost returns a Host whose default input and output devices are in and
// out. A device with an empty Name is treated as missing.
func NewHost(in, out audio.Device) *Host {
	h := &Host{
		devices:      make(map[audio.Direction]audio.Device),
		openFailures: make(map[audio.Direction]int),
		streams:      make(map[audio.Direction]*Stream),
	}
	h.SetDefault(audio.Input, in)
	h.SetDefault(audio.Output, out)
	return h
}

// SetDefault replaces the default device for dir, simulating an OS-level
// default-device change.
func (h *Host) SetDefault(dir audio.Direction, dev audio.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dev.Name == "" {
		delete(h.devices, dir)
		return
	}
	if dev.ID == "" {
		dev.ID = dev.Name
	}
	h.devices[dir] = dev
}

// SetOpenFailures makes the next n OpenStream calls for dir fail with
// [ErrOpenFailed].
func (h *Host) SetOpenFailures(dir audio.Direction, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openFailures[dir] = n
}

// Stream returns the most recently opened stream for dir, or nil.
func (h *Host) Stream(dir audio.Direction) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[dir]
}

// OpenCount returns the number of OpenStream calls for dir.
func (h *Host) OpenCount(dir audio.Direction) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.OpenCalls {
		if c.Direction == dir {
			n++
		}
	}
	return n
}

// DefaultDevice implements [audio.Host].
func (h *Host) DefaultDevice(dir audio.Direction) (audio.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountDefaultDevice++
	if h.DefaultDeviceError != nil {
		return audio.Device{}, h.DefaultDeviceError
	}
	dev, ok := h.devices[dir]
	if !ok {
		return audio.Device{}, audio.ErrDeviceNotFound
	}
	return dev, nil
}

// OpenStream implements [audio.Host]. The returned stream is paused.
func (h *Host) OpenStream(dev audio.Device, dir audio.Direction, onData audio.DataFunc, onError audio.ErrorFunc) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.OpenCalls = append(h.OpenCalls, OpenCall{Device: dev, Direction: dir})
	if h.openFailures[dir] > 0 {
		h.openFailures[dir]--
		return nil, ErrOpenFailed
	}
	s := &Stream{Device: dev, onData: onData, onError: onError}
	h.streams[dir] = s
	return s, nil
}

// ─── RefreshingHost ───────────────────────────────────────────────────────────

// RefreshingHost is a [Host] that also implements [audio.DeviceRefresher].
// Defaults staged with [RefreshingHost.StageDefault] become visible only
// after a successful RefreshDevices, like a backend that snapshots its
// device list.
type RefreshingHost struct {
	*Host

	mu        sync.Mutex
	staged    map[audio.Direction]audio.Device
	refreshes int
}

var _ audio.DeviceRefresher = (*RefreshingHost)(nil)

// NewRefreshingHost returns a RefreshingHost with the given defaults.
func NewRefreshingHost(in, out audio.Device) *RefreshingHost {
	return &RefreshingHost{
		Host:   NewHost(in, out),
		staged: make(map[audio.Direction]audio.Device),
	}
}

// StageDefault records dev as the platform default for dir without making
// it visible until the next refresh.
func (h *RefreshingHost) StageDefault(dir audio.Direction, dev audio.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged[dir] = dev
}

// Refreshes returns the number of successful RefreshDevices calls.
func (h *RefreshingHost) Refreshes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshes
}

// RefreshDevices implements [audio.DeviceRefresher]. It fails with
// [audio.ErrStreamsOpen] while the latest stream of either direction is
// still open.
func (h *RefreshingHost) RefreshDevices() error {
	for _, dir := range audio.Directions {
		if st := h.Stream(dir); st != nil && !st.Closed() {
			return fmt.Errorf("mock: refresh devices: %w (%s)", audio.ErrStreamsOpen, dir)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for dir, dev := range h.staged {
		h.SetDefault(dir, dev)
	}
	clear(h.staged)
	h.refreshes++
	return nil
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests drive it with
// [Stream.Emit] and [Stream.Fail].
type Stream struct {
	mu sync.Mutex

	// Device is the device the stream was opened on.
	Device audio.Device

	onData  audio.DataFunc
	onError audio.ErrorFunc
	playing bool
	closed  bool

	// PlayError is returned by Play.
	PlayError error

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Stream = (*Stream)(nil)

// Play implements [audio.Stream].
func (s *Stream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPlay++
	if s.PlayError != nil {
		return s.PlayError
	}
	s.playing = true
	return nil
}

// Pause implements [audio.Stream].
func (s *Stream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPause++
	s.playing = false
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.playing = false
	s.closed = true
	return nil
}

// Playing reports whether the stream currently delivers callbacks.
func (s *Stream) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit delivers samples to the data callback if the stream is playing and
// reports whether it did.
func (s *Stream) Emit(samples []float32) bool {
	s.mu.Lock()
	cb, ok := s.onData, s.playing
	s.mu.Unlock()
	if !ok || cb == nil {
		return false
	}
	cb(samples)
	return true
}

// Fail delivers err to the error callback, simulating a device failure.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	cb := s.onError
	s.playing = false
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
