// Package portaudio implements [audio.Host] on top of PortAudio via
// github.com/gordonklaus/portaudio.
//
// The microphone side resolves to PortAudio's default input device. PortAudio
// has no native loopback capture, so the system-output side resolves to an
// input-capable device that exposes the output mix: either a device named
// explicitly with [WithLoopbackDevice] or the first device whose name looks
// like a monitor source (PulseAudio "Monitor of …", BlackHole, Stereo Mix).
//
// All streams deliver float32 samples, so every resolved [audio.StreamConfig]
// uses [audio.EncodingFloat] with a bit depth of 32.
//
// PortAudio enumerates devices and defaults once, at initialisation. The Host
// therefore implements [audio.DeviceRefresher]: RefreshDevices re-initialises
// PortAudio to pick up plugged, unplugged or re-defaulted devices, and is only
// possible while no stream opened by the Host is open.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/chandeldivyam/samwise/pkg/audio"
)

// ErrStreamStalled is reported through the stream's error callback when a
// playing stream delivers no callbacks for longer than the stall timeout.
var ErrStreamStalled = errors.New("portaudio: stream stalled")

const (
	defaultStallTimeout = 3 * time.Second
	maxChannels         = 2
)

// loopbackHints are lower-case name fragments of devices known to expose the
// system output mix as a capture source.
var loopbackHints = []string{"monitor", "loopback", "blackhole", "stereo mix", "what u hear"}

// Option is a functional option for configuring a Host.
type Option func(*Host)

// WithLoopbackDevice pins the system-output side to the input device with
// the given name.
func WithLoopbackDevice(name string) Option {
	return func(h *Host) { h.loopbackName = name }
}

// WithBufferFrames sets the frames-per-buffer requested from PortAudio.
// Defaults to [audio.DefaultBufferFrames].
func WithBufferFrames(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.bufferFrames = n
		}
	}
}

// WithStallTimeout sets how long a playing stream may go without callbacks
// before it is reported dead. Zero disables the watchdog.
func WithStallTimeout(d time.Duration) Option {
	return func(h *Host) { h.stallTimeout = d }
}

// Host implements [audio.Host] using PortAudio. Create it with [New] and
// release it with [Host.Close].
type Host struct {
	loopbackName string
	bufferFrames int
	stallTimeout time.Duration

	// mu serialises device queries and stream opens with RefreshDevices.
	mu     sync.Mutex
	open   int
	reinit func() error
}

var (
	_ audio.Host            = (*Host)(nil)
	_ audio.DeviceRefresher = (*Host)(nil)
)

// New initialises PortAudio and returns a Host.
func New(opts ...Option) (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	h := &Host{
		bufferFrames: audio.DefaultBufferFrames,
		stallTimeout: defaultStallTimeout,
		reinit:       reinitialize,
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// RefreshDevices implements [audio.DeviceRefresher] by terminating and
// re-initialising PortAudio. It fails with [audio.ErrStreamsOpen] while a
// stream opened by h has not been closed.
func (h *Host) RefreshDevices() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open > 0 {
		return fmt.Errorf("portaudio: refresh devices: %w (%d)", audio.ErrStreamsOpen, h.open)
	}
	if err := h.reinit(); err != nil {
		return fmt.Errorf("portaudio: refresh devices: %w", err)
	}
	return nil
}

func reinitialize() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// release records that one stream opened by h was closed.
func (h *Host) release() {
	h.mu.Lock()
	h.open--
	h.mu.Unlock()
}

// DefaultDevice implements [audio.Host]. It queries PortAudio's device
// snapshot, which is current as of the last [Host.RefreshDevices].
func (h *Host) DefaultDevice(dir audio.Direction) (audio.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info, err := h.lookup(dir)
	if err != nil {
		return audio.Device{}, err
	}
	return h.toDevice(info), nil
}

// Devices lists every input-capable device PortAudio reports.
func (h *Host) Devices() ([]audio.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var out []audio.Device
	for _, info := range infos {
		if info.MaxInputChannels > 0 {
			out = append(out, h.toDevice(info))
		}
	}
	return out, nil
}

func (h *Host) lookup(dir audio.Direction) (*pa.DeviceInfo, error) {
	if dir == audio.Input {
		info, err := pa.DefaultInputDevice()
		if err != nil || info == nil || info.MaxInputChannels == 0 {
			return nil, fmt.Errorf("%w: %s", audio.ErrDeviceNotFound, dir)
		}
		return info, nil
	}

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if info := pickLoopback(infos, h.loopbackName); info != nil {
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s", audio.ErrDeviceNotFound, dir)
}

// pickLoopback returns the device named name, or the first input-capable
// device matching a loopback hint when name is empty.
func pickLoopback(infos []*pa.DeviceInfo, name string) *pa.DeviceInfo {
	for _, info := range infos {
		if info.MaxInputChannels == 0 {
			continue
		}
		if name != "" {
			if info.Name == name {
				return info
			}
			continue
		}
		if isLoopbackName(info.Name) {
			return info
		}
	}
	return nil
}

func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range loopbackHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func (h *Host) toDevice(info *pa.DeviceInfo) audio.Device {
	return audio.Device{
		ID:   info.Name,
		Name: info.Name,
		Config: audio.StreamConfig{
			Channels:     min(info.MaxInputChannels, maxChannels),
			SampleRate:   int(info.DefaultSampleRate),
			BitDepth:     32,
			Encoding:     audio.EncodingFloat,
			BufferFrames: h.bufferFrames,
		},
	}
}

// OpenStream implements [audio.Host]. The device is looked up by name again
// so a stale [audio.Device] from before a device change fails cleanly.
func (h *Host) OpenStream(dev audio.Device, dir audio.Direction, onData audio.DataFunc, onError audio.ErrorFunc) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var info *pa.DeviceInfo
	for _, candidate := range infos {
		if candidate.Name == dev.Name && candidate.MaxInputChannels > 0 {
			info = candidate
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s device %q disappeared", audio.ErrDeviceNotFound, dir, dev.Name)
	}

	s := &stream{
		dir:          dir,
		onError:      onError,
		stallTimeout: h.stallTimeout,
		release:      h.release,
	}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: dev.Config.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(dev.Config.SampleRate),
		FramesPerBuffer: dev.Config.Frames(),
	}
	ps, err := pa.OpenStream(params, func(in []float32) {
		s.lastCallback.Store(time.Now().UnixNano())
		onData(in)
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %s stream on %q: %w", dir, dev.Name, err)
	}
	s.ps = ps
	h.open++
	return s, nil
}

// stream adapts a PortAudio stream to [audio.Stream] and adds a stall
// watchdog, since PortAudio reports device loss only as silence.
type stream struct {
	dir          audio.Direction
	ps           *pa.Stream
	onError      audio.ErrorFunc
	stallTimeout time.Duration
	release      func()

	lastCallback atomic.Int64

	mu       sync.Mutex
	watchdog chan struct{}
	closed   bool
}

func (s *stream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("portaudio: %s stream is closed", s.dir)
	}
	if err := s.ps.Start(); err != nil {
		return fmt.Errorf("portaudio: start %s stream: %w", s.dir, err)
	}
	s.lastCallback.Store(time.Now().UnixNano())
	if s.stallTimeout > 0 && s.watchdog == nil {
		s.watchdog = make(chan struct{})
		go s.watch(s.watchdog)
	}
	return nil
}

func (s *stream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchdog()
	if s.closed {
		return nil
	}
	if err := s.ps.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop %s stream: %w", s.dir, err)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchdog()
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.release()
	if err := s.ps.Close(); err != nil {
		return fmt.Errorf("portaudio: close %s stream: %w", s.dir, err)
	}
	return nil
}

func (s *stream) stopWatchdog() {
	if s.watchdog != nil {
		close(s.watchdog)
		s.watchdog = nil
	}
}

func (s *stream) watch(done <-chan struct{}) {
	ticker := time.NewTicker(s.stallTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			last := time.Unix(0, s.lastCallback.Load())
			if now.Sub(last) < s.stallTimeout {
				continue
			}
			slog.Warn("portaudio: no callbacks, reporting stream dead",
				"direction", s.dir.String(),
				"silent_for", now.Sub(last),
			)
			if s.onError != nil {
				s.onError(ErrStreamStalled)
			}
			return
		}
	}
}
