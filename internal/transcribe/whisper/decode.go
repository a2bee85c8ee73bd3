package whisper

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"layeh.com/gopus"

	"github.com/chandeldivyam/samwise/internal/wavio"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// SampleRate is the rate whisper.cpp models are trained on.
const SampleRate = 16000

// ErrUnsupportedFormat is returned for files that cannot be decoded.
var ErrUnsupportedFormat = errors.New("whisper: unsupported audio format")

const (
	opusRate         = 48000
	opusChannels     = 2
	opusMaxFrameSize = 5760 // 120 ms at 48 kHz
)

// LoadMono16k decodes path (mp3, ogg/opus or wav) and returns mono float32
// samples at [SampleRate].
func LoadMono16k(path string) ([]float32, error) {
	var (
		samples []float32
		format  audio.Format
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		samples, format, err = decodeMP3(path)
	case ".ogg", ".opus":
		samples, format, err = decodeOpus(path)
	case ".wav":
		var t wavio.Track
		t, err = wavio.Read(path)
		samples, format = t.Samples, t.Format.Audio()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("whisper: decode %s: %w", path, err)
	}

	samples = audio.DownmixMono(samples, format.Channels)
	return audio.Resample(samples, 1, format.SampleRate, SampleRate), nil
}

// decodeMP3 reads an MP3 file. go-mp3 always yields 16-bit stereo.
func decodeMP3(path string) ([]float32, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, audio.Format{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, audio.Format{}, err
	}
	return pcmToFloat32(raw), audio.Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// decodeOpus reads an Ogg Opus file holding one packet per page, the layout
// the recorder's opus encoder produces.
func decodeOpus(path string) ([]float32, audio.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, audio.Format{}, err
	}
	r, _, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return nil, audio.Format{}, err
	}
	dec, err := gopus.NewDecoder(opusRate, opusChannels)
	if err != nil {
		return nil, audio.Format{}, err
	}

	var pcm []int16
	for {
		payload, _, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, audio.Format{}, err
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) || len(payload) == 0 {
			continue
		}
		frame, err := dec.Decode(payload, opusMaxFrameSize, false)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("decode opus packet: %w", err)
		}
		pcm = append(pcm, frame...)
	}
	return audio.Int16ToFloat(pcm), audio.Format{SampleRate: opusRate, Channels: opusChannels}, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
