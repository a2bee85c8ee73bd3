package postprocess

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/braheezy/shine-mp3/pkg/mp3"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/chandeldivyam/samwise/internal/wavio"
	"github.com/chandeldivyam/samwise/pkg/audio"
)

// Encoder compresses a mixed track into the final distributable format.
// Encoders always produce stereo output.
type Encoder interface {
	// Name identifies the encoder in config and logs ("mp3", "opus").
	Name() string

	// Ext is the output file extension without the dot.
	Ext() string

	// Encode writes t to w.
	Encode(w io.Writer, t wavio.Track) error
}

// NewEncoder returns the encoder registered under name. An empty name
// selects mp3.
func NewEncoder(name string) (Encoder, error) {
	switch name {
	case "", "mp3":
		return MP3Encoder{}, nil
	case "opus":
		return OpusEncoder{}, nil
	default:
		return nil, fmt.Errorf("postprocess: unknown encoder %q", name)
	}
}

// fileEncoder is implemented by encoders whose container needs to seek back
// into the output, which a plain [io.Writer] does not allow.
type fileEncoder interface {
	encodeFile(path string, t wavio.Track) error
}

// EncodeFile encodes t with enc into path. A failed encode leaves no file
// behind.
func EncodeFile(enc Encoder, t wavio.Track, path string) (err error) {
	if fe, ok := enc.(fileEncoder); ok {
		if err := fe.encodeFile(path, t); err != nil {
			_ = os.Remove(path)
			return fmt.Errorf("postprocess: encode %s: %w", enc.Name(), err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("postprocess: encode: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("postprocess: encode: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := enc.Encode(bw, t); err != nil {
		return fmt.Errorf("postprocess: encode %s: %w", enc.Name(), err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("postprocess: encode: %w", err)
	}
	return nil
}

// toStereo lays samples out as interleaved L/R pairs: mono is duplicated to
// both channels and anything wider keeps its first two channels.
func toStereo(samples []float32, channels int) []float32 {
	if channels == 2 {
		return samples
	}
	return audio.Remix(samples, channels, 2)
}

// ─── MP3 ──────────────────────────────────────────────────────────────────────

// mp3Rates are the MPEG-1 layer III sample rates.
var mp3Rates = []int{32000, 44100, 48000}

const mp3FallbackRate = 44100

// MP3Encoder encodes constant-bitrate stereo MP3.
type MP3Encoder struct{}

var _ Encoder = MP3Encoder{}

func (MP3Encoder) Name() string { return "mp3" }
func (MP3Encoder) Ext() string  { return "mp3" }

// Encode implements [Encoder]. Tracks at a rate other than 32, 44.1 or
// 48 kHz are resampled to 44.1 kHz.
func (MP3Encoder) Encode(w io.Writer, t wavio.Track) error {
	if err := checkFormat(t.Format); err != nil {
		return err
	}
	rate := t.Format.SampleRate
	samples := toStereo(t.Samples, t.Format.Channels)
	if !slices.Contains(mp3Rates, rate) {
		samples = audio.Resample(samples, 2, rate, mp3FallbackRate)
		rate = mp3FallbackRate
	}

	enc := mp3.NewEncoder(rate, 2)
	return enc.Write(w, audio.FloatToInt16(samples))
}

// ─── Opus ─────────────────────────────────────────────────────────────────────

const (
	opusRate        = 48000
	opusFrameSize   = 960 // 20 ms at 48 kHz
	opusBitrate     = 96000
	opusMaxPacket   = 4000
	opusPayloadType = 111
)

// OpusEncoder encodes 48 kHz stereo Opus in an Ogg container.
type OpusEncoder struct{}

var (
	_ Encoder     = OpusEncoder{}
	_ fileEncoder = OpusEncoder{}
)

func (OpusEncoder) Name() string { return "opus" }
func (OpusEncoder) Ext() string  { return "ogg" }

// Encode implements [Encoder]. The track is resampled to 48 kHz and the last
// partial frame is padded with silence. An Ogg stream written to a plain
// writer ends without the end-of-stream flag on its last page; [EncodeFile]
// writes a complete stream.
func (OpusEncoder) Encode(w io.Writer, t wavio.Track) error {
	if err := checkFormat(t.Format); err != nil {
		return err
	}
	ogg, err := oggwriter.NewWith(w, opusRate, 2)
	if err != nil {
		return fmt.Errorf("create ogg writer: %w", err)
	}
	return writeOpus(ogg, t)
}

// encodeFile lets the Ogg writer own path so that Close can mark the last
// page end-of-stream.
func (OpusEncoder) encodeFile(path string, t wavio.Track) error {
	if err := checkFormat(t.Format); err != nil {
		return err
	}
	ogg, err := oggwriter.New(path, opusRate, 2)
	if err != nil {
		return fmt.Errorf("create ogg writer: %w", err)
	}
	if ogg == nil {
		// New swallows header write errors after closing the file.
		return fmt.Errorf("create ogg writer: write headers to %s", path)
	}
	return writeOpus(ogg, t)
}

func checkFormat(f wavio.Format) error {
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return fmt.Errorf("invalid format %s", f)
	}
	return nil
}

// writeOpus encodes t into ogg as 20 ms packets and closes ogg.
func writeOpus(ogg *oggwriter.OggWriter, t wavio.Track) error {
	samples := toStereo(t.Samples, t.Format.Channels)
	samples = audio.Resample(samples, 2, t.Format.SampleRate, opusRate)
	pcm := audio.FloatToInt16(samples)

	enc, err := gopus.NewEncoder(opusRate, 2, gopus.Audio)
	if err != nil {
		return errors.Join(fmt.Errorf("create opus encoder: %w", err), ogg.Close())
	}
	enc.SetBitrate(opusBitrate)

	const frameSamples = opusFrameSize * 2
	var (
		seq uint16
		ts  uint32
	)
	for off := 0; off < len(pcm); off += frameSamples {
		frame := pcm[off:min(off+frameSamples, len(pcm))]
		if len(frame) < frameSamples {
			frame = append(slices.Clone(frame), make([]int16, frameSamples-len(frame))...)
		}
		data, err := enc.Encode(frame, opusFrameSize, opusMaxPacket)
		if err != nil {
			return errors.Join(fmt.Errorf("encode opus frame: %w", err), ogg.Close())
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: data,
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			return errors.Join(fmt.Errorf("write ogg page: %w", err), ogg.Close())
		}
		seq++
		ts += opusFrameSize
	}
	return ogg.Close()
}
