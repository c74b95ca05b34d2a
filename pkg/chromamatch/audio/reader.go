package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
)

var (
	ErrInvalidWav  = errors.New("not a WAV/RIFF file")
	ErrUnsupported = errors.New("unsupported WAV format")
)

// WavSource streams a PCM WAV file as mono samples in [-1, 1]. Multi-channel
// files are mixed down by averaging the channels.
type WavSource struct {
	f        *os.File
	dec      *wav.Decoder
	buf      *goaudio.IntBuffer
	channels int
	rate     int
	bitDepth int
	scale    float64
	length   int64
}

var _ fingerprint.SampleSource = (*WavSource)(nil)

// OpenWav opens path and positions the decoder at the start of the PCM data.
func OpenWav(path string) (*WavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidWav)
	}
	if dec.WavAudioFormat != 1 {
		f.Close()
		return nil, fmt.Errorf("%s: %w: audio format %d, only PCM (1) supported", path, ErrUnsupported, dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("%s: %w: %d bits per sample", path, ErrUnsupported, dec.BitDepth)
	}
	if dec.NumChans == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: %w: no channels", path, ErrUnsupported)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: seeking to PCM data: %w", path, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	frameBytes := int64(channels * bitDepth / 8)
	return &WavSource{
		f:        f,
		dec:      dec,
		channels: channels,
		rate:     int(dec.SampleRate),
		bitDepth: bitDepth,
		scale:    1 / float64(int64(1)<<(bitDepth-1)),
		length:   dec.PCMLen() / frameBytes,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		},
	}, nil
}

func (s *WavSource) ReadSamples(dst []float64) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	need := len(dst) * s.channels
	if cap(s.buf.Data) < need {
		s.buf.Data = make([]int, need)
	}
	s.buf.Data = s.buf.Data[:need]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decoding PCM: %w", err)
	}
	frames := n / s.channels
	if frames == 0 {
		return 0, io.EOF
	}

	data := s.buf.Data
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < s.channels; c++ {
			v := data[i*s.channels+c]
			if s.bitDepth == 8 {
				// 8-bit PCM is unsigned
				v -= 128
			}
			sum += v
		}
		dst[i] = float64(sum) * s.scale / float64(s.channels)
	}
	return frames, nil
}

func (s *WavSource) SampleRate() int { return s.rate }
func (s *WavSource) Channels() int   { return s.channels }
func (s *WavSource) Length() int64   { return s.length }

func (s *WavSource) Duration() time.Duration {
	if s.rate == 0 {
		return 0
	}
	return time.Duration(float64(s.length) / float64(s.rate) * float64(time.Second))
}

func (s *WavSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// SliceSource serves samples held in memory.
type SliceSource struct {
	samples []float64
	rate    int
	pos     int
}

var _ fingerprint.SampleSource = (*SliceSource)(nil)

func NewSliceSource(samples []float64, sampleRate int) *SliceSource {
	return &SliceSource{samples: samples, rate: sampleRate}
}

func (s *SliceSource) ReadSamples(dst []float64) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *SliceSource) SampleRate() int { return s.rate }
func (s *SliceSource) Length() int64   { return int64(len(s.samples)) }
func (s *SliceSource) Close() error    { return nil }

// ReadAll decodes the whole of a WAV file into memory.
func ReadAll(path string) ([]float64, int, error) {
	src, err := OpenWav(path)
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	out := make([]float64, 0, max(src.Length(), 0))
	buf := make([]float64, 4096)
	for {
		n, err := src.ReadSamples(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, src.SampleRate(), nil
		}
		if err != nil {
			return nil, 0, err
		}
	}
}
