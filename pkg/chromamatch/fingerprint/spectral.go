package fingerprint

import (
	"errors"
	"fmt"
	"io"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

var ErrSampleRate = errors.New("sample rate mismatch")

// SampleSource is a pull-based stream of mono samples in [-1, 1].
type SampleSource interface {
	// ReadSamples fills dst and returns the number of samples written. It
	// returns io.EOF once the stream is exhausted.
	ReadSamples(dst []float64) (int, error)
	SampleRate() int
	// Length is the total number of samples, or -1 when unknown.
	Length() int64
	Close() error
}

// SpectrumSource yields one power spectrum per analysis window.
type SpectrumSource interface {
	// ReadFrame fills dst (FrameSize values) with the next spectrum.
	ReadFrame(dst []float64) error
	FrameSize() int
	WindowSize() int
	SampleRate() int
	// WindowCount estimates the number of frames, -1 when unknown.
	WindowCount() int
	Close() error
}

func windowCoefficients(t WindowType, n int) ([]float64, error) {
	switch t {
	case WindowRectangular:
		return window.Rectangular(n), nil
	case WindowHamming:
		return window.Hamming(n), nil
	case WindowHann:
		return window.Hann(n), nil
	case WindowBlackman:
		return window.Blackman(n), nil
	case WindowBartlett:
		return window.Bartlett(n), nil
	}
	return nil, fmt.Errorf("unknown window type %v", t)
}

// STFT turns a sample stream into squared-magnitude spectra using a sliding
// window of windowSize samples advanced by hopSize.
type STFT struct {
	src        SampleSource
	windowSize int
	hopSize    int
	coeffs     []float64
	buf        []float64 // current window, unweighted
	frame      []float64 // scratch for the weighted window
	primed     bool
	done       bool
}

func NewSTFT(src SampleSource, windowSize, hopSize int, wt WindowType) (*STFT, error) {
	if windowSize < 2 || hopSize < 1 {
		return nil, fmt.Errorf("stft: invalid window %d / hop %d", windowSize, hopSize)
	}
	coeffs, err := windowCoefficients(wt, windowSize)
	if err != nil {
		return nil, fmt.Errorf("stft: %w", err)
	}
	return &STFT{
		src:        src,
		windowSize: windowSize,
		hopSize:    hopSize,
		coeffs:     coeffs,
		buf:        make([]float64, windowSize),
		frame:      make([]float64, windowSize),
	}, nil
}

func (s *STFT) FrameSize() int  { return s.windowSize / 2 }
func (s *STFT) WindowSize() int { return s.windowSize }
func (s *STFT) SampleRate() int { return s.src.SampleRate() }
func (s *STFT) Close() error    { return s.src.Close() }

func (s *STFT) WindowCount() int {
	n := s.src.Length()
	if n < 0 {
		return -1
	}
	if n < int64(s.windowSize) {
		return 0
	}
	return int((n-int64(s.windowSize))/int64(s.hopSize)) + 1
}

// readFull reads exactly len(dst) samples unless the stream ends first.
func (s *STFT) readFull(dst []float64) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := s.src.ReadSamples(dst[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}

// advance moves the window forward, returning io.EOF when no complete
// window is left.
func (s *STFT) advance() error {
	if s.done {
		return io.EOF
	}
	if !s.primed {
		n, err := s.readFull(s.buf)
		if n < s.windowSize {
			s.done = true
			if err == nil || errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		s.primed = true
		return nil
	}

	if s.hopSize < s.windowSize {
		copy(s.buf, s.buf[s.hopSize:])
		tail := s.buf[s.windowSize-s.hopSize:]
		n, err := s.readFull(tail)
		if n < len(tail) {
			s.done = true
			if err == nil || errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		return nil
	}

	// Hops longer than the window skip samples between windows.
	skip := make([]float64, s.hopSize-s.windowSize)
	if n, err := s.readFull(skip); n < len(skip) {
		s.done = true
		if err == nil || errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	s.primed = false
	return s.advance()
}

// ReadFrame fills dst with |X(k)|² for k in [0, WindowSize/2).
func (s *STFT) ReadFrame(dst []float64) error {
	if len(dst) != s.FrameSize() {
		return fmt.Errorf("%w: spectrum frame needs %d values, got %d", ErrFrameSize, s.FrameSize(), len(dst))
	}
	if err := s.advance(); err != nil {
		return err
	}
	for i, v := range s.buf {
		s.frame[i] = v * s.coeffs[i]
	}
	spectrum := fft.FFTReal(s.frame)
	for i := range dst {
		c := spectrum[i]
		dst[i] = real(c)*real(c) + imag(c)*imag(c)
	}
	return nil
}
