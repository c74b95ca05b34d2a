package fingerprint

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ChromaBins is the number of pitch classes per chroma frame.
const ChromaBins = 12

var ErrFrameSize = errors.New("wrong frame size")

// a0 is the reference pitch of the Chromaprint mapping.
const a0 = 440.0 / 16.0

// ChromaSource yields 12-bin chroma frames.
type ChromaSource interface {
	ReadFrame(dst []float64) error
	WindowCount() int
	Close() error
}

// ChromaExtractor folds power spectra onto the 12 pitch classes.
type ChromaExtractor struct {
	spec      SpectrumSource
	spectrum  []float64
	mapping   []int // chroma class per FFT bin, starting at minBin
	minBin    int
	counts    [ChromaBins]int
	normalize bool
}

// chromaClass returns the pitch class of frequency f under mode.
func chromaClass(f float64, mode MappingMode) int {
	switch mode {
	case MappingChromaprint:
		l := math.Log2(f / a0)
		c := l - math.Floor(l)
		return int(c*ChromaBins) % ChromaBins
	default:
		l := math.Log2(f)
		c := l - math.Floor(l)
		return int(math.Round(c*ChromaBins)) % ChromaBins
	}
}

// NewChromaExtractor maps every FFT bin whose centre frequency lies in
// [minFreq, maxFreq) to a chroma class. Bin 0 is never mapped. With
// normalize set, each class is averaged over its bins and the frame mean is
// subtracted.
func NewChromaExtractor(spec SpectrumSource, minFreq, maxFreq float64, normalize bool, mode MappingMode) (*ChromaExtractor, error) {
	if mode != MappingPaper && mode != MappingChromaprint {
		return nil, fmt.Errorf("chroma: unknown mapping mode %v", mode)
	}
	ratio := float64(spec.SampleRate()) / float64(spec.WindowSize())
	minBin := max(int(math.Floor(minFreq/ratio)), 1)
	maxBin := min(int(math.Ceil(maxFreq/ratio)), spec.FrameSize()-1)
	if maxBin <= minBin {
		return nil, fmt.Errorf("chroma: empty frequency range %.1f..%.1f Hz", minFreq, maxFreq)
	}

	c := &ChromaExtractor{
		spec:      spec,
		spectrum:  make([]float64, spec.FrameSize()),
		mapping:   make([]int, maxBin-minBin),
		minBin:    minBin,
		normalize: normalize,
	}
	for i := minBin; i < maxBin; i++ {
		class := chromaClass(float64(i)*ratio, mode)
		c.mapping[i-minBin] = class
		c.counts[class]++
	}
	return c, nil
}

// NewChromaSource builds the spectrum and chroma stages of profile p on top
// of a sample stream.
func NewChromaSource(src SampleSource, p Profile) (*ChromaExtractor, error) {
	if src.SampleRate() != p.SamplingRate {
		return nil, fmt.Errorf("%w: stream is %d Hz, profile %q needs %d Hz",
			ErrSampleRate, src.SampleRate(), p.Name, p.SamplingRate)
	}
	stft, err := NewSTFT(src, p.WindowSize, p.HopSize, p.WindowType)
	if err != nil {
		return nil, err
	}
	return NewChromaExtractor(stft, p.ChromaMinFrequency, p.ChromaMaxFrequency, false, p.ChromaMappingMode)
}

// BinCounts returns how many FFT bins feed each chroma class.
func (c *ChromaExtractor) BinCounts() [ChromaBins]int { return c.counts }

func (c *ChromaExtractor) WindowCount() int { return c.spec.WindowCount() }
func (c *ChromaExtractor) Close() error     { return c.spec.Close() }

// ReadFrame reads the next spectrum and writes its chroma vector into dst,
// which must hold exactly ChromaBins values.
func (c *ChromaExtractor) ReadFrame(dst []float64) error {
	if len(dst) != ChromaBins {
		return fmt.Errorf("%w: chroma frame needs %d values, got %d", ErrFrameSize, ChromaBins, len(dst))
	}
	if err := c.spec.ReadFrame(c.spectrum); err != nil {
		return err
	}

	clear(dst)
	for i, class := range c.mapping {
		dst[class] += c.spectrum[i+c.minBin]
	}

	if c.normalize {
		for i := range dst {
			if c.counts[i] > 0 {
				dst[i] /= float64(c.counts[i])
			}
		}
		mean := floats.Sum(dst) / ChromaBins
		floats.AddConst(-mean, dst)
	}
	return nil
}
