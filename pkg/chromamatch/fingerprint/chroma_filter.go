package fingerprint

import (
	"fmt"

	"github.com/himanishpuri/ChromaMatch/internal/ringbuffer"
	"gonum.org/v1/gonum/floats"
)

// ChromaFilter smooths chroma frames over time with an FIR filter and
// normalizes the result to unit length.
type ChromaFilter struct {
	coeffs    []float64
	threshold float64
	frames    *ringbuffer.RingBuffer[[]float64]
	out       []float64
}

func NewChromaFilter(coeffs []float64, threshold float64) (*ChromaFilter, error) {
	if len(coeffs) == 0 {
		return nil, fmt.Errorf("chroma filter: no coefficients")
	}
	return &ChromaFilter{
		coeffs:    append([]float64(nil), coeffs...),
		threshold: threshold,
		frames:    ringbuffer.New[[]float64](len(coeffs)),
		out:       make([]float64, ChromaBins),
	}, nil
}

// Push adds a frame. Until len(coeffs) frames have been seen nothing is
// produced; afterwards every call returns the filtered, normalized frame.
// The returned slice is reused by the next call.
func (f *ChromaFilter) Push(frame []float64) ([]float64, bool, error) {
	if len(frame) != ChromaBins {
		return nil, false, fmt.Errorf("%w: chroma frame needs %d values, got %d", ErrFrameSize, ChromaBins, len(frame))
	}

	var slot []float64
	if f.frames.Full() {
		slot, _ = f.frames.Oldest()
	} else {
		slot = make([]float64, ChromaBins)
	}
	copy(slot, frame)
	f.frames.Push(slot)

	if !f.frames.Full() {
		return nil, false, nil
	}

	clear(f.out)
	for i, c := range f.coeffs {
		floats.AddScaled(f.out, c, f.frames.At(i))
	}
	normalizeFrame(f.out, f.threshold)
	return f.out, true, nil
}

// Reset forgets all buffered frames.
func (f *ChromaFilter) Reset() { f.frames.Clear() }

// normalizeFrame scales v to unit Euclidean length, or zeroes it when its
// norm is below threshold.
func normalizeFrame(v []float64, threshold float64) {
	norm := floats.Norm(v, 2)
	if norm < threshold {
		clear(v)
		return
	}
	floats.Scale(1/norm, v)
}
