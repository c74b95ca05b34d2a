package fingerprint

import (
	"io"
	"math/rand"
)

// sliceChroma replays fixed chroma frames.
type sliceChroma struct {
	frames [][]float64
	pos    int
	closed int
}

func (s *sliceChroma) ReadFrame(dst []float64) error {
	if s.pos >= len(s.frames) {
		return io.EOF
	}
	copy(dst, s.frames[s.pos])
	s.pos++
	return nil
}

func (s *sliceChroma) WindowCount() int { return len(s.frames) }
func (s *sliceChroma) Close() error     { s.closed++; return nil }

// sliceSamples replays fixed samples in small chunks.
type sliceSamples struct {
	samples []float64
	rate    int
	pos     int
}

func (s *sliceSamples) ReadSamples(dst []float64) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst[:min(len(dst), 100)], s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *sliceSamples) SampleRate() int { return s.rate }
func (s *sliceSamples) Length() int64   { return int64(len(s.samples)) }
func (s *sliceSamples) Close() error    { return nil }

// randomChroma returns n non-negative chroma frames from a seeded source.
func randomChroma(seed int64, n int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	frames := make([][]float64, n)
	for i := range frames {
		f := make([]float64, ChromaBins)
		for j := range f {
			f[j] = rng.ExpFloat64()
		}
		frames[i] = f
	}
	return frames
}
