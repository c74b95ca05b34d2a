package fingerprint

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidProfile = errors.New("invalid profile")

// MappingMode selects how FFT bin centre frequencies are folded onto the 12
// chroma classes.
type MappingMode int

const (
	// MappingPaper rounds frac(log2 f) to the nearest class.
	MappingPaper MappingMode = iota
	// MappingChromaprint truncates frac(log2(f/A0)), A0 = 27.5 Hz.
	MappingChromaprint
)

func (m MappingMode) String() string {
	switch m {
	case MappingPaper:
		return "paper"
	case MappingChromaprint:
		return "chromaprint"
	}
	return fmt.Sprintf("mapping(%d)", int(m))
}

type WindowType int

const (
	WindowRectangular WindowType = iota
	WindowHamming
	WindowHann
	WindowBlackman
	WindowBartlett
)

func (w WindowType) String() string {
	switch w {
	case WindowRectangular:
		return "rectangular"
	case WindowHamming:
		return "hamming"
	case WindowHann:
		return "hann"
	case WindowBlackman:
		return "blackman"
	case WindowBartlett:
		return "bartlett"
	}
	return fmt.Sprintf("window(%d)", int(w))
}

// Profile is the full parameter set of the fingerprinting pipeline. Two
// fingerprints are only comparable when generated with the same profile.
type Profile struct {
	Name string `json:"name"`

	SamplingRate int        `json:"sampling_rate"`
	WindowSize   int        `json:"window_size"`
	HopSize      int        `json:"hop_size"`
	WindowType   WindowType `json:"window_type"`

	ChromaMinFrequency float64     `json:"chroma_min_frequency"`
	ChromaMaxFrequency float64     `json:"chroma_max_frequency"`
	ChromaMappingMode  MappingMode `json:"chroma_mapping_mode"`

	ChromaFilterCoefficients     []float64 `json:"chroma_filter_coefficients"`
	ChromaNormalizationThreshold float64   `json:"chroma_normalization_threshold"`

	Classifiers ClassifierBank `json:"classifiers"`
}

// HashTimeScale is the duration in seconds covered by one hop, i.e. the time
// distance between consecutive sub-fingerprints.
func (p Profile) HashTimeScale() float64 {
	return float64(p.HopSize) / float64(p.SamplingRate)
}

func (p Profile) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidProfile, p.Name, fmt.Sprintf(format, args...))
	}
	switch {
	case p.SamplingRate <= 0:
		return fail("sampling rate must be positive")
	case p.WindowSize < 4:
		return fail("window size %d too small", p.WindowSize)
	case p.HopSize <= 0:
		return fail("hop size must be positive")
	case p.ChromaMinFrequency < 0 || p.ChromaMaxFrequency <= p.ChromaMinFrequency:
		return fail("chroma frequency range %.1f..%.1f", p.ChromaMinFrequency, p.ChromaMaxFrequency)
	case len(p.ChromaFilterCoefficients) == 0:
		return fail("no chroma filter coefficients")
	case p.ChromaMappingMode != MappingPaper && p.ChromaMappingMode != MappingChromaprint:
		return fail("unknown mapping mode %v", p.ChromaMappingMode)
	case p.WindowType < WindowRectangular || p.WindowType > WindowBartlett:
		return fail("unknown window type %v", p.WindowType)
	}
	if err := p.Classifiers.Validate(ChromaBins); err != nil {
		return fail("%v", err)
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (%d Hz, window %d, hop %d, %s mapping)",
		p.Name, p.SamplingRate, p.WindowSize, p.HopSize, p.ChromaMappingMode)
}

func classifier(typ FilterType, y, w, h int, t0, t1, t2 float64) Classifier {
	return Classifier{
		Filter:    Filter{Type: typ, Y: y, Width: w, Height: h},
		Quantizer: Quantizer{T0: t0, T1: t1, T2: t2},
	}
}

// referenceClassifiers are the trained classifiers of the Chromaprint
// reference implementation.
func referenceClassifiers() ClassifierBank {
	return ClassifierBank{
		classifier(0, 4, 15, 3, 1.98215, 2.35817, 2.63523),
		classifier(4, 4, 15, 6, -1.03809, -0.651211, -0.282167),
		classifier(1, 0, 16, 4, -0.298702, 0.119262, 0.558497),
		classifier(3, 8, 12, 2, -0.105439, 0.0153946, 0.135898),
		classifier(3, 4, 8, 4, -0.142891, 0.0258736, 0.200632),
		classifier(4, 0, 5, 3, -0.826319, -0.590612, -0.368214),
		classifier(1, 2, 9, 2, -0.557409, -0.233035, 0.0534525),
		classifier(2, 7, 4, 3, -0.0646826, 0.00620476, 0.0784847),
		classifier(2, 6, 16, 2, -0.192387, -0.029699, 0.215855),
		classifier(2, 1, 2, 3, -0.0397818, -0.00568076, 0.0292026),
		classifier(5, 10, 15, 1, -0.53823, -0.369934, -0.190235),
		classifier(3, 6, 10, 2, -0.124877, 0.0296483, 0.139239),
		classifier(2, 1, 14, 1, -0.101475, 0.0225617, 0.231971),
		classifier(3, 5, 4, 6, -0.0799915, -0.00729616, 0.063262),
		classifier(1, 9, 12, 2, -0.272556, 0.019424, 0.302559),
		classifier(3, 4, 14, 2, -0.164292, -0.0321188, 0.0846339),
	}
}

// DefaultProfile reproduces the Chromaprint reference parameters.
func DefaultProfile() Profile {
	return Profile{
		Name:                         "Chromaprint default",
		SamplingRate:                 11025,
		WindowSize:                   4096,
		HopSize:                      4096 / 3,
		WindowType:                   WindowHamming,
		ChromaMinFrequency:           28,
		ChromaMaxFrequency:           3520,
		ChromaMappingMode:            MappingChromaprint,
		ChromaFilterCoefficients:     []float64{0.25, 0.75, 1.0, 0.75, 0.25},
		ChromaNormalizationThreshold: 0.01,
		Classifiers:                  referenceClassifiers(),
	}
}

// SyncProfile trades robustness for time resolution: a much smaller hop
// gives sub-fingerprints roughly every 12 ms, which suits alignment of
// recordings of the same event.
func SyncProfile() Profile {
	p := DefaultProfile()
	p.Name = "Sync optimized"
	p.SamplingRate = 5512
	p.WindowSize = 2048
	p.HopSize = 64
	p.ChromaMappingMode = MappingPaper
	return p
}

// Profiles lists the built-in profiles.
func Profiles() []Profile {
	return []Profile{DefaultProfile(), SyncProfile()}
}

// ProfileByName looks a built-in profile up by its name or a short alias
// ("default", "sync").
func ProfileByName(name string) (Profile, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "default", "chromaprint":
		return DefaultProfile(), nil
	case "sync":
		return SyncProfile(), nil
	}
	for _, p := range Profiles() {
		if strings.ToLower(p.Name) == n {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: unknown profile %q", ErrInvalidProfile, name)
}
