package fingerprint

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidFilterType = errors.New("invalid filter type")

// FilterType selects the rectangle layout a Filter compares.
type FilterType int

const (
	FilterWhole          FilterType = iota // whole region against nothing
	FilterHalvesVertical                   // upper half against lower half
	FilterHalvesHorizontal                 // right half against left half
	FilterCheckerboard                     // diagonal quadrants against each other
	FilterThirdsVertical                   // middle third of the rows against the outer thirds
	FilterThirdsHorizontal                 // middle third of the columns against the outer thirds
)

// Filter is a Haar-like rectangle feature evaluated on an IntegralImage.
type Filter struct {
	Type   FilterType `json:"type"`
	Y      int        `json:"y"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
}

func NewFilter(typ FilterType, y, width, height int) (Filter, error) {
	if typ < FilterWhole || typ > FilterThirdsHorizontal {
		return Filter{}, fmt.Errorf("%w: %d", ErrInvalidFilterType, typ)
	}
	if width < 1 || height < 1 || y < 0 {
		return Filter{}, fmt.Errorf("filter: invalid geometry y=%d w=%d h=%d", y, width, height)
	}
	return Filter{Type: typ, Y: y, Width: width, Height: height}, nil
}

func subtractLog(a, b float64) float64 {
	return math.Log(1+a) - math.Log(1+b)
}

// Apply evaluates the filter with its left edge at column x of img.
func (f Filter) Apply(img *IntegralImage, x int) (float64, error) {
	y, w, h := f.Y, f.Width, f.Height
	area := img.CalculateArea

	switch f.Type {
	case FilterWhole:
		return subtractLog(area(x, y, x+w-1, y+h-1), 0), nil

	case FilterHalvesVertical:
		hh := h / 2
		a := area(x, y+hh, x+w-1, y+h-1)
		b := area(x, y, x+w-1, y+hh-1)
		return subtractLog(a, b), nil

	case FilterHalvesHorizontal:
		hw := w / 2
		a := area(x+hw, y, x+w-1, y+h-1)
		b := area(x, y, x+hw-1, y+h-1)
		return subtractLog(a, b), nil

	case FilterCheckerboard:
		hw, hh := w/2, h/2
		a := area(x, y+hh, x+hw-1, y+h-1) + area(x+hw, y, x+w-1, y+hh-1)
		b := area(x, y, x+hw-1, y+hh-1) + area(x+hw, y+hh, x+w-1, y+h-1)
		return subtractLog(a, b), nil

	case FilterThirdsVertical:
		th := h / 3
		a := area(x, y+th, x+w-1, y+2*th-1)
		b := area(x, y, x+w-1, y+th-1) + area(x, y+2*th, x+w-1, y+h-1)
		return subtractLog(a, b), nil

	case FilterThirdsHorizontal:
		tw := w / 3
		a := area(x+tw, y, x+2*tw-1, y+h-1)
		b := area(x, y, x+tw-1, y+h-1) + area(x+2*tw, y, x+w-1, y+h-1)
		return subtractLog(a, b), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidFilterType, f.Type)
}

// Quantizer maps a filter response onto one of four levels using three
// ascending thresholds.
type Quantizer struct {
	T0 float64 `json:"t0"`
	T1 float64 `json:"t1"`
	T2 float64 `json:"t2"`
}

func (q Quantizer) Quantize(v float64) int {
	if v < q.T1 {
		if v < q.T0 {
			return 0
		}
		return 1
	}
	if v < q.T2 {
		return 2
	}
	return 3
}

type Classifier struct {
	Filter    Filter    `json:"filter"`
	Quantizer Quantizer `json:"quantizer"`
}

// Classify returns the quantized filter response at column x, in [0, 3].
func (c Classifier) Classify(img *IntegralImage, x int) (int, error) {
	v, err := c.Filter.Apply(img, x)
	if err != nil {
		return 0, err
	}
	return c.Quantizer.Quantize(v), nil
}

// grayCode maps quantizer levels so neighbouring levels differ in one bit.
var grayCode = [4]uint32{0, 1, 3, 2}

// ClassifierBank is the ordered set of classifiers that make up one hash.
// The first classifier lands in the most significant bits.
type ClassifierBank []Classifier

// MaxClassifiers is the number of 2-bit codes a 32-bit hash can hold.
const MaxClassifiers = 16

func (b ClassifierBank) Validate(height int) error {
	if len(b) == 0 || len(b) > MaxClassifiers {
		return fmt.Errorf("classifier bank: need 1..%d classifiers, got %d", MaxClassifiers, len(b))
	}
	for i, c := range b {
		f := c.Filter
		if _, err := NewFilter(f.Type, f.Y, f.Width, f.Height); err != nil {
			return fmt.Errorf("classifier %d: %w", i, err)
		}
		if f.Y+f.Height > height {
			return fmt.Errorf("classifier %d: rows %d..%d exceed image height %d",
				i, f.Y, f.Y+f.Height-1, height)
		}
		q := c.Quantizer
		if q.T0 > q.T1 || q.T1 > q.T2 {
			return fmt.Errorf("classifier %d: thresholds not ascending", i)
		}
	}
	return nil
}

// MaxWidth is the widest filter in the bank, i.e. how many columns the
// integral image must hold before hashing can start.
func (b ClassifierBank) MaxWidth() int {
	w := 0
	for _, c := range b {
		w = max(w, c.Filter.Width)
	}
	return w
}

// Hash classifies the image window at column 0 and packs the gray-coded
// results two bits per classifier.
func (b ClassifierBank) Hash(img *IntegralImage) (SubFingerprintHash, error) {
	var hash uint32
	for _, c := range b {
		level, err := c.Classify(img, 0)
		if err != nil {
			return 0, err
		}
		hash = hash<<2 | grayCode[level]
	}
	return SubFingerprintHash(hash), nil
}
