package fingerprint

import (
	"fmt"
)

// rebaseInterval bounds how far the running column sums may grow before
// they are shifted back towards zero.
const rebaseInterval = 4096

// IntegralImage is a sliding window over the most recent Width columns of a
// Height-row image, answering rectangle sums in constant time.
//
// Internally every column is stored as the running 2D prefix sum since the
// last rebase. A window position is the difference between the column of
// interest and the column just before the window, so adding a column costs
// O(Height).
type IntegralImage struct {
	width, height int
	cum           [][]float64 // width+1 slots of cumulative columns, indexed by absolute column % (width+1)
	raw           [][]float64 // width slots of the columns as they were added
	zero          []float64
	added         int // total columns ever added
}

func NewIntegralImage(width, height int) (*IntegralImage, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("integral image: invalid size %dx%d", width, height)
	}
	img := &IntegralImage{
		width:  width,
		height: height,
		cum:    make([][]float64, width+1),
		raw:    make([][]float64, width),
		zero:   make([]float64, height),
	}
	for i := range img.cum {
		img.cum[i] = make([]float64, height)
	}
	for i := range img.raw {
		img.raw[i] = make([]float64, height)
	}
	return img, nil
}

func (img *IntegralImage) Width() int  { return img.width }
func (img *IntegralImage) Height() int { return img.height }

// Columns returns how many columns the window currently holds, at most Width.
func (img *IntegralImage) Columns() int {
	return min(img.added, img.width)
}

// Full reports whether the window holds Width columns.
func (img *IntegralImage) Full() bool { return img.added >= img.width }

// Reset empties the window.
func (img *IntegralImage) Reset() {
	img.added = 0
	for _, c := range img.cum {
		clear(c)
	}
}

// AddColumn appends a column of Height values, evicting the oldest column
// when the window is full.
func (img *IntegralImage) AddColumn(column []float64) error {
	if len(column) != img.height {
		return fmt.Errorf("%w: column has %d values, image height is %d",
			ErrFrameSize, len(column), img.height)
	}

	k := img.added
	prev := img.zero
	if k > 0 {
		prev = img.cum[(k-1)%(img.width+1)]
	}
	slot := img.cum[k%(img.width+1)]
	running := 0.0
	for y, v := range column {
		running += v
		slot[y] = prev[y] + running
	}
	copy(img.raw[k%img.width], column)
	img.added++

	if img.added%rebaseInterval == 0 {
		img.rebase()
	}
	return nil
}

// rebase subtracts the column before the window from every retained column
// so the stored sums stay close to the window's own magnitude.
func (img *IntegralImage) rebase() {
	start := img.start()
	if start == 0 {
		return
	}
	base := append([]float64(nil), img.cum[(start-1)%(img.width+1)]...)
	for k := start - 1; k < img.added; k++ {
		col := img.cum[k%(img.width+1)]
		for y := range col {
			col[y] -= base[y]
		}
	}
}

func (img *IntegralImage) start() int {
	if img.added > img.width {
		return img.added - img.width
	}
	return 0
}

func (img *IntegralImage) base() []float64 {
	s := img.start()
	if s == 0 {
		return img.zero
	}
	return img.cum[(s-1)%(img.width+1)]
}

// At returns the inclusive prefix sum of the rectangle (0,0)..(x,y) within
// the window. Coordinates outside the populated area yield 0.
func (img *IntegralImage) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= img.Columns() || y >= img.height {
		return 0
	}
	abs := img.start() + x
	return img.cum[abs%(img.width+1)][y] - img.base()[y]
}

// Value returns the original pixel at (x, y) within the window.
func (img *IntegralImage) Value(x, y int) float64 {
	if x < 0 || y < 0 || x >= img.Columns() || y >= img.height {
		return 0
	}
	return img.raw[(img.start()+x)%img.width][y]
}

// CalculateArea returns the sum over the inclusive rectangle spanned by
// (x1,y1) and (x2,y2), with x1 <= x2 and y1 <= y2.
func (img *IntegralImage) CalculateArea(x1, y1, x2, y2 int) float64 {
	if x2 < x1 || y2 < y1 {
		return 0
	}
	area := img.At(x2, y2)
	if x1 > 0 {
		area -= img.At(x1-1, y2)
	}
	if y1 > 0 {
		area -= img.At(x2, y1-1)
	}
	if x1 > 0 && y1 > 0 {
		area += img.At(x1-1, y1-1)
	}
	return area
}
