package fingerprint

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func bruteArea(cols [][]float64, x1, y1, x2, y2 int) float64 {
	sum := 0.0
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			sum += cols[x][y]
		}
	}
	return sum
}

func checkAllRectangles(t *testing.T, img *IntegralImage, window [][]float64) {
	t.Helper()
	for x1 := 0; x1 < len(window); x1++ {
		for x2 := x1; x2 < len(window); x2++ {
			for y1 := 0; y1 < img.Height(); y1++ {
				for y2 := y1; y2 < img.Height(); y2++ {
					want := bruteArea(window, x1, y1, x2, y2)
					got := img.CalculateArea(x1, y1, x2, y2)
					if math.Abs(got-want) > 1e-6 {
						t.Fatalf("area (%d,%d)-(%d,%d) = %v, want %v", x1, y1, x2, y2, got, want)
					}
				}
			}
		}
	}
}

func TestIntegralImageMatchesBruteForce(t *testing.T) {
	const width, height = 6, 12
	img, err := NewIntegralImage(width, height)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(11))

	var all [][]float64
	for i := 0; i < 20; i++ {
		col := make([]float64, height)
		for j := range col {
			col[j] = rng.Float64()
		}
		all = append(all, col)
		if err := img.AddColumn(col); err != nil {
			t.Fatal(err)
		}

		window := all[max(0, len(all)-width):]
		if img.Columns() != len(window) {
			t.Fatalf("Columns() = %d, want %d", img.Columns(), len(window))
		}
		checkAllRectangles(t, img, window)
		for x := range window {
			if img.Value(x, 3) != window[x][3] {
				t.Fatalf("Value(%d, 3) = %v, want %v", x, img.Value(x, 3), window[x][3])
			}
		}
	}
}

func TestIntegralImageSurvivesRebase(t *testing.T) {
	const width, height = 16, 12
	img, err := NewIntegralImage(width, height)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(5))

	window := make([][]float64, 0, width)
	for i := 0; i < 3*rebaseInterval+7; i++ {
		col := make([]float64, height)
		for j := range col {
			col[j] = rng.Float64()
		}
		if err := img.AddColumn(col); err != nil {
			t.Fatal(err)
		}
		if len(window) == width {
			window = window[1:]
		}
		window = append(window, col)
	}
	checkAllRectangles(t, img, window)
}

func TestIntegralImageRejectsWrongHeight(t *testing.T) {
	img, err := NewIntegralImage(4, 12)
	if err != nil {
		t.Fatal(err)
	}
	if err := img.AddColumn(make([]float64, 11)); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("err = %v, want ErrFrameSize", err)
	}
	if img.Columns() != 0 {
		t.Errorf("rejected column was counted")
	}
}

func TestIntegralImageEmptyArea(t *testing.T) {
	img, _ := NewIntegralImage(2, 2)
	img.AddColumn([]float64{1, 2})
	if got := img.CalculateArea(0, 1, 0, 0); got != 0 {
		t.Errorf("inverted rectangle area = %v, want 0", got)
	}
	if got := img.At(5, 0); got != 0 {
		t.Errorf("unpopulated coordinate = %v, want 0", got)
	}
}
