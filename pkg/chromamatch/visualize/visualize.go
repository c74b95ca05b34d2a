// Package visualize renders fingerprints and audio to PNG images.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
)

// Scale is the edge length in pixels of one bit.
const Scale = 4

var (
	background color.Color = spectrogram.ParseColor("000000")
	bitSet     color.Color = spectrogram.ParseColor("ffffff")
	bitDiff    color.Color = spectrogram.ParseColor("ff3030")
)

func newCanvas(columns int) *spectrogram.Image128 {
	img := spectrogram.NewImage128(image.Rect(0, 0, columns*Scale, 32*Scale))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	return img
}

func fillBit(img draw.Image, x, bit int, col color.Color) {
	for dx := 0; dx < Scale; dx++ {
		for dy := 0; dy < Scale; dy++ {
			// most significant bit on top
			img.Set(x*Scale+dx, (31-bit)*Scale+dy, col)
		}
	}
}

func save(img *spectrogram.Image128, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := spectrogram.SavePng(img, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// RenderFingerprint draws one column per hash and one row per bit.
func RenderFingerprint(fp fingerprint.Fingerprint, path string) error {
	if len(fp) == 0 {
		return fmt.Errorf("render %s: empty fingerprint", path)
	}
	img := newCanvas(len(fp))
	for x, h := range fp {
		for bit := 0; bit < 32; bit++ {
			if h&(1<<bit) != 0 {
				fillBit(img, x, bit, bitSet)
			}
		}
	}
	return save(img, path)
}

// RenderDifference highlights the bits in which a and b differ. It returns
// the bit error rate of the pair.
func RenderDifference(a, b fingerprint.Fingerprint, path string) (float64, error) {
	diff, err := a.Difference(b)
	if err != nil {
		return 0, err
	}
	ber, err := fingerprint.CalculateBER(a, b)
	if err != nil {
		return 0, err
	}
	if len(diff) == 0 {
		return ber, fmt.Errorf("render %s: empty fingerprint", path)
	}
	img := newCanvas(len(diff))
	for x, h := range diff {
		for bit := 0; bit < 32; bit++ {
			if h&(1<<bit) != 0 {
				fillBit(img, x, bit, bitDiff)
			}
		}
	}
	return ber, save(img, path)
}

// RenderSpectrogram draws the magnitude spectrogram of mono samples.
func RenderSpectrogram(samples []float64, sampleRate, width, height int, path string) error {
	if len(samples) == 0 {
		return fmt.Errorf("render %s: no samples", path)
	}
	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		samples,
		uint32(sampleRate),
		uint32(height), // bins
		false,          // Hamming window
		false,          // FFT
		true,           // magnitude
		false,          // linear scale
	)
	return save(img, path)
}
