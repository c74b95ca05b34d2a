package visualize

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
)

func decode(t *testing.T, path string) (w, h int, bright func(x, y int) bool) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("image not written: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), func(x, y int) bool {
		r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
		return r > 0x8000
	}
}

func TestRenderFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "fp.png")
	fp := fingerprint.Fingerprint{1 << 31, 0, 1}
	if err := RenderFingerprint(fp, path); err != nil {
		t.Fatal(err)
	}
	w, h, bright := decode(t, path)
	if w != 3*Scale || h != 32*Scale {
		t.Fatalf("size %dx%d", w, h)
	}
	if !bright(0, 0) {
		t.Error("top bit of first hash not drawn")
	}
	if bright(Scale, 0) || bright(Scale, h-1) {
		t.Error("silent hash drawn")
	}
	if !bright(2*Scale, h-1) {
		t.Error("lowest bit of last hash not drawn")
	}

	if err := RenderFingerprint(nil, path); err == nil {
		t.Error("empty fingerprint rendered")
	}
}

func TestRenderDifference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diff.png")
	a := fingerprint.Fingerprint{0xFFFF0000, 7}
	b := fingerprint.Fingerprint{0xFFFF0000, 6}
	ber, err := RenderDifference(a, b, path)
	if err != nil {
		t.Fatal(err)
	}
	if want := 1.0 / 64; math.Abs(ber-want) > 1e-12 {
		t.Errorf("BER = %v, want %v", ber, want)
	}
	_, h, bright := decode(t, path)
	if bright(0, 0) {
		t.Error("identical hashes show a difference")
	}
	if !bright(Scale, h-1) {
		t.Error("differing bit not highlighted")
	}

	if _, err := RenderDifference(a, b[:1], path); err == nil {
		t.Error("length mismatch accepted")
	}
}

func TestRenderSpectrogram(t *testing.T) {
	samples := make([]float64, 8192)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 440 * float64(i) / 11025)
	}
	path := filepath.Join(t.TempDir(), "spec.png")
	if err := RenderSpectrogram(samples, 11025, 256, 128, path); err != nil {
		t.Fatal(err)
	}
	if w, h, _ := decode(t, path); w != 256 || h != 128 {
		t.Errorf("size %dx%d", w, h)
	}
}
