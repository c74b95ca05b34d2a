package audio

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWav encodes interleaved 16-bit samples into a temporary WAV file.
func writeWav(t *testing.T, data []int, rate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create WAV file: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to finalise WAV: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenWavMono(t *testing.T) {
	data := make([]int, 1000)
	for i := range data {
		data[i] = int(16384 * math.Sin(float64(i)/10))
	}
	path := writeWav(t, data, 11025, 1)

	src, err := OpenWav(path)
	if err != nil {
		t.Fatalf("OpenWav failed: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 11025 || src.Channels() != 1 {
		t.Errorf("format = %d Hz, %d channels", src.SampleRate(), src.Channels())
	}
	if src.Length() != 1000 {
		t.Errorf("Length = %d, want 1000", src.Length())
	}
	if d := src.Duration(); d < 90*time.Millisecond || d > 91*time.Millisecond {
		t.Errorf("Duration = %v", d)
	}

	got := make([]float64, 0, 1000)
	buf := make([]float64, 300)
	for {
		n, err := src.ReadSamples(buf)
		got = append(got, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 1000 {
		t.Fatalf("read %d samples, want 1000", len(got))
	}
	for i, v := range got {
		if want := float64(data[i]) / 32768; math.Abs(v-want) > 1e-9 {
			t.Fatalf("sample %d = %v, want %v", i, v, want)
		}
	}
}

func TestOpenWavStereoMixdown(t *testing.T) {
	// left +8192, right -4096 → (8192-4096)/2 = 2048
	data := make([]int, 200)
	for i := 0; i < len(data); i += 2 {
		data[i], data[i+1] = 8192, -4096
	}
	path := writeWav(t, data, 8000, 2)

	samples, rate, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 8000 || len(samples) != 100 {
		t.Fatalf("got %d samples at %d Hz", len(samples), rate)
	}
	for i, v := range samples {
		if math.Abs(v-2048.0/32768) > 1e-9 {
			t.Fatalf("sample %d = %v", i, v)
		}
	}
}

func TestOpenWavInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.wav")
	if err := os.WriteFile(path, []byte("INVALID HEADER DATA"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenWav(path); !errors.Is(err, ErrInvalidWav) {
		t.Errorf("err = %v, want ErrInvalidWav", err)
	}
	if _, err := OpenWav(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("missing file opened")
	}
}

func TestNeedsConversion(t *testing.T) {
	mono := writeWav(t, make([]int, 10), 11025, 1)
	if NeedsConversion(mono, 11025) {
		t.Error("matching mono WAV flagged for conversion")
	}
	if !NeedsConversion(mono, 5512) {
		t.Error("sample rate mismatch not flagged")
	}
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource([]float64{1, 2, 3, 4, 5}, 100)
	buf := make([]float64, 3)
	if n, err := src.ReadSamples(buf); n != 3 || err != nil {
		t.Fatalf("first read = %d, %v", n, err)
	}
	if n, err := src.ReadSamples(buf); n != 2 || err != nil || buf[1] != 5 {
		t.Fatalf("second read = %d, %v", n, err)
	}
	if _, err := src.ReadSamples(buf); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
	if src.Length() != 5 || src.SampleRate() != 100 {
		t.Errorf("Length %d rate %d", src.Length(), src.SampleRate())
	}
}
