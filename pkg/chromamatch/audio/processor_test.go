package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// fakeFFmpeg puts an ffmpeg on PATH that writes wavPath, in two chunks, to
// its last argument.
func fakeFFmpeg(t *testing.T, wavPath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
for out; do :; done
head -c 100 "$FAKE_FFMPEG_WAV" > "$out"
sleep 0.05
tail -c +101 "$FAKE_FFMPEG_WAV" >> "$out"
`
	if err := os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("FAKE_FFMPEG_WAV", wavPath)
}

func TestConvertToMonoWAVSameBaseName(t *testing.T) {
	fakeFFmpeg(t, writeWav(t, make([]int, 5000), 11025, 1))

	inputs := t.TempDir()
	outDir := t.TempDir()
	const n = 6
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		dir := filepath.Join(inputs, fmt.Sprintf("cam%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		input := filepath.Join(dir, "take.mp4")
		if err := os.WriteFile(input, []byte("not audio"), 0o644); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = ConvertToMonoWAV(context.Background(), input, outDir, ConvertWAVConfig{SampleRate: 11025})
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("conversion %d failed: %v", i, errs[i])
		}
		if seen[paths[i]] {
			t.Fatalf("two conversions wrote %s", paths[i])
		}
		seen[paths[i]] = true

		src, err := OpenWav(paths[i])
		if err != nil {
			t.Fatalf("converted file %s: %v", paths[i], err)
		}
		if src.Length() != 5000 {
			t.Errorf("%s holds %d samples, want 5000", paths[i], src.Length())
		}
		src.Close()
	}
}

func TestConvertToMonoWAVFailureLeavesNoFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	outDir := t.TempDir()
	if _, err := ConvertToMonoWAV(context.Background(), "in.mp3", outDir, ConvertWAVConfig{SampleRate: 11025}); err == nil {
		t.Fatal("failing ffmpeg reported success")
	}
	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Errorf("output dir holds %d files after a failed conversion", len(entries))
	}
}
