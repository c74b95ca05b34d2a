package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const DefaultConvertTimeout = 30 * time.Second

type ConvertWAVConfig struct {
	// SampleRate of the output, usually the profile's sampling rate.
	SampleRate int
	// Timeout applies when ctx carries no deadline.
	Timeout time.Duration
}

// ConvertToMonoWAV decodes any input ffmpeg understands into a mono 16-bit
// WAV at cfg.SampleRate inside outputDir and returns the new path. Every
// call writes its own file.
func ConvertToMonoWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.SampleRate <= 0 {
		return "", fmt.Errorf("convert %s: invalid sample rate %d", inputPath, cfg.SampleRate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConvertTimeout
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	// inputs from different directories often share a base name
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out, err := os.CreateTemp(outputDir, fmt.Sprintf("%s.%d-*.wav", base, cfg.SampleRate))
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}
	outputPath := out.Name()
	out.Close()

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-i", inputPath,
		"-ac", "1", // mono
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-c:a", "pcm_s16le",
		outputPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	return outputPath, nil
}

// NeedsConversion reports whether path can be read directly as a mono WAV
// at sampleRate.
func NeedsConversion(path string, sampleRate int) bool {
	src, err := OpenWav(path)
	if err != nil {
		return true
	}
	defer src.Close()
	return src.SampleRate() != sampleRate || src.Channels() != 1
}
