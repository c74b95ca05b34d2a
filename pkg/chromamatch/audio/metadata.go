package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

var ErrNoAudioStream = errors.New("no audio stream found")

// Metadata describes the first audio stream of a media file as reported by
// ffprobe.
type Metadata struct {
	Filename   string
	Title      string
	Artist     string
	Format     string
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitDepth   int
}

func (m *Metadata) String() string {
	s := fmt.Sprintf("%s: %s, %d Hz, %d ch, %v", m.Filename, m.Format, m.SampleRate, m.Channels, m.Duration.Round(time.Millisecond))
	if m.Title != "" {
		s += fmt.Sprintf(" (%s", m.Title)
		if m.Artist != "" {
			s += " by " + m.Artist
		}
		s += ")"
	}
	return s
}

type probeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Name     string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType     string `json:"codec_type"`
		SampleRate    string `json:"sample_rate"`
		Channels      int    `json:"channels"`
		BitsPerSample int    `json:"bits_per_sample"`
	} `json:"streams"`
}

// parseProbe turns ffprobe's JSON output into Metadata.
func parseProbe(path string, out []byte) (*Metadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("decoding ffprobe output: %w", err)
	}
	for _, st := range probe.Streams {
		if st.CodecType != "audio" {
			continue
		}
		seconds, _ := strconv.ParseFloat(probe.Format.Duration, 64)
		rate, _ := strconv.Atoi(st.SampleRate)
		return &Metadata{
			Filename:   filepath.Base(path),
			Title:      probe.Format.Tags["title"],
			Artist:     probe.Format.Tags["artist"],
			Format:     probe.Format.Name,
			Duration:   time.Duration(seconds * float64(time.Second)),
			SampleRate: rate,
			Channels:   st.Channels,
			BitDepth:   st.BitsPerSample,
		}, nil
	}
	return nil, ErrNoAudioStream
}

// ReadMetadata probes path with ffprobe. A 5s timeout applies when ctx has
// no deadline.
func ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(path, out)
}
