package fingerprint

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

// coldStart is the number of frames the default profile consumes before
// the first hash: 4 for the FIR buffer and 15 for the integral image.
const coldStart = 4 + 15

func collect(t *testing.T, p Profile, frames [][]float64) ([]Batch, []SubFingerprintHash) {
	t.Helper()
	var batches []Batch
	var hashes []SubFingerprintHash
	g, err := NewGenerator(p, WithBatchHandler(func(b Batch) error {
		batches = append(batches, b)
		for _, sf := range b.SubFingerprints {
			hashes = append(hashes, sf.Hash)
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Generate(context.Background(), models.NewTrack("t", ""), &sliceChroma{frames: frames}); err != nil {
		t.Fatal(err)
	}
	return batches, hashes
}

func TestGeneratorIsDeterministic(t *testing.T) {
	frames := randomChroma(42, 300)
	_, first := collect(t, DefaultProfile(), frames)
	_, second := collect(t, DefaultProfile(), frames)

	if len(first) != 300-coldStart {
		t.Fatalf("got %d hashes, want %d", len(first), 300-coldStart)
	}
	if !slices.Equal(first, second) {
		t.Fatal("two runs over the same input produced different hashes")
	}
}

func TestGeneratorBatches(t *testing.T) {
	frames := randomChroma(9, 1200+coldStart)
	batches, _ := collect(t, DefaultProfile(), frames)

	sizes := make([]int, len(batches))
	next := 0
	for i, b := range batches {
		sizes[i] = len(b.SubFingerprints)
		if b.Indices != 1200 {
			t.Errorf("batch %d: Indices = %d, want 1200", i, b.Indices)
		}
		for _, sf := range b.SubFingerprints {
			if sf.Index != next {
				t.Fatalf("index %d follows %d", sf.Index, next-1)
			}
			next++
		}
		if b.Index != next {
			t.Errorf("batch %d: Index = %d, want %d", i, b.Index, next)
		}
	}
	if want := []int{512, 512, 176}; !slices.Equal(sizes, want) {
		t.Errorf("batch sizes = %v, want %v", sizes, want)
	}
}

func TestGeneratorShortStream(t *testing.T) {
	src := &sliceChroma{frames: randomChroma(1, coldStart-1)}
	completed := -1
	g, err := NewGenerator(DefaultProfile(),
		WithBatchHandler(func(b Batch) error {
			t.Errorf("unexpected batch of %d", len(b.SubFingerprints))
			return nil
		}),
		WithCompletedHandler(func(_ *models.Track, n int) { completed = n }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Generate(context.Background(), models.NewTrack("short", ""), src); err != nil {
		t.Fatal(err)
	}
	if completed != 0 {
		t.Errorf("completed with %d hashes, want 0", completed)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestGeneratorStopsAtBatchBoundary(t *testing.T) {
	stop := errors.New("enough")
	src := &sliceChroma{frames: randomChroma(2, 2000)}
	calls := 0
	g, _ := NewGenerator(DefaultProfile(), WithBatchSize(100), WithBatchHandler(func(Batch) error {
		calls++
		return stop
	}))

	err := g.Generate(context.Background(), models.NewTrack("t", ""), src)
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want handler error", err)
	}
	if calls != 1 || src.closed != 1 {
		t.Errorf("calls=%d closed=%d, want 1 and 1", calls, src.closed)
	}
}

func TestGeneratorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sliceChroma{frames: randomChroma(3, 2000)}
	g, _ := NewGenerator(DefaultProfile())

	if err := g.Generate(ctx, models.NewTrack("t", ""), src); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if src.pos >= len(src.frames) {
		t.Error("generator read the whole source despite cancellation")
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestGenerateSamplesChecksRate(t *testing.T) {
	g, _ := NewGenerator(DefaultProfile())
	src := &sliceSamples{samples: make([]float64, 100), rate: 44100}
	err := g.GenerateSamples(context.Background(), models.NewTrack("t", ""), src)
	if !errors.Is(err, ErrSampleRate) {
		t.Fatalf("err = %v, want ErrSampleRate", err)
	}
}
