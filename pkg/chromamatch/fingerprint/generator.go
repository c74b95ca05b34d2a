package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

// DefaultBatchSize is how many sub-fingerprints are collected before a
// batch is handed to the BatchHandler.
const DefaultBatchSize = 512

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// Batch is a group of consecutive sub-fingerprints of one track.
type Batch struct {
	Track           *models.Track
	SubFingerprints []SubFingerprint
	// Index is the number of sub-fingerprints generated so far, including
	// this batch.
	Index int
	// Indices estimates the total number of sub-fingerprints of the track,
	// -1 when the source length is unknown.
	Indices int
}

// BatchHandler receives generated batches. The batch's slice is not reused
// by the generator. Returning an error stops generation.
type BatchHandler func(Batch) error

// CompletedHandler is called once after the last batch of a track.
type CompletedHandler func(track *models.Track, count int)

type Generator struct {
	profile     Profile
	batchSize   int
	onBatch     BatchHandler
	onCompleted CompletedHandler
	log         Logger
}

type GeneratorOption func(*Generator)

func WithBatchSize(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

func WithBatchHandler(h BatchHandler) GeneratorOption {
	return func(g *Generator) { g.onBatch = h }
}

func WithCompletedHandler(h CompletedHandler) GeneratorOption {
	return func(g *Generator) { g.onCompleted = h }
}

func WithGeneratorLogger(l Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGenerator(p Profile, opts ...GeneratorOption) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{profile: p, batchSize: DefaultBatchSize, log: nopLogger{}}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) Profile() Profile { return g.profile }

// Generate drains src, emitting sub-fingerprints for track in batches. The
// source is closed before Generate returns. Cancellation is checked at every
// batch boundary.
func (g *Generator) Generate(ctx context.Context, track *models.Track, src ChromaSource) (err error) {
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing source of %s: %w", track, cerr)
		}
	}()

	filter, err := NewChromaFilter(g.profile.ChromaFilterCoefficients, g.profile.ChromaNormalizationThreshold)
	if err != nil {
		return err
	}
	bank := g.profile.Classifiers
	img, err := NewIntegralImage(bank.MaxWidth(), ChromaBins)
	if err != nil {
		return err
	}

	indices := src.WindowCount()
	if indices >= 0 {
		// the filter and the image swallow the first frames
		indices = max(indices-len(g.profile.ChromaFilterCoefficients)-bank.MaxWidth()+2, 0)
	}

	g.log.Debugf("generating fingerprints for %s (~%d hashes)", track, indices)

	frame := make([]float64, ChromaBins)
	batch := make([]SubFingerprint, 0, g.batchSize)
	index := 0

	emit := func() error {
		if g.onBatch == nil || len(batch) == 0 {
			batch = batch[:0]
			return nil
		}
		b := Batch{Track: track, SubFingerprints: batch, Index: index, Indices: indices}
		batch = make([]SubFingerprint, 0, g.batchSize)
		return g.onBatch(b)
	}

	for {
		if err := src.ReadFrame(frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading chroma of %s: %w", track, err)
		}

		filtered, ready, err := filter.Push(frame)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		if err := img.AddColumn(filtered); err != nil {
			return err
		}
		if !img.Full() {
			continue
		}

		hash, err := bank.Hash(img)
		if err != nil {
			return err
		}
		batch = append(batch, SubFingerprint{Index: index, Hash: hash})
		index++

		if index%g.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := emit(); err != nil {
		return err
	}
	if g.onCompleted != nil {
		g.onCompleted(track, index)
	}
	g.log.Debugf("generated %d hashes for %s", index, track)
	return nil
}

// GenerateSamples runs the whole pipeline, spectrum and chroma included, on
// a mono sample stream at the profile's sampling rate.
func (g *Generator) GenerateSamples(ctx context.Context, track *models.Track, src SampleSource) error {
	chroma, err := NewChromaSource(src, g.profile)
	if err != nil {
		src.Close()
		return err
	}
	return g.Generate(ctx, track, chroma)
}

// Hashes generates the complete hash sequence of a chroma source. Meant for
// short inputs such as queries; tracks should be streamed with Generate.
func Hashes(ctx context.Context, p Profile, src ChromaSource) ([]SubFingerprintHash, error) {
	var hashes []SubFingerprintHash
	g, err := NewGenerator(p, WithBatchHandler(func(b Batch) error {
		for _, sf := range b.SubFingerprints {
			hashes = append(hashes, sf.Hash)
		}
		return nil
	}))
	if err != nil {
		src.Close()
		return nil, err
	}
	if err := g.Generate(ctx, models.NewTrack("query", ""), src); err != nil {
		return nil, err
	}
	return hashes, nil
}
