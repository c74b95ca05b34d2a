package chromamatch

import (
	"context"
	"time"

	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

type Service interface {
	AddTrack(ctx context.Context, path string) (*models.Track, error)
	AddTracks(ctx context.Context, paths []string) ([]*models.Track, error)
	AddSamples(ctx context.Context, name string, samples []float64, sampleRate int) (*models.Track, error)
	Fingerprint(ctx context.Context, path string) ([]fingerprint.SubFingerprintHash, error)
	Query(ctx context.Context, path string) ([]matching.Match, error)
	FindAllMatches(ctx context.Context) ([]matching.Match, error)
	FindAllMatchingMatches(ctx context.Context) ([]matching.Match, error)
	MatchPairs(ctx context.Context, mode matching.FilterMode, window time.Duration) ([]*matching.MatchPair, error)
	Tracks() []*models.Track
	Store() *matching.FingerprintStore
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
