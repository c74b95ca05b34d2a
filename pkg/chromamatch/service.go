package chromamatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/audio"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/storage"
	"github.com/himanishpuri/ChromaMatch/pkg/logger"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// chromaService is the default implementation of the Service interface.
type chromaService struct {
	store   *matching.FingerprintStore
	gen     *fingerprint.Generator
	log     Logger
	config  *Config
	workDir string
}

// trackRegistrar is implemented by collision maps that keep a track table.
type trackRegistrar interface {
	RegisterTrack(track *models.Track) error
	DiscardTrack(track *models.Track) error
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Named("chromamatch")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	workDir, err := os.MkdirTemp(cfg.TempDir, "chromamatch-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	cmap := cfg.CollisionMap
	if cmap == nil {
		cmap, err = openCollisionMap(cfg, workDir)
		if err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	store, err := matching.NewFingerprintStore(cfg.Profile,
		matching.WithCollisionMap(cmap),
		matching.WithThreshold(cfg.Threshold),
		matching.WithFingerprintSize(cfg.FingerprintSize),
		matching.WithLogger(cfg.Logger),
	)
	if err != nil {
		cmap.Close()
		os.RemoveAll(workDir)
		return nil, err
	}

	s := &chromaService{
		store:   store,
		log:     cfg.Logger,
		config:  cfg,
		workDir: workDir,
	}

	s.gen, err = fingerprint.NewGenerator(cfg.Profile,
		fingerprint.WithBatchHandler(s.onBatch),
		fingerprint.WithCompletedHandler(s.onCompleted),
		fingerprint.WithGeneratorLogger(cfg.Logger),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openCollisionMap(cfg *Config, workDir string) (matching.CollisionMap, error) {
	switch cfg.Backend {
	case "", StorageMemory:
		return matching.NewMemoryCollisionMap(), nil
	case StorageSQLite:
		path := cfg.DBPath
		if path == "" {
			path = filepath.Join(workDir, storage.DefaultDBFile)
		}
		return storage.NewSQLiteCollisionMap(path)
	case StorageBadger:
		return storage.NewBadgerCollisionMap(cfg.DBPath)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func (s *chromaService) onBatch(b fingerprint.Batch) error {
	if err := s.store.AddBatch(b); err != nil {
		return err
	}
	if s.config.TrackProgress != nil {
		s.config.TrackProgress(b.Track, b.Index, b.Indices)
	}
	return nil
}

func (s *chromaService) onCompleted(track *models.Track, count int) {
	s.log.Infof("Fingerprinted %s: %d hashes", track, count)
	if s.config.TrackProgress != nil {
		s.config.TrackProgress(track, count, count)
	}
}

// openSource returns a sample source at the profile's sampling rate,
// converting the input first when needed and allowed.
func (s *chromaService) openSource(ctx context.Context, path string) (*audio.WavSource, error) {
	rate := s.config.Profile.SamplingRate
	if s.config.Convert && audio.NeedsConversion(path, rate) {
		converted, err := audio.ConvertToMonoWAV(ctx, path, s.workDir, audio.ConvertWAVConfig{
			SampleRate: rate,
		})
		if err != nil {
			return nil, fmt.Errorf("audio conversion failed: %w", err)
		}
		s.log.Debugf("Converted %s to %s", path, converted)
		path = converted
	}
	src, err := audio.OpenWav(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return src, nil
}

func trackName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func (s *chromaService) register(track *models.Track) error {
	s.store.Register(track)
	if r, ok := s.store.CollisionMap().(trackRegistrar); ok {
		return r.RegisterTrack(track)
	}
	return nil
}

func (s *chromaService) generate(ctx context.Context, track *models.Track) error {
	src, err := s.openSource(ctx, track.Path)
	if err != nil {
		return err
	}
	track.Duration = src.Duration()
	if err := s.gen.GenerateSamples(ctx, track, src); err != nil {
		return fmt.Errorf("fingerprinting %s: %w", track, err)
	}
	return nil
}

// AddTrack fingerprints one audio file into the store.
func (s *chromaService) AddTrack(ctx context.Context, path string) (*models.Track, error) {
	tracks, err := s.AddTracks(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	return tracks[0], nil
}

// AddTracks fingerprints files concurrently on at most Workers goroutines.
// Tracks are registered in the order of paths, which fixes the orientation
// of reported matches. On error none of the tracks stays in the store.
func (s *chromaService) AddTracks(ctx context.Context, paths []string) ([]*models.Track, error) {
	tracks := make([]*models.Track, len(paths))
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("failed to read audio file: %s is a directory", p)
		}
		tracks[i] = models.NewTrack(trackName(p), p)
	}

	for i, track := range tracks {
		if err := s.register(track); err != nil {
			s.discard(tracks[:i+1])
			return nil, err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for _, track := range tracks {
		track := track
		g.Go(func() error {
			s.log.Debugf("Processing track: %s", track.Path)
			return s.generate(ctx, track)
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(tracks)
		return nil, err
	}
	return tracks, nil
}

func (s *chromaService) discard(tracks []*models.Track) {
	for _, track := range tracks {
		s.log.Debugf("Discarding track: %s", track)
		s.store.Discard(track)
		if r, ok := s.store.CollisionMap().(trackRegistrar); ok {
			if err := r.DiscardTrack(track); err != nil {
				s.log.Warnf("%v", err)
			}
		}
	}
}

// AddSamples fingerprints mono samples held in memory.
func (s *chromaService) AddSamples(ctx context.Context, name string, samples []float64, sampleRate int) (*models.Track, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d Hz", fingerprint.ErrSampleRate, sampleRate)
	}
	track := models.NewTrack(name, "")
	track.Duration = time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	if err := s.register(track); err != nil {
		s.discard([]*models.Track{track})
		return nil, err
	}
	if err := s.gen.GenerateSamples(ctx, track, audio.NewSliceSource(samples, sampleRate)); err != nil {
		s.discard([]*models.Track{track})
		return nil, fmt.Errorf("fingerprinting %s: %w", track, err)
	}
	return track, nil
}

// Fingerprint computes the hash sequence of a file without storing it.
func (s *chromaService) Fingerprint(ctx context.Context, path string) ([]fingerprint.SubFingerprintHash, error) {
	src, err := s.openSource(ctx, path)
	if err != nil {
		return nil, err
	}
	chroma, err := fingerprint.NewChromaSource(src, s.config.Profile)
	if err != nil {
		src.Close()
		return nil, err
	}
	return fingerprint.Hashes(ctx, s.config.Profile, chroma)
}

// Query matches a file against the stored tracks without adding it.
func (s *chromaService) Query(ctx context.Context, path string) ([]matching.Match, error) {
	hashes, err := s.Fingerprint(ctx, path)
	if err != nil {
		return nil, err
	}
	query := models.NewTrack(trackName(path), path)
	matches, err := s.store.FindMatchesFromExternal(query, hashes)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Query %s: %d matches", query, len(matches))
	return matches, nil
}

func (s *chromaService) FindAllMatches(ctx context.Context) ([]matching.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.FindAllMatches(s.config.Progress)
}

func (s *chromaService) FindAllMatchingMatches(ctx context.Context) ([]matching.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.FindAllMatchingMatches(s.config.Progress)
}

// MatchPairs groups corroborated matches by track pair and reduces each
// pair with mode, per window when window is positive.
func (s *chromaService) MatchPairs(ctx context.Context, mode matching.FilterMode, window time.Duration) ([]*matching.MatchPair, error) {
	matches, err := s.FindAllMatchingMatches(ctx)
	if err != nil {
		return nil, err
	}
	pairs := matching.TrackPairs(s.store.Tracks())
	if left := matching.AssignMatches(pairs, matching.FilterDuplicateMatches(matches)); len(left) > 0 {
		s.log.Warnf("%d matches without a track pair", len(left))
	}
	for _, p := range pairs {
		if window > 0 {
			p.Matches = matching.WindowFilter(p.Matches, mode, window)
		} else {
			p.Matches = matching.Filter(p.Matches, mode)
		}
	}
	return pairs, nil
}

func (s *chromaService) Tracks() []*models.Track { return s.store.Tracks() }

func (s *chromaService) Store() *matching.FingerprintStore { return s.store }

// Close releases the collision map and the work directory.
func (s *chromaService) Close() error {
	return errors.Join(s.store.Close(), os.RemoveAll(s.workDir))
}
