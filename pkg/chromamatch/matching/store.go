package matching

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

const (
	DefaultFingerprintSize = 256
	DefaultThreshold       = 0.45
	DefaultSource          = "FP-CP"

	progressInterval = 1000
)

var (
	ErrUnknownTrack  = errors.New("track not in store")
	ErrTrackTooShort = errors.New("track shorter than fingerprint size")
	ErrOutOfOrder    = errors.New("sub-fingerprint index out of order")
	ErrDiscarded     = errors.New("track was discarded")
)

// ProgressFunc receives the number of processed and total colliding keys.
type ProgressFunc func(done, total int)

// FingerprintStore holds the hash sequences of many tracks together with a
// CollisionMap over them and searches it for aligned matches.
type FingerprintStore struct {
	timeScale      float64
	size           int
	threshold      float64
	source         string
	suppressSilent bool
	cluster        ClusterOptions
	cmap           CollisionMap
	log            fingerprint.Logger

	mu        sync.RWMutex
	tracks    []*models.Track
	next      int
	order     map[*models.Track]int
	hashes    map[*models.Track][]fingerprint.SubFingerprintHash
	discarded map[*models.Track]struct{}
}

type StoreOption func(*FingerprintStore)

func WithCollisionMap(m CollisionMap) StoreOption {
	return func(s *FingerprintStore) { s.cmap = m }
}

func WithFingerprintSize(n int) StoreOption {
	return func(s *FingerprintStore) { s.size = n }
}

func WithThreshold(ber float64) StoreOption {
	return func(s *FingerprintStore) { s.threshold = ber }
}

func WithSource(name string) StoreOption {
	return func(s *FingerprintStore) { s.source = name }
}

func WithClusterOptions(o ClusterOptions) StoreOption {
	return func(s *FingerprintStore) { s.cluster = o }
}

// WithSuppressSilentCollisions controls whether zero hashes are indexed.
// They stay part of the track sequence either way.
func WithSuppressSilentCollisions(suppress bool) StoreOption {
	return func(s *FingerprintStore) { s.suppressSilent = suppress }
}

func WithLogger(l fingerprint.Logger) StoreOption {
	return func(s *FingerprintStore) {
		if l != nil {
			s.log = l
		}
	}
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

func NewFingerprintStore(p fingerprint.Profile, opts ...StoreOption) (*FingerprintStore, error) {
	s := &FingerprintStore{
		timeScale:      p.HashTimeScale(),
		size:           DefaultFingerprintSize,
		threshold:      DefaultThreshold,
		source:         DefaultSource,
		suppressSilent: true,
		cluster:        DefaultClusterOptions(),
		log:            nopLogger{},
		order:          make(map[*models.Track]int),
		hashes:         make(map[*models.Track][]fingerprint.SubFingerprintHash),
		discarded:      make(map[*models.Track]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cmap == nil {
		s.cmap = NewMemoryCollisionMap()
	}
	switch {
	case p.SamplingRate <= 0 || p.HopSize <= 0:
		return nil, fmt.Errorf("fingerprint store: %w", fingerprint.ErrInvalidProfile)
	case s.size < 1:
		return nil, fmt.Errorf("fingerprint store: fingerprint size must be >= 1, got %d", s.size)
	case s.threshold <= 0 || s.threshold > 1:
		return nil, fmt.Errorf("fingerprint store: threshold must be in (0, 1], got %v", s.threshold)
	case s.cluster.OffsetTolerance < 0 || s.cluster.MaxGap < 0:
		return nil, fmt.Errorf("fingerprint store: negative cluster distances")
	}
	return s, nil
}

func (s *FingerprintStore) FingerprintSize() int { return s.size }
func (s *FingerprintStore) Threshold() float64 { return s.threshold }
func (s *FingerprintStore) CollisionMap() CollisionMap { return s.cmap }
func (s *FingerprintStore) Close() error { return s.cmap.Close() }

// IndexToDuration converts a sub-fingerprint index into a track position.
func (s *FingerprintStore) IndexToDuration(index int) time.Duration {
	return time.Duration(math.Round(float64(index) * s.timeScale * float64(time.Second)))
}

// Tracks returns the tracks in registration order.
func (s *FingerprintStore) Tracks() []*models.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tracks)
}

// Hashes returns a copy of a track's hash sequence.
func (s *FingerprintStore) Hashes(track *models.Track) ([]fingerprint.SubFingerprintHash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[track]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrack, track)
	}
	return slices.Clone(h), nil
}

// Register fixes the position of track in the registration order before
// any of its hashes arrive. Add registers unknown tracks itself.
func (s *FingerprintStore) Register(track *models.Track) {
	s.mu.Lock()
	s.register(track)
	s.mu.Unlock()
}

func (s *FingerprintStore) register(track *models.Track) {
	if _, ok := s.order[track]; !ok && !s.isDiscarded(track) {
		s.order[track] = s.next
		s.next++
		s.tracks = append(s.tracks, track)
		s.hashes[track] = nil
	}
}

// Discard withdraws track from the store. The collision map is append-only,
// so its entries stay indexed but every search skips them. Adding to a
// discarded track fails with ErrDiscarded.
func (s *FingerprintStore) Discard(track *models.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.order[track]; ok {
		delete(s.order, track)
		delete(s.hashes, track)
		s.tracks = slices.DeleteFunc(s.tracks, func(t *models.Track) bool { return t == track })
	}
	s.discarded[track] = struct{}{}
}

func (s *FingerprintStore) isDiscarded(track *models.Track) bool {
	_, ok := s.discarded[track]
	return ok
}

// Add appends sub-fingerprints of track and indexes them. Batches of one
// track must arrive in index order; batches of different tracks may be
// added concurrently.
func (s *FingerprintStore) Add(track *models.Track, sfps []fingerprint.SubFingerprint) error {
	s.mu.Lock()
	if s.isDiscarded(track) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDiscarded, track)
	}
	s.register(track)
	seq := s.hashes[track]
	for _, sf := range sfps {
		if sf.Variation {
			continue
		}
		if sf.Index != len(seq) {
			s.hashes[track] = seq
			s.mu.Unlock()
			return fmt.Errorf("%w: %s expected index %d, got %d", ErrOutOfOrder, track, len(seq), sf.Index)
		}
		seq = append(seq, sf.Hash)
	}
	s.hashes[track] = seq
	s.mu.Unlock()

	for _, sf := range sfps {
		if s.suppressSilent && sf.Hash.IsSilent() {
			continue
		}
		if err := s.cmap.Add(sf.Hash, LookupEntry{Track: track, Index: sf.Index}); err != nil {
			return fmt.Errorf("indexing %s #%d: %w", track, sf.Index, err)
		}
	}
	return nil
}

// AddBatch is Add for a generator batch; it can be passed directly as a
// fingerprint.BatchHandler.
func (s *FingerprintStore) AddBatch(b fingerprint.Batch) error {
	return s.Add(b.Track, b.SubFingerprints)
}

// window returns the fingerprint starting at index, or false when the track
// does not hold enough hashes after it. Callers hold s.mu.
func (s *FingerprintStore) window(track *models.Track, index int) (fingerprint.Fingerprint, bool, error) {
	seq, ok := s.hashes[track]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownTrack, track)
	}
	if index < 0 || index+s.size > len(seq) {
		return nil, false, nil
	}
	fp, err := fingerprint.NewFingerprint(seq, index, s.size)
	return fp, err == nil, err
}

// score returns the BER of two fingerprint windows. Windows containing a
// silent hash count as entirely different.
func score(a, b fingerprint.Fingerprint) (float64, error) {
	if a.HasSilence() || b.HasSilence() {
		return 1, nil
	}
	return fingerprint.CalculateBER(a, b)
}

func (s *FingerprintStore) candidates(hash fingerprint.SubFingerprintHash) ([]candidate, error) {
	entries, err := s.cmap.GetValues(hash)
	if err != nil {
		return nil, fmt.Errorf("looking up %v: %w", hash, err)
	}
	return s.pairCandidates(hash, entries, entries, true)
}

// pairCandidates scores every cross-track pair of left and right entries.
// With triangular set left and right are the same list and each unordered
// pair is visited once.
func (s *FingerprintStore) pairCandidates(hash fingerprint.SubFingerprintHash, left, right []LookupEntry, triangular bool) ([]candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []candidate
	for x := range left {
		y0 := 0
		if triangular {
			y0 = x + 1
		}
		for y := y0; y < len(right); y++ {
			e1, e2 := left[x], right[y]
			if e1.Track == e2.Track || s.isDiscarded(e1.Track) || s.isDiscarded(e2.Track) {
				continue
			}
			fp1, ok1, err := s.window(e1.Track, e1.Index)
			if err != nil {
				return nil, err
			}
			fp2, ok2, err := s.window(e2.Track, e2.Index)
			if err != nil {
				return nil, err
			}
			if !ok1 || !ok2 {
				continue
			}
			ber, err := score(fp1, fp2)
			if err != nil {
				return nil, err
			}
			if ber >= s.threshold {
				continue
			}
			if s.order[e1.Track] > s.order[e2.Track] {
				e1, e2 = e2, e1
			}
			out = append(out, candidate{e1: e1, e2: e2, ber: ber, hash: hash})
		}
	}
	return out, nil
}

func (s *FingerprintStore) toMatch(c candidate) Match {
	return Match{
		Track1:     c.e1.Track,
		Track1Time: s.IndexToDuration(c.e1.Index),
		Track2:     c.e2.Track,
		Track2Time: s.IndexToDuration(c.e2.Index),
		Similarity: 1 - c.ber,
		Source:     s.source,
	}
}

// FindMatches returns every cross-track occurrence pair of hash whose
// surrounding fingerprints are closer than the threshold. No clustering is
// applied.
func (s *FingerprintStore) FindMatches(hash fingerprint.SubFingerprintHash) ([]Match, error) {
	cands, err := s.candidates(hash)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, len(cands))
	for i, c := range cands {
		matches[i] = s.toMatch(c)
	}
	return matches, nil
}

// FindSoftMatches is FindMatches that tolerates a single bit error in the
// seed: when the exact hash yields nothing, its occurrences are paired with
// the occurrences of each of its 32 one-bit variations.
func (s *FingerprintStore) FindSoftMatches(hash fingerprint.SubFingerprintHash) ([]Match, error) {
	matches, err := s.FindMatches(hash)
	if err != nil || len(matches) > 0 {
		return matches, err
	}
	base, err := s.cmap.GetValues(hash)
	if err != nil {
		return nil, fmt.Errorf("looking up %v: %w", hash, err)
	}
	if len(base) == 0 {
		return nil, nil
	}
	for _, v := range hash.Variations() {
		entries, err := s.cmap.GetValues(v)
		if err != nil {
			return nil, fmt.Errorf("looking up %v: %w", v, err)
		}
		cands, err := s.pairCandidates(hash, base, entries, false)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			matches = append(matches, s.toMatch(c))
		}
	}
	return matches, nil
}

// FindAllMatches searches all colliding hashes and returns one match per
// cluster of contiguous candidates.
func (s *FingerprintStore) FindAllMatches(progress ProgressFunc) ([]Match, error) {
	return s.findAll(progress, 1)
}

// FindAllMatchingMatches is FindAllMatches restricted to clusters backed by
// at least ClusterOptions.MinCorroboration distinct hashes.
func (s *FingerprintStore) FindAllMatchingMatches(progress ProgressFunc) ([]Match, error) {
	return s.findAll(progress, max(s.cluster.MinCorroboration, 2))
}

func (s *FingerprintStore) findAll(progress ProgressFunc, minHashes int) ([]Match, error) {
	keys, err := s.cmap.GetCollidingKeys()
	if err != nil {
		return nil, fmt.Errorf("listing colliding keys: %w", err)
	}

	var cands []candidate
	for i, key := range keys {
		if progress != nil && i%progressInterval == 0 {
			progress(i, len(keys))
		}
		if key.IsSilent() {
			continue
		}
		c, err := s.candidates(key)
		if err != nil {
			return nil, err
		}
		cands = append(cands, c...)
	}
	if progress != nil {
		progress(len(keys), len(keys))
	}

	opts := s.cluster
	if opts.MaxGap == 0 {
		opts.MaxGap = s.size
	}
	clusters := clusterCandidates(cands, opts)
	matches := make([]Match, 0, len(clusters))
	for _, cl := range clusters {
		if len(cl.hashes) < minHashes {
			continue
		}
		matches = append(matches, s.toMatch(cl.best))
	}

	s.mu.RLock()
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(s.order[a.Track1], s.order[b.Track1]); c != 0 {
			return c
		}
		if c := cmp.Compare(s.order[a.Track2], s.order[b.Track2]); c != 0 {
			return c
		}
		return cmp.Compare(a.Track1Time, b.Track1Time)
	})
	s.mu.RUnlock()

	s.log.Infof("searched %s colliding hashes: %s candidates, %s clusters, %s matches",
		humanize.Comma(int64(len(keys))), humanize.Comma(int64(len(cands))),
		humanize.Comma(int64(len(clusters))), humanize.Comma(int64(len(matches))))
	return matches, nil
}

// GetFingerprint returns the fingerprint starting at entry. Near the end of
// the track the window is shifted left so that it keeps its full size.
func (s *FingerprintStore) GetFingerprint(entry LookupEntry) (fingerprint.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.hashes[entry.Track]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrack, entry.Track)
	}
	if len(seq) < s.size {
		return nil, fmt.Errorf("%w: %s has %d hashes, need %d", ErrTrackTooShort, entry.Track, len(seq), s.size)
	}
	index := min(max(entry.Index, 0), len(seq)-s.size)
	return fingerprint.NewFingerprint(seq, index, s.size)
}

// FindMatchesFromExternal matches a hash sequence that is not part of the
// store against all stored tracks. Track1 of every match is the stored
// track and Track2 the query, so Offset is the query's position in the
// stored track. Windows that would overrun either sequence are shifted left
// by the same amount, preserving the offset.
func (s *FingerprintStore) FindMatchesFromExternal(track *models.Track, hashes []fingerprint.SubFingerprintHash) ([]Match, error) {
	if len(hashes) < s.size {
		return nil, fmt.Errorf("%w: query has %d hashes, need %d", ErrTrackTooShort, len(hashes), s.size)
	}

	var matches []Match
	for i, hash := range hashes {
		if s.suppressSilent && hash.IsSilent() {
			continue
		}
		entries, err := s.cmap.GetValues(hash)
		if err != nil {
			return nil, fmt.Errorf("looking up %v: %w", hash, err)
		}

		s.mu.RLock()
		for _, e := range entries {
			if e.Track == track {
				continue
			}
			seq, ok := s.hashes[e.Track]
			if !ok || len(seq) < s.size {
				continue
			}
			overrun := max(i+s.size-len(hashes), e.Index+s.size-len(seq), 0)
			i1, i2 := i-overrun, e.Index-overrun
			if i1 < 0 || i2 < 0 {
				continue
			}
			ber, err := score(hashes[i1:i1+s.size], seq[i2:i2+s.size])
			if err != nil {
				s.mu.RUnlock()
				return nil, err
			}
			if ber < s.threshold {
				matches = append(matches, Match{
					Track1:     e.Track,
					Track1Time: s.IndexToDuration(i2),
					Track2:     track,
					Track2Time: s.IndexToDuration(i1),
					Similarity: 1 - ber,
					Source:     s.source,
				})
			}
		}
		s.mu.RUnlock()
	}
	return matches, nil
}
