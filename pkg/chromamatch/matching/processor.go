package matching

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

var ErrTrackLocked = errors.New("track is locked")

// FilterMode picks representatives out of a set of matches.
type FilterMode int

const (
	FilterNone  FilterMode = iota // keep everything
	FilterBest                    // highest similarity
	FilterFirst                   // earliest in Track1
	FilterMid                     // middle one in Track1 order
	FilterLast                    // latest in Track1
)

func (m FilterMode) String() string {
	switch m {
	case FilterNone:
		return "none"
	case FilterBest:
		return "best"
	case FilterFirst:
		return "first"
	case FilterMid:
		return "mid"
	case FilterLast:
		return "last"
	}
	return fmt.Sprintf("filter(%d)", int(m))
}

func ParseFilterMode(s string) (FilterMode, error) {
	for m := FilterNone; m <= FilterLast; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return FilterNone, fmt.Errorf("unknown filter mode %q", s)
}

func sameTracks(a, b Match) (same, swapped bool) {
	if a.Track1 == b.Track1 && a.Track2 == b.Track2 {
		return true, false
	}
	if a.Track1 == b.Track2 && a.Track2 == b.Track1 {
		return true, true
	}
	return false, false
}

// FilterDuplicateMatches drops matches that connect the same two positions
// as an earlier match, in either orientation.
func FilterDuplicateMatches(matches []Match) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		dup := false
		for _, o := range out {
			same, swapped := sameTracks(m, o)
			if !same {
				continue
			}
			if !swapped && m.Track1Time == o.Track1Time && m.Track2Time == o.Track2Time ||
				swapped && m.Track1Time == o.Track2Time && m.Track2Time == o.Track1Time {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

// TrackPairs returns an empty pair for every combination of tracks.
func TrackPairs(tracks []*models.Track) []*MatchPair {
	var pairs []*MatchPair
	for i := 0; i < len(tracks); i++ {
		for j := i + 1; j < len(tracks); j++ {
			pairs = append(pairs, &MatchPair{Track1: tracks[i], Track2: tracks[j]})
		}
	}
	return pairs
}

// AssignMatches distributes matches onto the pairs of their tracks,
// reorienting them to the pair's track order. Matches without a pair are
// returned.
func AssignMatches(pairs []*MatchPair, matches []Match) []Match {
	var unassigned []Match
	for _, m := range matches {
		assigned := false
		for _, p := range pairs {
			same, swapped := sameTracks(m, Match{Track1: p.Track1, Track2: p.Track2})
			if !same {
				continue
			}
			if swapped {
				m.SwapTracks()
			}
			p.Matches = append(p.Matches, m)
			assigned = true
			break
		}
		if !assigned {
			unassigned = append(unassigned, m)
		}
	}
	return unassigned
}

// Filter reduces matches according to mode. Except for FilterNone the result
// holds at most one match.
func Filter(matches []Match, mode FilterMode) []Match {
	if len(matches) == 0 || mode == FilterNone {
		return slices.Clone(matches)
	}
	if mode == FilterBest {
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Similarity > best.Similarity {
				best = m
			}
		}
		return []Match{best}
	}

	sorted := slices.Clone(matches)
	slices.SortStableFunc(sorted, func(a, b Match) int { return cmp.Compare(a.Track1Time, b.Track1Time) })
	switch mode {
	case FilterFirst:
		return sorted[:1]
	case FilterMid:
		return []Match{sorted[len(sorted)/2]}
	case FilterLast:
		return sorted[len(sorted)-1:]
	}
	return sorted
}

// WindowFilter splits matches into consecutive windows of the given length
// along Track1 and applies Filter to each window.
func WindowFilter(matches []Match, mode FilterMode, window time.Duration) []Match {
	if len(matches) == 0 || window <= 0 {
		return Filter(matches, mode)
	}
	sorted := slices.Clone(matches)
	slices.SortStableFunc(sorted, func(a, b Match) int { return cmp.Compare(a.Track1Time, b.Track1Time) })

	var out []Match
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i].Track1Time-sorted[start].Track1Time >= window {
			out = append(out, Filter(sorted[start:i], mode)...)
			start = i
		}
	}
	return out
}

// Align moves track on the shared timeline so that the match's offset
// becomes zero. The other track of the match stays in place.
func Align(m Match, track *models.Track) error {
	if track.Locked {
		return fmt.Errorf("%w: %s", ErrTrackLocked, track)
	}
	switch track {
	case m.Track1:
		track.Offset = m.Track2.Offset + m.Track2Time - m.Track1Time
	case m.Track2:
		track.Offset = m.Track1.Offset + m.Track1Time - m.Track2Time
	default:
		return fmt.Errorf("align: %s is not part of %s", track, m)
	}
	return nil
}
