package matching

import (
	"errors"
	"testing"
	"time"

	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

func match(t1, t2 *models.Track, at1, at2 time.Duration, sim float64) Match {
	return Match{Track1: t1, Track1Time: at1, Track2: t2, Track2Time: at2, Similarity: sim, Source: DefaultSource}
}

func TestMatchOffsetAndSwap(t *testing.T) {
	a := models.NewTrack("a", "")
	b := models.NewTrack("b", "")
	b.Offset = 2 * time.Second

	m := match(a, b, 10*time.Second, 3*time.Second, 0.9)
	if got := m.Offset(); got != 5*time.Second {
		t.Errorf("Offset = %v, want 5s", got)
	}
	m.SwapTracks()
	if m.Track1 != b || m.Offset() != -5*time.Second {
		t.Errorf("after swap: %v", m)
	}
}

func TestFilterDuplicateMatches(t *testing.T) {
	a := models.NewTrack("a", "")
	b := models.NewTrack("b", "")
	in := []Match{
		match(a, b, time.Second, 2*time.Second, 0.9),
		match(b, a, 2*time.Second, time.Second, 0.8), // same pair of positions, swapped
		match(a, b, time.Second, 3*time.Second, 0.7),
	}
	out := FilterDuplicateMatches(in)
	if len(out) != 2 || out[0].Similarity != 0.9 || out[1].Similarity != 0.7 {
		t.Errorf("got %v", out)
	}
}

func TestAssignMatches(t *testing.T) {
	a, b, c := models.NewTrack("a", ""), models.NewTrack("b", ""), models.NewTrack("c", "")
	pairs := TrackPairs([]*models.Track{a, b, c})
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs, want 3", len(pairs))
	}

	stray := match(a, models.NewTrack("d", ""), 0, 0, 1)
	left := AssignMatches(pairs, []Match{
		match(b, a, time.Second, 0, 0.6),
		match(a, b, 2*time.Second, 0, 0.8),
		match(c, b, 0, 0, 0.5),
		stray,
	})
	if len(left) != 1 || left[0].Track2 != stray.Track2 {
		t.Errorf("unassigned = %v", left)
	}

	ab := pairs[0]
	if len(ab.Matches) != 2 || ab.Matches[0].Track1 != a {
		t.Fatalf("pair a-b holds %v", ab.Matches)
	}
	if got := ab.AverageSimilarity(); got < 0.7-1e-9 || got > 0.7+1e-9 {
		t.Errorf("AverageSimilarity = %v, want 0.7", got)
	}
	if bc := pairs[2]; len(bc.Matches) != 1 || bc.Matches[0].Track1 != b {
		t.Errorf("pair b-c holds %v", bc.Matches)
	}
}

func TestFilterModes(t *testing.T) {
	a, b := models.NewTrack("a", ""), models.NewTrack("b", "")
	in := []Match{
		match(a, b, 3*time.Second, 0, 0.6),
		match(a, b, 1*time.Second, 0, 0.9),
		match(a, b, 2*time.Second, 0, 0.7),
	}
	tests := []struct {
		mode FilterMode
		want time.Duration
	}{
		{FilterBest, time.Second},
		{FilterFirst, time.Second},
		{FilterMid, 2 * time.Second},
		{FilterLast, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			got := Filter(in, tt.mode)
			if len(got) != 1 || got[0].Track1Time != tt.want {
				t.Errorf("Filter(%v) = %v", tt.mode, got)
			}
		})
	}
	if got := Filter(in, FilterNone); len(got) != 3 {
		t.Errorf("FilterNone dropped matches")
	}
	if got := Filter(nil, FilterBest); len(got) != 0 {
		t.Errorf("Filter on empty input returned %v", got)
	}
	if m, err := ParseFilterMode("MID"); err != nil || m != FilterMid {
		t.Errorf("ParseFilterMode(MID) = %v, %v", m, err)
	}
}

func TestWindowFilter(t *testing.T) {
	a, b := models.NewTrack("a", ""), models.NewTrack("b", "")
	var in []Match
	for s := 0; s < 25; s++ {
		in = append(in, match(a, b, time.Duration(s)*time.Second, 0, float64(s%10)/10))
	}
	out := WindowFilter(in, FilterBest, 10*time.Second)
	if len(out) != 3 {
		t.Fatalf("got %d matches, want one per 10s window", len(out))
	}
	for i, want := range []time.Duration{9 * time.Second, 19 * time.Second, 24 * time.Second} {
		if out[i].Track1Time != want {
			t.Errorf("window %d picked %v, want %v", i, out[i].Track1Time, want)
		}
	}
}

func TestAlign(t *testing.T) {
	a, b := models.NewTrack("a", ""), models.NewTrack("b", "")
	m := match(a, b, 10*time.Second, 4*time.Second, 1)

	if err := Align(m, b); err != nil {
		t.Fatal(err)
	}
	if b.Offset != 6*time.Second || m.Offset() != 0 {
		t.Errorf("b.Offset = %v, match offset %v", b.Offset, m.Offset())
	}

	a.Locked = true
	if err := Align(m, a); !errors.Is(err, ErrTrackLocked) {
		t.Errorf("err = %v, want ErrTrackLocked", err)
	}
	if err := Align(m, models.NewTrack("c", "")); err == nil {
		t.Error("aligning an unrelated track succeeded")
	}
}
