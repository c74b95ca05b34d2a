package matching

import (
	"fmt"
	"time"

	"github.com/himanishpuri/ChromaMatch/pkg/models"
	"gonum.org/v1/gonum/stat"
)

// Match is a time-aligned correspondence between positions in two tracks.
type Match struct {
	Track1     *models.Track
	Track1Time time.Duration
	Track2     *models.Track
	Track2Time time.Duration
	Similarity float64 // 1 - BER
	Source     string  // algorithm tag, e.g. "FP-CP"
}

// Offset is the shift between both tracks implied by the match, taking the
// tracks' own timeline offsets into account.
func (m Match) Offset() time.Duration {
	return (m.Track1.Offset + m.Track1Time) - (m.Track2.Offset + m.Track2Time)
}

// SwapTracks exchanges the roles of both tracks.
func (m *Match) SwapTracks() {
	m.Track1, m.Track2 = m.Track2, m.Track1
	m.Track1Time, m.Track2Time = m.Track2Time, m.Track1Time
}

func (m Match) String() string {
	return fmt.Sprintf("Match {%s @ %s <-> %s @ %s, similarity %.4f, offset %s, %s}",
		m.Track1, m.Track1Time, m.Track2, m.Track2Time, m.Similarity, m.Offset(), m.Source)
}

// MatchPair groups the matches found between two tracks.
type MatchPair struct {
	Track1  *models.Track
	Track2  *models.Track
	Matches []Match
}

func (p *MatchPair) AverageSimilarity() float64 {
	if len(p.Matches) == 0 {
		return 0
	}
	sims := make([]float64, len(p.Matches))
	for i, m := range p.Matches {
		sims[i] = m.Similarity
	}
	return stat.Mean(sims, nil)
}

func (p *MatchPair) String() string {
	return fmt.Sprintf("%s <-> %s: %d matches, avg similarity %.4f",
		p.Track1, p.Track2, len(p.Matches), p.AverageSimilarity())
}
