package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Track is an audio track taking part in matching. Identity is the ID; the
// fingerprinting pipeline never looks at anything else.
type Track struct {
	ID       string        // UUID
	Name     string        // display name, usually the file name
	Path     string        // source file, empty for in-memory tracks
	Duration time.Duration // zero when unknown

	// Offset is the track's position on a shared timeline. Alignment helpers
	// adjust it; match offsets are expressed relative to it.
	Offset time.Duration
	// Locked tracks are never moved by alignment.
	Locked bool
}

func NewTrack(name, path string) *Track {
	return &Track{ID: uuid.NewString(), Name: name, Path: path}
}

func (t *Track) String() string {
	if t == nil {
		return "<nil track>"
	}
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("track-%s", t.ID)
}
