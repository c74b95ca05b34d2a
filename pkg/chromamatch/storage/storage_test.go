package storage

import (
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

type backend struct {
	name string
	open func(t *testing.T) matching.CollisionMap
}

func backends() []backend {
	return []backend{
		{"sqlite", func(t *testing.T) matching.CollisionMap {
			t.Helper()
			m, err := NewSQLiteCollisionMap(filepath.Join(t.TempDir(), "sub", "entries.db"))
			if err != nil {
				t.Fatalf("open sqlite map: %v", err)
			}
			t.Cleanup(func() { m.Close() })
			return m
		}},
		{"badger-disk", func(t *testing.T) matching.CollisionMap {
			t.Helper()
			m, err := NewBadgerCollisionMap(t.TempDir())
			if err != nil {
				t.Fatalf("open badger map: %v", err)
			}
			t.Cleanup(func() { m.Close() })
			return m
		}},
		{"badger-memory", func(t *testing.T) matching.CollisionMap {
			t.Helper()
			m, err := NewBadgerCollisionMap("")
			if err != nil {
				t.Fatalf("open badger map: %v", err)
			}
			t.Cleanup(func() { m.Close() })
			return m
		}},
	}
}

func TestCollisionMapContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			m := b.open(t)
			t1 := models.NewTrack("one", "one.wav")
			t2 := models.NewTrack("two", "two.wav")

			// more entries than one flush round
			for i := 0; i < 2500; i++ {
				if err := m.Add(fingerprint.SubFingerprintHash(i+10), matching.LookupEntry{Track: t1, Index: i}); err != nil {
					t.Fatal(err)
				}
			}
			adds := []struct {
				hash  fingerprint.SubFingerprintHash
				track *models.Track
				index int
			}{
				{500, t2, 7},
				{20, t2, 1},
				{500, t2, 3},
				{1 << 31, t2, 4},
			}
			for _, a := range adds {
				if err := m.Add(a.hash, matching.LookupEntry{Track: a.track, Index: a.index}); err != nil {
					t.Fatal(err)
				}
			}

			keys, err := m.GetCollidingKeys()
			if err != nil {
				t.Fatal(err)
			}
			if want := []fingerprint.SubFingerprintHash{20, 500}; !slices.Equal(keys, want) {
				t.Errorf("colliding keys = %v, want %v", keys, want)
			}

			values, err := m.GetValues(500)
			if err != nil {
				t.Fatal(err)
			}
			want := []matching.LookupEntry{{Track: t1, Index: 490}, {Track: t2, Index: 7}, {Track: t2, Index: 3}}
			if !slices.Equal(values, want) {
				t.Errorf("values = %v, want %v", values, want)
			}

			if v, err := m.GetValues(1 << 31); err != nil || len(v) != 1 || v[0].Track != t2 {
				t.Errorf("high hash values = %v, %v", v, err)
			}
			if v, err := m.GetValues(5); err != nil || len(v) != 0 {
				t.Errorf("missing hash values = %v, %v", v, err)
			}
		})
	}
}

func TestCollisionMapConcurrentAdd(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			m := b.open(t)
			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				track := models.NewTrack("w", "")
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 600; i++ {
						if err := m.Add(fingerprint.SubFingerprintHash(i%50+1), matching.LookupEntry{Track: track, Index: i}); err != nil {
							t.Error(err)
							return
						}
					}
				}()
			}
			wg.Wait()

			keys, err := m.GetCollidingKeys()
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != 50 {
				t.Fatalf("got %d colliding keys, want 50", len(keys))
			}
			total := 0
			for _, k := range keys {
				v, err := m.GetValues(k)
				if err != nil {
					t.Fatal(err)
				}
				total += len(v)
			}
			if total != 4*600 {
				t.Errorf("stored %d entries, want %d", total, 4*600)
			}
		})
	}
}

func TestStoreOnDiskBackend(t *testing.T) {
	m, err := NewSQLiteCollisionMap(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := matching.NewFingerprintStore(fingerprint.DefaultProfile(),
		matching.WithCollisionMap(m), matching.WithFingerprintSize(16))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	hashes := make([]fingerprint.SubFingerprint, 64)
	for i := range hashes {
		hashes[i] = fingerprint.SubFingerprint{Index: i, Hash: fingerprint.SubFingerprintHash(i*7919 + 1)}
	}
	a := models.NewTrack("a", "")
	b := models.NewTrack("b", "")
	if err := s.Add(a, hashes); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(b, hashes); err != nil {
		t.Fatal(err)
	}

	matches, err := s.FindAllMatches(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Offset() != 0 || matches[0].Similarity != 1 {
		t.Fatalf("matches = %v", matches)
	}

	rows, err := m.Tracks()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != a.ID || rows[1].Name != "b" {
		t.Errorf("tracks table = %+v", rows)
	}
}

func TestSQLiteMapStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reuse.db")
	first, err := NewSQLiteCollisionMap(path)
	if err != nil {
		t.Fatal(err)
	}
	tr := models.NewTrack("t", "")
	first.Add(1, matching.LookupEntry{Track: tr})
	first.Add(1, matching.LookupEntry{Track: tr, Index: 1})
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := first.GetCollidingKeys(); err == nil {
		t.Error("closed map still answers queries")
	}

	second, err := NewSQLiteCollisionMap(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	keys, err := second.GetCollidingKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("reopened map holds %v", keys)
	}
}
