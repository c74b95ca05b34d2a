package chromamatch

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

// StorageBackend selects where the collision map lives.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageSQLite StorageBackend = "sqlite"
	StorageBadger StorageBackend = "badger"
)

func ParseStorageBackend(s string) (StorageBackend, error) {
	switch b := StorageBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", StorageMemory:
		return StorageMemory, nil
	case StorageSQLite, StorageBadger:
		return b, nil
	}
	return "", fmt.Errorf("unknown storage backend %q (memory, sqlite, badger)", s)
}

// TrackProgressFunc receives the number of generated hashes of a track and
// the estimated total (-1 when unknown).
type TrackProgressFunc func(track *models.Track, done, total int)

type Config struct {
	// DBPath is the SQLite file or badger directory of a disk backend. Empty
	// places the SQLite file in TempDir and keeps badger in memory.
	DBPath          string
	TempDir         string
	Profile         fingerprint.Profile
	Workers         int
	Backend         StorageBackend
	CollisionMap    matching.CollisionMap
	Threshold       float64
	FingerprintSize int
	Convert         bool
	Logger          Logger
	Progress        matching.ProgressFunc
	TrackProgress   TrackProgressFunc
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithProfile(p fingerprint.Profile) Option {
	return func(c *Config) {
		c.Profile = p
	}
}

// WithWorkers bounds the number of tracks fingerprinted at once.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithStorageBackend(b StorageBackend) Option {
	return func(c *Config) {
		c.Backend = b
	}
}

// WithCollisionMap overrides the storage backend with a ready map. The
// service closes it.
func WithCollisionMap(m matching.CollisionMap) Option {
	return func(c *Config) {
		c.CollisionMap = m
	}
}

func WithThreshold(ber float64) Option {
	return func(c *Config) {
		c.Threshold = ber
	}
}

func WithFingerprintSize(n int) Option {
	return func(c *Config) {
		c.FingerprintSize = n
	}
}

// WithConversion enables ffmpeg conversion of inputs that are not mono WAV
// files at the profile's sampling rate.
func WithConversion(enabled bool) Option {
	return func(c *Config) {
		c.Convert = enabled
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithProgress reports the progress of the collision search.
func WithProgress(fn matching.ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

func WithTrackProgress(fn TrackProgressFunc) Option {
	return func(c *Config) {
		c.TrackProgress = fn
	}
}

func defaultConfig() *Config {
	return &Config{
		TempDir:         os.TempDir(),
		Profile:         fingerprint.DefaultProfile(),
		Workers:         runtime.NumCPU(),
		Backend:         StorageMemory,
		Threshold:       matching.DefaultThreshold,
		FingerprintSize: matching.DefaultFingerprintSize,
		Convert:         true,
	}
}
