package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "chromamatch.sqlite3"

// flushSize is the number of buffered entries written per insert round.
const flushSize = 1000

var errClosed = errors.New("collision map is closed")

// TrackRow describes a track that contributed entries to the map.
type TrackRow struct {
	Number     uint   `gorm:"primaryKey"`
	ID         string `gorm:"type:varchar(36);uniqueIndex:idx_track_uuid" json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  time.Time
}

func (TrackRow) TableName() string { return "tracks" }

// EntryRow is one occurrence of a hash.
type EntryRow struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	Hash  uint32 `gorm:"index:idx_hash"`
	Track uint   `gorm:"index:idx_track"`
	Index int    `gorm:"column:idx"`
}

func (EntryRow) TableName() string { return "entries" }

// SQLiteCollisionMap spills the collision index to an SQLite file. The file
// is emptied when the map is opened and its tables are dropped on Close.
type SQLiteCollisionMap struct {
	DB *gorm.DB
	db *sql.DB

	mu      sync.Mutex
	buf     []EntryRow
	numbers map[*models.Track]uint
	tracks  map[uint]*models.Track
	closed  bool
}

var _ matching.CollisionMap = (*SQLiteCollisionMap)(nil)

func NewSQLiteCollisionMap(dbPath string) (*SQLiteCollisionMap, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// writes are serialised by the buffer lock
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.Migrator().DropTable(&EntryRow{}, &TrackRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("dropping stale tables: %w", err)
	}
	if err := db.AutoMigrate(&TrackRow{}, &EntryRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteCollisionMap{
		DB:      db,
		db:      sqlDB,
		buf:     make([]EntryRow, 0, flushSize),
		numbers: make(map[*models.Track]uint),
		tracks:  make(map[uint]*models.Track),
	}, nil
}

// register assigns a number to track, recording it in the tracks table on
// first sight. Callers hold mu.
func (c *SQLiteCollisionMap) register(track *models.Track) (uint, error) {
	if n, ok := c.numbers[track]; ok {
		return n, nil
	}
	row := TrackRow{
		Number:     uint(len(c.numbers) + 1),
		ID:         track.ID,
		Name:       track.Name,
		Path:       track.Path,
		DurationMs: track.Duration.Milliseconds(),
	}
	if err := c.DB.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("registering track %s: %w", track, err)
	}
	c.numbers[track] = row.Number
	c.tracks[row.Number] = track
	return row.Number, nil
}

// RegisterTrack records track in the tracks table before any of its
// entries arrive.
func (c *SQLiteCollisionMap) RegisterTrack(track *models.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	_, err := c.register(track)
	return err
}

// DiscardTrack removes track from the tracks table. Its entries stay in
// place for the append-only index.
func (c *SQLiteCollisionMap) DiscardTrack(track *models.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	n, ok := c.numbers[track]
	if !ok {
		return nil
	}
	if err := c.DB.Delete(&TrackRow{}, n).Error; err != nil {
		return fmt.Errorf("discarding track %s: %w", track, err)
	}
	return nil
}

func (c *SQLiteCollisionMap) Add(hash fingerprint.SubFingerprintHash, entry matching.LookupEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	n, err := c.register(entry.Track)
	if err != nil {
		return err
	}
	c.buf = append(c.buf, EntryRow{Hash: uint32(hash), Track: n, Index: entry.Index})
	if len(c.buf) >= flushSize {
		return c.flush()
	}
	return nil
}

func (c *SQLiteCollisionMap) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	if err := c.DB.CreateInBatches(c.buf, 500).Error; err != nil {
		return fmt.Errorf("batch insert entries: %w", err)
	}
	c.buf = c.buf[:0]
	return nil
}

func (c *SQLiteCollisionMap) GetCollidingKeys() ([]fingerprint.SubFingerprintHash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	var hashes []uint32
	err := c.DB.Model(&EntryRow{}).
		Group("hash").
		Having("COUNT(*) > 1").
		Order("hash").
		Pluck("hash", &hashes).Error
	if err != nil {
		return nil, fmt.Errorf("querying colliding keys: %w", err)
	}
	keys := make([]fingerprint.SubFingerprintHash, len(hashes))
	for i, h := range hashes {
		keys[i] = fingerprint.SubFingerprintHash(h)
	}
	return keys, nil
}

func (c *SQLiteCollisionMap) GetValues(hash fingerprint.SubFingerprintHash) ([]matching.LookupEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	var rows []EntryRow
	if err := c.DB.Where("hash = ?", uint32(hash)).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	out := make([]matching.LookupEntry, 0, len(rows))
	for _, r := range rows {
		track, ok := c.tracks[r.Track]
		if !ok {
			return nil, fmt.Errorf("entry %d references unknown track %d", r.ID, r.Track)
		}
		out = append(out, matching.LookupEntry{Track: track, Index: r.Index})
	}
	return out, nil
}

// Tracks lists the recorded tracks in registration order.
func (c *SQLiteCollisionMap) Tracks() ([]TrackRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	var rows []TrackRow
	if err := c.DB.Order("number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying tracks: %w", err)
	}
	return rows, nil
}

// Close drops the tables and closes the database.
func (c *SQLiteCollisionMap) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.buf = nil
	dropErr := c.DB.Migrator().DropTable(&EntryRow{}, &TrackRow{})
	return errors.Join(dropErr, c.db.Close())
}
