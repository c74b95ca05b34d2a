package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/matching"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

// key layout: hash (4 bytes BE) | sequence (8 bytes BE)
// value layout: track number (4 bytes BE) | index (8 bytes BE)
const (
	keyLen   = 4 + 8
	valueLen = 4 + 8
)

// BadgerCollisionMap keeps the collision index in a badger key-value store.
// Keys sort by hash and then by insertion sequence, so a prefix scan returns
// the entries of one hash in insertion order.
type BadgerCollisionMap struct {
	db *badger.DB

	mu      sync.Mutex
	wb      *badger.WriteBatch
	pending int
	seq     uint64
	numbers map[*models.Track]uint32
	tracks  []*models.Track
	closed  bool
}

var _ matching.CollisionMap = (*BadgerCollisionMap)(nil)

// NewBadgerCollisionMap opens a map in dir. An empty dir keeps everything in
// memory. Existing data in dir is dropped.
func NewBadgerCollisionMap(dir string) (*BadgerCollisionMap, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	if err := db.DropAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("badger drop stale data: %w", err)
	}
	return &BadgerCollisionMap{
		db:      db,
		wb:      db.NewWriteBatch(),
		numbers: make(map[*models.Track]uint32),
	}, nil
}

func (c *BadgerCollisionMap) number(track *models.Track) uint32 {
	if n, ok := c.numbers[track]; ok {
		return n
	}
	n := uint32(len(c.tracks))
	c.numbers[track] = n
	c.tracks = append(c.tracks, track)
	return n
}

func (c *BadgerCollisionMap) Add(hash fingerprint.SubFingerprintHash, entry matching.LookupEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	key := make([]byte, keyLen)
	binary.BigEndian.PutUint32(key, uint32(hash))
	binary.BigEndian.PutUint64(key[4:], c.seq)
	c.seq++

	val := make([]byte, valueLen)
	binary.BigEndian.PutUint32(val, c.number(entry.Track))
	binary.BigEndian.PutUint64(val[4:], uint64(entry.Index))

	if err := c.wb.Set(key, val); err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	c.pending++
	if c.pending >= flushSize {
		return c.flush()
	}
	return nil
}

// flush commits the write batch and starts a new one. Callers hold mu.
func (c *BadgerCollisionMap) flush() error {
	if c.pending == 0 {
		return nil
	}
	if err := c.wb.Flush(); err != nil {
		return fmt.Errorf("badger flush: %w", err)
	}
	c.wb = c.db.NewWriteBatch()
	c.pending = 0
	return nil
}

func (c *BadgerCollisionMap) GetCollidingKeys() ([]fingerprint.SubFingerprintHash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	var keys []fingerprint.SubFingerprintHash
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var (
			current uint32
			count   int
		)
		for it.Rewind(); it.Valid(); it.Next() {
			h := binary.BigEndian.Uint32(it.Item().Key())
			if count > 0 && h == current {
				count++
				if count == 2 {
					keys = append(keys, fingerprint.SubFingerprintHash(h))
				}
				continue
			}
			current, count = h, 1
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan keys: %w", err)
	}
	return keys, nil
}

func (c *BadgerCollisionMap) GetValues(hash fingerprint.SubFingerprintHash) ([]matching.LookupEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(hash))

	var out []matching.LookupEntry
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				if len(val) != valueLen {
					return fmt.Errorf("corrupt entry of %d bytes", len(val))
				}
				n := binary.BigEndian.Uint32(val)
				if int(n) >= len(c.tracks) {
					return fmt.Errorf("entry references unknown track %d", n)
				}
				out = append(out, matching.LookupEntry{
					Track: c.tracks[n],
					Index: int(binary.BigEndian.Uint64(val[4:])),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger read %v: %w", hash, err)
	}
	return out, nil
}

// Close discards the stored data and closes the database.
func (c *BadgerCollisionMap) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.wb.Cancel()
	dropErr := c.db.DropAll()
	return errors.Join(dropErr, c.db.Close())
}
