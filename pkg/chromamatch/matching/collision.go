package matching

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/himanishpuri/ChromaMatch/pkg/chromamatch/fingerprint"
	"github.com/himanishpuri/ChromaMatch/pkg/models"
)

// LookupEntry locates one occurrence of a hash: the track and the
// sub-fingerprint index within it.
type LookupEntry struct {
	Track *models.Track
	Index int
}

// CollisionMap indexes hash occurrences across tracks. Add must be safe for
// concurrent use. Readers assume all writers have finished.
type CollisionMap interface {
	Add(hash fingerprint.SubFingerprintHash, entry LookupEntry) error
	// GetCollidingKeys returns every hash with at least two entries, in
	// ascending order.
	GetCollidingKeys() ([]fingerprint.SubFingerprintHash, error)
	// GetValues returns the entries of hash in insertion order.
	GetValues(hash fingerprint.SubFingerprintHash) ([]LookupEntry, error)
	Close() error
}

const defaultShards = 64

type shard struct {
	mu sync.Mutex
	m  map[fingerprint.SubFingerprintHash][]LookupEntry
}

// MemoryCollisionMap keeps the index in memory, split into independently
// locked shards so that tracks can be added from many goroutines.
type MemoryCollisionMap struct {
	shards []shard
}

func NewMemoryCollisionMap() *MemoryCollisionMap {
	return NewShardedCollisionMap(defaultShards)
}

func NewShardedCollisionMap(shards int) *MemoryCollisionMap {
	if shards < 1 {
		shards = 1
	}
	m := &MemoryCollisionMap{shards: make([]shard, shards)}
	for i := range m.shards {
		m.shards[i].m = make(map[fingerprint.SubFingerprintHash][]LookupEntry)
	}
	return m
}

func (m *MemoryCollisionMap) shardFor(hash fingerprint.SubFingerprintHash) *shard {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(hash))
	return &m.shards[xxhash.Checksum64(buf[:])%uint64(len(m.shards))]
}

func (m *MemoryCollisionMap) Add(hash fingerprint.SubFingerprintHash, entry LookupEntry) error {
	s := m.shardFor(hash)
	s.mu.Lock()
	s.m[hash] = append(s.m[hash], entry)
	s.mu.Unlock()
	return nil
}

func (m *MemoryCollisionMap) GetCollidingKeys() ([]fingerprint.SubFingerprintHash, error) {
	var keys []fingerprint.SubFingerprintHash
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if len(v) > 1 {
				keys = append(keys, k)
			}
		}
		s.mu.Unlock()
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryCollisionMap) GetValues(hash fingerprint.SubFingerprintHash) ([]LookupEntry, error) {
	s := m.shardFor(hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.m[hash]), nil
}

// Len returns the number of distinct hashes.
func (m *MemoryCollisionMap) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

func (m *MemoryCollisionMap) Close() error { return nil }
