package fingerprint

import (
	"fmt"
	"math/bits"
)

// SubFingerprintHash is the 32-bit code produced for one hop of audio.
type SubFingerprintHash uint32

// HammingDistance returns the number of differing bits between h and o.
func (h SubFingerprintHash) HammingDistance(o SubFingerprintHash) int {
	return bits.OnesCount32(uint32(h ^ o))
}

// IsSilent reports whether the hash is the all-zero code that silent or
// constant audio produces.
func (h SubFingerprintHash) IsSilent() bool { return h == 0 }

// Variations returns the 32 hashes that differ from h in exactly one bit.
func (h SubFingerprintHash) Variations() []SubFingerprintHash {
	out := make([]SubFingerprintHash, 32)
	for i := range out {
		out[i] = h ^ (1 << uint(i))
	}
	return out
}

func (h SubFingerprintHash) String() string {
	return fmt.Sprintf("%08x", uint32(h))
}

// SubFingerprint is a hash located at a hop index within a track.
type SubFingerprint struct {
	Index int
	Hash  SubFingerprintHash
	// Variation marks derived hashes that are indexed for lookup but are not
	// part of the track's own hash sequence.
	Variation bool
}
