package fingerprint

import (
	"errors"
	"fmt"
)

var (
	ErrLengthMismatch = errors.New("fingerprint lengths differ")
	ErrInvalidRange   = errors.New("fingerprint range out of bounds")
)

// Fingerprint is a contiguous run of sub-fingerprint hashes. It is a view: the
// backing array is shared with the sequence it was cut from.
type Fingerprint []SubFingerprintHash

// NewFingerprint returns the window hashes[offset : offset+length].
func NewFingerprint(hashes []SubFingerprintHash, offset, length int) (Fingerprint, error) {
	if offset < 0 || length < 0 || offset+length > len(hashes) {
		return nil, fmt.Errorf("%w: offset=%d length=%d available=%d",
			ErrInvalidRange, offset, length, len(hashes))
	}
	return Fingerprint(hashes[offset : offset+length : offset+length]), nil
}

// Difference returns the XOR of both fingerprints, element by element.
func (f Fingerprint) Difference(o Fingerprint) (Fingerprint, error) {
	if len(f) != len(o) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(f), len(o))
	}
	diff := make(Fingerprint, len(f))
	for i := range f {
		diff[i] = f[i] ^ o[i]
	}
	return diff, nil
}

// BitErrors counts the differing bits between both fingerprints.
func (f Fingerprint) BitErrors(o Fingerprint) (int, error) {
	if len(f) != len(o) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(f), len(o))
	}
	errs := 0
	for i := range f {
		errs += f[i].HammingDistance(o[i])
	}
	return errs, nil
}

// HasSilence reports whether any hash in the fingerprint is the zero code.
func (f Fingerprint) HasSilence() bool {
	for _, h := range f {
		if h == 0 {
			return true
		}
	}
	return false
}

// CalculateBER returns the bit error rate between two equal-length
// fingerprints, in [0, 1]. Empty fingerprints compare as identical.
func CalculateBER(a, b Fingerprint) (float64, error) {
	errs, err := a.BitErrors(b)
	if err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 0, nil
	}
	return float64(errs) / float64(len(a)*32), nil
}
