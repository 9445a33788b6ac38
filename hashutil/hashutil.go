// Package hashutil implements the deterministic byte encoding and
// SHA-256 chaining every other package hashes entities with. All
// multi-byte integers are encoded little-endian; variable-length byte
// fields are concatenated with no length prefix, exactly as the wire
// pre-images require.
package hashutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Size is the length in bytes of a Hash.
const Size = sha256.Size

// Hash is a 32-byte SHA-256 digest. The zero Hash is the all-zeros
// sentinel used by the coinbase outpoint and the genesis previous-hash.
type Hash [Size]byte

// Sum256 hashes data once.
func Sum256(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// DoubleSum256 hashes data twice, the address derivation used throughout
// the system.
func DoubleSum256(data []byte) Hash {
	first := sha256.Sum256(data)
	return Hash(sha256.Sum256(first[:]))
}

// IsZero reports whether h is the all-zeros sentinel hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a fresh copy of h's bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, h[:])
	return out
}

// String renders h as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashFromBytes copies b into a Hash, left-padding is not performed:
// b must be exactly Size bytes.
func HashFromBytes(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != Size {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// MarshalJSON renders h as a lowercase-hex JSON string, the wire
// encoding every Message payload uses for hash fields.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses a lowercase-hex JSON string into h.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	parsed, err := HashFromHex(s)
	if err != nil {
		return fmt.Errorf("hashutil: %w", err)
	}
	*h = parsed
	return nil
}

// HashFromHex decodes a lowercase hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	h, ok := HashFromBytes(b)
	if !ok {
		return Hash{}, errBadLength
	}
	return h, nil
}

var errBadLength = hexLengthError{}

type hexLengthError struct{}

func (hexLengthError) Error() string { return "hashutil: decoded hex is not 32 bytes" }

// PutUint32LE appends the little-endian encoding of v to dst and returns
// the extended slice.
func PutUint32LE(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// PutUint64LE appends the little-endian encoding of v to dst and returns
// the extended slice.
func PutUint64LE(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// Uint32LE decodes a little-endian uint32 from the front of b.
func Uint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Uint64LE decodes a little-endian uint64 from the front of b.
func Uint64LE(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
