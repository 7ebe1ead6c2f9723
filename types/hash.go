package types

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HashSize is the size of a block or transaction identifier in bytes.
const HashSize = chainhash.HashSize

// Hash is a 32-byte block or transaction identifier.
// String formatting and parsing follow the usual reversed-hex convention.
type Hash = chainhash.Hash

// NewHashFromBytes converts a raw byte slice into a Hash.
// The slice must be exactly HashSize bytes long.
func NewHashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash length %d, want %d: %w", len(b), HashSize, ErrMalformed)
	}
	copy(h[:], b)
	return h, nil
}

// NewHashFromString parses a hex-encoded hash string.
func NewHashFromString(s string) (Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash{}, fmt.Errorf("parsing hash %q: %w", s, ErrMalformed)
	}
	return *h, nil
}

// HashData computes the double-SHA256 hash of data.
func HashData(data []byte) Hash {
	return chainhash.DoubleHashH(data)
}
