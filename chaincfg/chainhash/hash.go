// Package chainhash provides the 32-byte hash type used throughout BATHRON
// for Bitcoin header hashes, BATHRON transaction ids, merkle roots and
// hashlocks. Hashes are double-SHA256 digests, stored and compared in
// internal (little-endian, as produced by sha256) byte order; String()
// renders them in the big-endian hex form block explorers expect.
package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the size, in bytes, of a hash.
const HashSize = 32

// MaxHashStringSize is the maximum length of a Hash hash string.
const MaxHashStringSize = HashSize * 2

// ErrHashStrSize describes an error when a hash string is too long.
var ErrHashStrSize = fmt.Errorf("max hash string length is %v bytes", MaxHashStringSize)

// Hash is used in several of the BATHRON messages and data structures to
// identify data with a unique hash.
type Hash [HashSize]byte

// String returns the Hash as the hexadecimal string of the byte-reversed
// hash, matching the Bitcoin/BATHRON convention of displaying hashes.
func (h Hash) String() string {
	var reversed Hash
	for i := 0; i < HashSize/2; i++ {
		reversed[i], reversed[HashSize-1-i] = h[HashSize-1-i], h[i]
	}
	return hex.EncodeToString(reversed[:])
}

// CloneBytes returns a copy of the bytes in the hash, in internal
// (non-reversed) order.
func (h *Hash) CloneBytes() []byte {
	newHash := make([]byte, HashSize)
	copy(newHash, h[:])
	return newHash
}

// SetBytes sets the bytes that make up the hash from a byte slice in
// internal order.
func (h *Hash) SetBytes(newHash []byte) error {
	nhlen := len(newHash)
	if nhlen != HashSize {
		return fmt.Errorf("invalid hash length of %v, want %v", nhlen, HashSize)
	}
	copy(h[:], newHash)
	return nil
}

// IsEqual returns true if target is the same as the hash.
func (h *Hash) IsEqual(target *Hash) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// NewHash returns a new Hash from a byte slice in internal order.
func NewHash(newHash []byte) (*Hash, error) {
	var sh Hash
	err := sh.SetBytes(newHash)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// NewHashFromStr creates a Hash from a hash string. The string is expected
// to be in the reversed (display) hex form.
func NewHashFromStr(hash string) (*Hash, error) {
	ret := new(Hash)
	err := Decode(ret, hash)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Decode decodes the byte-reversed hexadecimal string encoding of a Hash to
// a destination.
func Decode(dst *Hash, src string) error {
	reversedHashStr := src
	if len(reversedHashStr) > MaxHashStringSize {
		return ErrHashStrSize
	}

	var srcBytes []byte
	if len(reversedHashStr)%2 == 0 {
		srcBytes, _ = hex.DecodeString(reversedHashStr)
	} else {
		srcBytes, _ = hex.DecodeString("0" + reversedHashStr)
	}
	if srcBytes == nil {
		return fmt.Errorf("invalid hash string %q", src)
	}

	for i, b := range srcBytes {
		dst[len(srcBytes)-1-i] = b
	}
	return nil
}

// HashB calculates the double-SHA256 hash of the given data and returns it
// as a byte slice.
func HashB(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// HashH calculates the double-SHA256 hash of the given data and returns it
// as a Hash.
func HashH(b []byte) Hash {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// HashMerkleBranches takes two hashes, treated as the left and right tree
// nodes, and returns the double-SHA256 hash of their concatenation. This is
// the building block used both for classic merkle roots and for the BTC
// merkle-inclusion-proof walk in package btcspv.
func HashMerkleBranches(left *Hash, right *Hash) Hash {
	var hash [HashSize * 2]byte
	copy(hash[:HashSize], left[:])
	copy(hash[HashSize:], right[:])
	return HashH(hash[:])
}
