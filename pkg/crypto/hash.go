// Package crypto provides cryptographic primitives for ledgerdb.
package crypto

import (
	"crypto/sha256"

	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Sum computes the SHA-256 hash of the input data.
func Sum(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// SumParts hashes the concatenation of multiple byte slices without
// materializing the concatenated buffer.
func SumParts(parts ...[]byte) types.Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Concat hashes the concatenation of two hashes.
// Used for building merkle interior nodes.
func Concat(a, b types.Hash) types.Hash {
	var buf [2 * types.HashSize]byte
	copy(buf[:types.HashSize], a[:])
	copy(buf[types.HashSize:], b[:])
	return Sum(buf[:])
}

// AddressFromPubKey derives an address from a public key.
// Address = SHA-256(pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Sum(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}
