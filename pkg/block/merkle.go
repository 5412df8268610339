package block

import (
	"errors"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ErrEmptyMerkle is returned when a merkle root is requested over no leaves.
var ErrEmptyMerkle = errors.New("merkle tree requires at least one leaf")

// MerkleRoot calculates the merkle root of an ordered, non-empty list of
// leaf hashes. At each level consecutive pairs are hashed H(left || right);
// a level of odd length duplicates its last element. A single leaf is its
// own root.
func MerkleRoot(leaves []types.Hash) (types.Hash, error) {
	if len(leaves) == 0 {
		return types.Hash{}, ErrEmptyMerkle
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}

	// Work on a copy so we don't mutate the caller's slice.
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.Concat(level[i], level[i+1])
		}
		level = next
	}

	return level[0], nil
}

// TxMerkleRoot computes the merkle root over a block's ordered
// transaction hash list.
func (b *Block) TxMerkleRoot() (types.Hash, error) {
	return MerkleRoot(b.TxHashes())
}
