package block

import (
	"errors"
	"fmt"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ErrBadLeafIndex is returned when a proof is requested for an index
// outside the leaf list.
var ErrBadLeafIndex = errors.New("leaf index out of range")

// ProofStep is one level of a merkle inclusion proof: the sibling hash
// and whether it sits to the left of the running hash.
type ProofStep struct {
	Sibling types.Hash `json:"sibling"`
	Left    bool       `json:"left"`
}

// MerkleProof proves that a leaf at a given index belongs to a tree.
type MerkleProof struct {
	Leaf      types.Hash  `json:"leaf"`
	LeafIndex int         `json:"leaf_index"`
	Steps     []ProofStep `json:"steps"`
}

// GenerateProof builds the inclusion proof for the leaf at index i: the
// ordered list of sibling hashes on the path to the root, with a
// direction bit per level. Odd levels duplicate their last element,
// matching MerkleRoot.
func GenerateProof(leaves []types.Hash, i int) (*MerkleProof, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyMerkle
	}
	if i < 0 || i >= len(leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadLeafIndex, i, len(leaves))
	}

	proof := &MerkleProof{Leaf: leaves[i], LeafIndex: i}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	pos := i

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		if pos%2 == 0 {
			proof.Steps = append(proof.Steps, ProofStep{Sibling: level[pos+1], Left: false})
		} else {
			proof.Steps = append(proof.Steps, ProofStep{Sibling: level[pos-1], Left: true})
		}

		next := make([]types.Hash, len(level)/2)
		for j := 0; j < len(level); j += 2 {
			next[j/2] = crypto.Concat(level[j], level[j+1])
		}
		level = next
		pos /= 2
	}

	return proof, nil
}

// Verify replays the proof's hashing and compares against the asserted root.
func (p *MerkleProof) Verify(root types.Hash) bool {
	acc := p.Leaf
	for _, step := range p.Steps {
		if step.Left {
			acc = crypto.Concat(step.Sibling, acc)
		} else {
			acc = crypto.Concat(acc, step.Sibling)
		}
	}
	return acc == root
}

// TxProof builds the inclusion proof for the transaction at the given
// position in the block.
func (b *Block) TxProof(txIndex int) (*MerkleProof, error) {
	return GenerateProof(b.TxHashes(), txIndex)
}
