package block

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

func makeLeaves(n int) []types.Hash {
	leaves := make([]types.Hash, n)
	for i := range leaves {
		leaves[i] = crypto.Sum([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestProofVerifiesForEveryLeaf(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := makeLeaves(n)
		root, err := MerkleRoot(leaves)
		if err != nil {
			t.Fatalf("n=%d: MerkleRoot() error: %v", n, err)
		}
		for i := 0; i < n; i++ {
			proof, err := GenerateProof(leaves, i)
			if err != nil {
				t.Fatalf("n=%d i=%d: GenerateProof() error: %v", n, i, err)
			}
			if !proof.Verify(root) {
				t.Errorf("n=%d i=%d: proof did not verify", n, i)
			}
		}
	}
}

func TestProofFailsAgainstWrongRoot(t *testing.T) {
	leaves := makeLeaves(5)
	proof, err := GenerateProof(leaves, 2)
	if err != nil {
		t.Fatalf("GenerateProof() error: %v", err)
	}
	if proof.Verify(crypto.Sum([]byte("not the root"))) {
		t.Error("proof verified against a wrong root")
	}
}

func TestProofFailsForTamperedLeaf(t *testing.T) {
	leaves := makeLeaves(4)
	root, _ := MerkleRoot(leaves)

	proof, err := GenerateProof(leaves, 1)
	if err != nil {
		t.Fatalf("GenerateProof() error: %v", err)
	}
	proof.Leaf = crypto.Sum([]byte("tampered"))
	if proof.Verify(root) {
		t.Error("tampered leaf verified")
	}
}

func TestProofBadIndex(t *testing.T) {
	leaves := makeLeaves(3)
	if _, err := GenerateProof(leaves, -1); !errors.Is(err, ErrBadLeafIndex) {
		t.Errorf("index -1: got %v, want %v", err, ErrBadLeafIndex)
	}
	if _, err := GenerateProof(leaves, 3); !errors.Is(err, ErrBadLeafIndex) {
		t.Errorf("index 3: got %v, want %v", err, ErrBadLeafIndex)
	}
	if _, err := GenerateProof(nil, 0); !errors.Is(err, ErrEmptyMerkle) {
		t.Errorf("empty leaves: got %v, want %v", err, ErrEmptyMerkle)
	}
}

func TestSingleLeafProofIsEmpty(t *testing.T) {
	leaves := makeLeaves(1)
	root, _ := MerkleRoot(leaves)

	proof, err := GenerateProof(leaves, 0)
	if err != nil {
		t.Fatalf("GenerateProof() error: %v", err)
	}
	if len(proof.Steps) != 0 {
		t.Errorf("single-leaf proof has %d steps, want 0", len(proof.Steps))
	}
	if !proof.Verify(root) {
		t.Error("single-leaf proof did not verify")
	}
}
