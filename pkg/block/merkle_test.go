package block

import (
	"errors"
	"testing"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

func TestMerkleRootEmpty(t *testing.T) {
	if _, err := MerkleRoot(nil); !errors.Is(err, ErrEmptyMerkle) {
		t.Errorf("MerkleRoot(nil) = %v, want %v", err, ErrEmptyMerkle)
	}
	if _, err := MerkleRoot([]types.Hash{}); !errors.Is(err, ErrEmptyMerkle) {
		t.Errorf("MerkleRoot(empty) should fail")
	}
}

func TestMerkleRootSingle(t *testing.T) {
	h := crypto.Sum([]byte("single tx"))
	root, err := MerkleRoot([]types.Hash{h})
	if err != nil {
		t.Fatalf("MerkleRoot() error: %v", err)
	}
	if root != h {
		t.Errorf("single leaf should be its own root: got %s, want %s", root, h)
	}
}

func TestMerkleRootTwo(t *testing.T) {
	h1 := crypto.Sum([]byte("tx1"))
	h2 := crypto.Sum([]byte("tx2"))

	root, err := MerkleRoot([]types.Hash{h1, h2})
	if err != nil {
		t.Fatalf("MerkleRoot() error: %v", err)
	}
	if want := crypto.Concat(h1, h2); root != want {
		t.Errorf("two leaves: got %s, want %s", root, want)
	}
}

func TestMerkleRootThreeDuplicatesLast(t *testing.T) {
	h1 := crypto.Sum([]byte("tx1"))
	h2 := crypto.Sum([]byte("tx2"))
	h3 := crypto.Sum([]byte("tx3"))

	root, err := MerkleRoot([]types.Hash{h1, h2, h3})
	if err != nil {
		t.Fatalf("MerkleRoot() error: %v", err)
	}

	// [h1 h2 h3] -> [H(h1|h2), H(h3|h3)] -> H(left|right)
	left := crypto.Concat(h1, h2)
	right := crypto.Concat(h3, h3)
	if want := crypto.Concat(left, right); root != want {
		t.Errorf("three leaves: got %s, want %s", root, want)
	}
}

func TestMerkleRootDoesNotMutateInput(t *testing.T) {
	leaves := []types.Hash{
		crypto.Sum([]byte("a")),
		crypto.Sum([]byte("b")),
		crypto.Sum([]byte("c")),
	}
	saved := make([]types.Hash, len(leaves))
	copy(saved, leaves)

	if _, err := MerkleRoot(leaves); err != nil {
		t.Fatalf("MerkleRoot() error: %v", err)
	}
	for i := range leaves {
		if leaves[i] != saved[i] {
			t.Fatalf("leaf %d mutated", i)
		}
	}
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	h1 := crypto.Sum([]byte("tx1"))
	h2 := crypto.Sum([]byte("tx2"))

	a, _ := MerkleRoot([]types.Hash{h1, h2})
	b, _ := MerkleRoot([]types.Hash{h2, h1})
	if a == b {
		t.Error("root should depend on leaf order")
	}
}
