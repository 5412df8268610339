package utxo

import (
	"errors"
	"testing"

	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// deltaBlock wraps transactions into a block at the given height with a
// well-formed merkle commitment.
func deltaBlock(t *testing.T, height uint64, txs []*tx.Transaction) *block.Block {
	t.Helper()
	hashes := make([]types.Hash, len(txs))
	for i, tr := range txs {
		hashes[i] = tr.Hash()
	}
	root, err := block.MerkleRoot(hashes)
	if err != nil {
		t.Fatalf("MerkleRoot() error: %v", err)
	}
	header := &block.Header{
		Version:    block.CurrentVersion,
		MerkleRoot: root,
		Timestamp:  1_700_000_000 + height,
		Difficulty: 1,
		TxCount:    uint32(len(txs)),
	}
	b := block.New(height, header, txs)
	header.Size = b.WireSize()
	return b
}

func spendTx(prev types.Outpoint, amount uint64, to types.Address) *tx.Transaction {
	return &tx.Transaction{
		Version: tx.CurrentVersion,
		Inputs: []tx.Input{{
			PrevOut:   prev,
			PubKey:    []byte("pk"),
			Signature: []byte("sig"),
			Sequence:  tx.DefaultSequence,
		}},
		Outputs:   []tx.Output{{Amount: amount, Recipient: to}},
		Fee:       tx.DefaultFee(),
		Timestamp: 1_700_000_000,
	}
}

func TestComputeDeltaCoinbaseOnly(t *testing.T) {
	set := NewMemorySet()
	cb := tx.NewCoinbase(testAddress(0x01), 5000, 1, 1_700_000_001)
	blk := deltaBlock(t, 1, []*tx.Transaction{cb})

	delta, err := ComputeDelta(blk, set)
	if err != nil {
		t.Fatalf("ComputeDelta() error: %v", err)
	}
	if len(delta.Spent) != 0 {
		t.Errorf("coinbase-only block spent %d entries", len(delta.Spent))
	}
	if len(delta.Created) != 1 {
		t.Fatalf("created %d entries, want 1", len(delta.Created))
	}
	created := delta.Created[0]
	if created.Outpoint.TxID != cb.Hash() || created.Outpoint.Index != 0 {
		t.Errorf("created outpoint = %v", created.Outpoint)
	}
	if created.Height != 1 {
		t.Errorf("created height = %d, want 1", created.Height)
	}
}

func TestComputeDeltaSpendsExisting(t *testing.T) {
	set := NewMemorySet()
	funded := testEntry(0xAA, 0, 5000, testAddress(0x01), 1)
	set.Put(funded)

	cb := tx.NewCoinbase(testAddress(0x02), 100, 2, 1_700_000_002)
	spend := spendTx(funded.Outpoint, 4000, testAddress(0x03))
	blk := deltaBlock(t, 2, []*tx.Transaction{cb, spend})

	delta, err := ComputeDelta(blk, set)
	if err != nil {
		t.Fatalf("ComputeDelta() error: %v", err)
	}
	if len(delta.Spent) != 1 || delta.Spent[0].Outpoint != funded.Outpoint {
		t.Errorf("spent = %+v", delta.Spent)
	}
	if len(delta.Created) != 2 {
		t.Errorf("created %d entries, want 2", len(delta.Created))
	}

	// The set itself is untouched until ApplyDelta.
	if !set.Has(funded.Outpoint) {
		t.Error("ComputeDelta mutated the set")
	}
}

func TestComputeDeltaMissingInput(t *testing.T) {
	set := NewMemorySet()
	cb := tx.NewCoinbase(testAddress(0x02), 100, 1, 1_700_000_001)
	spend := spendTx(types.Outpoint{TxID: types.Hash{0xEE}, Index: 0}, 10, testAddress(0x03))
	blk := deltaBlock(t, 1, []*tx.Transaction{cb, spend})

	if _, err := ComputeDelta(blk, set); !errors.Is(err, ErrNotFound) {
		t.Errorf("ComputeDelta() = %v, want %v", err, ErrNotFound)
	}
}

func TestComputeDeltaDoubleSpendWithinBlock(t *testing.T) {
	set := NewMemorySet()
	funded := testEntry(0xAA, 0, 5000, testAddress(0x01), 1)
	set.Put(funded)

	cb := tx.NewCoinbase(testAddress(0x02), 100, 2, 1_700_000_002)
	spendA := spendTx(funded.Outpoint, 4000, testAddress(0x03))
	spendB := spendTx(funded.Outpoint, 3000, testAddress(0x04))
	blk := deltaBlock(t, 2, []*tx.Transaction{cb, spendA, spendB})

	if _, err := ComputeDelta(blk, set); err == nil {
		t.Error("double spend within a block accepted")
	}
}

func TestComputeDeltaIntraBlockChain(t *testing.T) {
	set := NewMemorySet()
	funded := testEntry(0xAA, 0, 5000, testAddress(0x01), 1)
	set.Put(funded)

	cb := tx.NewCoinbase(testAddress(0x02), 100, 2, 1_700_000_002)
	first := spendTx(funded.Outpoint, 4000, testAddress(0x03))
	// Second transaction spends the first one's output, same block.
	second := spendTx(types.Outpoint{TxID: first.Hash(), Index: 0}, 3500, testAddress(0x04))
	blk := deltaBlock(t, 2, []*tx.Transaction{cb, first, second})

	delta, err := ComputeDelta(blk, set)
	if err != nil {
		t.Fatalf("ComputeDelta() error: %v", err)
	}

	// The intermediate output nets out: it is neither created nor listed
	// as a pre-existing spend.
	for _, e := range delta.Created {
		if e.Outpoint.TxID == first.Hash() {
			t.Error("intra-block-consumed output appears in Created")
		}
	}
	for _, e := range delta.Spent {
		if e.Outpoint.TxID == first.Hash() {
			t.Error("intra-block output appears in Spent")
		}
	}

	// Applying then undoing restores the original set exactly.
	set.ApplyDelta(delta)
	if set.Has(funded.Outpoint) {
		t.Error("funded entry present after apply")
	}
	set.UndoDelta(delta)
	if !set.Has(funded.Outpoint) {
		t.Error("funded entry missing after undo")
	}
	if set.Count() != 1 {
		t.Errorf("set count after undo = %d, want 1", set.Count())
	}
}
