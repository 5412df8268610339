package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/internal/storage"
	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

func storeAddress(seed byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

func genOutput(addr types.Address, amount uint64) tx.Output {
	return tx.Output{Amount: amount, Recipient: addr}
}

// appliedGenesis opens a store over db and applies a genesis block,
// returning the store, the block, and its delta.
func appliedGenesis(t *testing.T, db storage.DB) (*Store, *block.Block, *utxo.BlockDelta) {
	t.Helper()

	s, err := OpenStore(db)
	if err != nil {
		t.Fatalf("OpenStore() error: %v", err)
	}

	genesis, err := NewGenesisBlock(config.DefaultParams(), storeAddress(0x01), 1_700_000_000)
	if err != nil {
		t.Fatalf("NewGenesisBlock() error: %v", err)
	}
	delta, err := utxo.ComputeDelta(genesis, utxo.NewMemorySet())
	if err != nil {
		t.Fatalf("ComputeDelta() error: %v", err)
	}

	meta := &Metadata{
		Height:            0,
		TipHash:           genesis.Hash(),
		TotalTransactions: 1,
		TotalSupply:       config.DefaultParams().InitialReward,
		GenesisHash:       genesis.Hash(),
	}
	if err := s.ApplyBlock(genesis, delta, meta); err != nil {
		t.Fatalf("ApplyBlock() error: %v", err)
	}
	return s, genesis, delta
}

func TestStoreApplyBlockReads(t *testing.T) {
	db := storage.NewMemory()
	s, genesis, delta := appliedGenesis(t, db)

	// Block reads: by hash and by height.
	byHash, err := s.GetBlock(genesis.Hash())
	if err != nil {
		t.Fatalf("GetBlock() error: %v", err)
	}
	if byHash.Hash() != genesis.Hash() {
		t.Error("GetBlock returned a different block")
	}
	byHeight, err := s.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("GetBlockByHeight() error: %v", err)
	}
	if byHeight.Hash() != genesis.Hash() {
		t.Error("GetBlockByHeight returned a different block")
	}

	// Transaction read with containing-block location.
	cb := genesis.Transactions[0]
	gotTx, blockHash, err := s.GetTransaction(cb.Hash())
	if err != nil {
		t.Fatalf("GetTransaction() error: %v", err)
	}
	if gotTx.Hash() != cb.Hash() || blockHash != genesis.Hash() {
		t.Error("GetTransaction mismatch")
	}

	// UTXO read and address index.
	created := delta.Created[0]
	entry, err := s.GetUTXO(created.Outpoint)
	if err != nil {
		t.Fatalf("GetUTXO() error: %v", err)
	}
	if entry.Output.Amount != created.Output.Amount {
		t.Error("GetUTXO amount mismatch")
	}
	byAddr, err := s.UTXOsByAddress(storeAddress(0x01))
	if err != nil {
		t.Fatalf("UTXOsByAddress() error: %v", err)
	}
	if len(byAddr) != 1 {
		t.Errorf("address index has %d entries, want 1", len(byAddr))
	}

	// Metadata.
	meta, err := s.Metadata()
	if err != nil {
		t.Fatalf("Metadata() error: %v", err)
	}
	if meta.Height != 0 || meta.TipHash != genesis.Hash() || meta.DBVersion != DBVersion {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestStoreNotFound(t *testing.T) {
	db := storage.NewMemory()
	s, _, _ := appliedGenesis(t, db)

	if _, err := s.GetBlock(types.Hash{0xEE}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlock(missing) = %v, want %v", err, ErrNotFound)
	}
	if _, err := s.GetBlockByHeight(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlockByHeight(99) = %v, want %v", err, ErrNotFound)
	}
	if _, _, err := s.GetTransaction(types.Hash{0xEE}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTransaction(missing) = %v, want %v", err, ErrNotFound)
	}
	if _, err := s.GetUTXO(types.Outpoint{TxID: types.Hash{0xEE}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUTXO(missing) = %v, want %v", err, ErrNotFound)
	}
	if utxos, err := s.UTXOsByAddress(storeAddress(0x42)); err != nil || len(utxos) != 0 {
		t.Errorf("UTXOsByAddress(unknown) = %v, %v; want empty, nil", utxos, err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	db := storage.NewMemory()
	_, genesis, _ := appliedGenesis(t, db)

	s2, err := OpenStore(db)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if s2.Recovered() != 0 {
		t.Errorf("clean reopen rolled back %d entries", s2.Recovered())
	}

	blocks, err := s2.LoadAllBlocks()
	if err != nil {
		t.Fatalf("LoadAllBlocks() error: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Hash() != genesis.Hash() {
		t.Error("chain changed across reopen")
	}
}

func TestStoreRecoveryRollsBackUncommitted(t *testing.T) {
	db := storage.NewMemory()
	s, genesis, delta := appliedGenesis(t, db)

	metaBefore, err := s.Metadata()
	if err != nil {
		t.Fatalf("Metadata() error: %v", err)
	}

	// Simulate a crash between steps 2 and 5 of the write protocol for a
	// second block: journal entry written and effects visible, but never
	// flipped to committed.
	second, err := NewGenesisBlock(config.DefaultParams(), storeAddress(0x02), 1_700_000_050)
	if err != nil {
		t.Fatalf("NewGenesisBlock() error: %v", err)
	}
	second.Index = 1
	second.Header.PrevHash = genesis.Hash()

	secondDelta, err := utxo.ComputeDelta(second, utxo.NewMemorySet())
	if err != nil {
		t.Fatalf("ComputeDelta() error: %v", err)
	}
	newMeta := &Metadata{
		Height:            1,
		TipHash:           second.Hash(),
		TotalTransactions: metaBefore.TotalTransactions + 1,
		TotalSupply:       metaBefore.TotalSupply,
		GenesisHash:       metaBefore.GenesisHash,
	}
	if err := s.ApplyBlock(second, secondDelta, newMeta); err != nil {
		t.Fatalf("ApplyBlock() error: %v", err)
	}

	// Un-flip the committed bit, as if the crash hit before step 5.
	entryKey := journalKey(1)
	data, err := s.journal.Get(entryKey)
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	payload, err := storage.VerifyChecksum(data)
	if err != nil {
		t.Fatalf("journal checksum: %v", err)
	}
	entry, err := DecodeJournalEntry(payload)
	if err != nil {
		t.Fatalf("journal decode: %v", err)
	}
	if !entry.Committed {
		t.Fatal("entry should be committed after ApplyBlock")
	}
	entry.Committed = false
	if err := s.journal.Put(entryKey, storage.WithChecksum(entry.Encode())); err != nil {
		t.Fatalf("journal rewrite: %v", err)
	}

	// Reopen: recovery must roll the second block back.
	s2, err := OpenStore(db)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if s2.Recovered() != 1 {
		t.Fatalf("Recovered() = %d, want 1", s2.Recovered())
	}

	if _, err := s2.GetBlock(second.Hash()); !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled-back block still present: %v", err)
	}
	if _, err := s2.GetBlockByHeight(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled-back height index still present: %v", err)
	}
	for _, created := range secondDelta.Created {
		if _, err := s2.GetUTXO(created.Outpoint); !errors.Is(err, ErrNotFound) {
			t.Errorf("rolled-back utxo %s still present", created.Outpoint)
		}
	}

	metaAfter, err := s2.Metadata()
	if err != nil {
		t.Fatalf("Metadata() error: %v", err)
	}
	if metaAfter.Height != metaBefore.Height || metaAfter.TipHash != metaBefore.TipHash {
		t.Errorf("metadata not restored: %+v vs %+v", metaAfter, metaBefore)
	}

	// The original chain is intact.
	blocks, err := s2.LoadAllBlocks()
	if err != nil {
		t.Fatalf("LoadAllBlocks() error: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Hash() != genesis.Hash() {
		t.Error("pre-crash chain not equal after recovery")
	}
	for _, created := range delta.Created {
		if _, err := s2.GetUTXO(created.Outpoint); err != nil {
			t.Errorf("pre-crash utxo %s missing after recovery", created.Outpoint)
		}
	}

	// The next journal id continues past the rolled-back entry.
	if s2.nextJournalID != 2 {
		t.Errorf("nextJournalID = %d, want 2", s2.nextJournalID)
	}
}

func TestStoreCompactJournal(t *testing.T) {
	db := storage.NewMemory()
	s, _, _ := appliedGenesis(t, db)

	// A negative retention makes every committed entry eligible.
	n, err := s.CompactJournal(-time.Second)
	if err != nil {
		t.Fatalf("CompactJournal() error: %v", err)
	}
	if n != 1 {
		t.Errorf("compacted %d entries, want 1", n)
	}

	// Nothing left to compact.
	n, err = s.CompactJournal(-time.Second)
	if err != nil {
		t.Fatalf("CompactJournal() error: %v", err)
	}
	if n != 0 {
		t.Errorf("second compaction removed %d entries, want 0", n)
	}

	// Committed entries within retention are kept.
	s2, _, _ := appliedGenesis(t, storage.NewMemory())
	n, err = s2.CompactJournal(DefaultJournalRetention)
	if err != nil {
		t.Fatalf("CompactJournal() error: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh entry compacted %d, want 0", n)
	}
}

func TestMetadataCodecRoundTrip(t *testing.T) {
	m := &Metadata{
		Height:            42,
		TipHash:           types.Hash{0x01},
		TotalTransactions: 100,
		TotalSupply:       5_000_000,
		DBVersion:         DBVersion,
		GenesisHash:       types.Hash{0x02},
		LastUpdated:       1_700_000_000,
	}
	decoded, err := DecodeMetadata(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMetadata() error: %v", err)
	}
	if *decoded != *m {
		t.Errorf("round trip: got %+v, want %+v", decoded, m)
	}

	if _, err := DecodeMetadata([]byte("short")); err == nil {
		t.Error("short metadata accepted")
	}
}

func TestJournalEntryCodecRoundTrip(t *testing.T) {
	addr := storeAddress(0x05)
	entry := &JournalEntry{
		ID:          7,
		Timestamp:   1_700_000_123,
		Op:          journalOpApplyBlock,
		Committed:   true,
		BlockHash:   types.Hash{0xAB},
		BlockHeight: 3,
		PrevMeta: &Metadata{
			Height:    2,
			TipHash:   types.Hash{0xCD},
			DBVersion: DBVersion,
		},
		Delta: &utxo.BlockDelta{
			Spent: []*utxo.Entry{{
				Outpoint: types.Outpoint{TxID: types.Hash{0x11}, Index: 1},
				Output:   genOutput(addr, 500),
				Height:   1,
			}},
			Created: []*utxo.Entry{{
				Outpoint: types.Outpoint{TxID: types.Hash{0x22}, Index: 0},
				Output:   genOutput(addr, 400),
				Height:   3,
			}},
		},
	}

	decoded, err := DecodeJournalEntry(entry.Encode())
	if err != nil {
		t.Fatalf("DecodeJournalEntry() error: %v", err)
	}
	if decoded.ID != entry.ID || decoded.Committed != entry.Committed ||
		decoded.BlockHash != entry.BlockHash || decoded.BlockHeight != entry.BlockHeight {
		t.Errorf("header fields mismatch: %+v", decoded)
	}
	if decoded.PrevMeta.TipHash != entry.PrevMeta.TipHash {
		t.Error("prev metadata mismatch")
	}
	if len(decoded.Delta.Spent) != 1 || len(decoded.Delta.Created) != 1 {
		t.Fatalf("delta sizes mismatch")
	}
	if decoded.Delta.Spent[0].Outpoint != entry.Delta.Spent[0].Outpoint {
		t.Error("spent entry mismatch")
	}

	if _, err := DecodeJournalEntry(entry.Encode()[:20]); err == nil {
		t.Error("truncated journal entry accepted")
	}
}

func TestOpenStoreRejectsBadDBVersion(t *testing.T) {
	db := storage.NewMemory()
	s, _, _ := appliedGenesis(t, db)

	meta, err := s.Metadata()
	if err != nil {
		t.Fatalf("Metadata() error: %v", err)
	}
	meta.DBVersion = DBVersion + 1
	if err := s.metadata.Put(metadataKey, meta.Encode()); err != nil {
		t.Fatalf("metadata rewrite: %v", err)
	}

	if _, err := OpenStore(db); !errors.Is(err, ErrBadDBVersion) {
		t.Errorf("OpenStore() = %v, want %v", err, ErrBadDBVersion)
	}
}
