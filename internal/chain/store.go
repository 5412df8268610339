package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ledgerdb/ledgerdb/internal/storage"
	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Storage errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrBadDBVersion = errors.New("unknown database version")
)

// Tree name prefixes. These are the persistent contract: renaming any of
// them orphans existing databases.
var (
	treeBlocks       = []byte("blocks/")
	treeBlockIndex   = []byte("block_index/")
	treeTransactions = []byte("transactions/")
	treeTxIndex      = []byte("tx_index/")
	treeUTXOs        = []byte("utxos/")
	treeAddressIndex = []byte("address_index/")
	treeMetadata     = []byte("metadata/")
	treeJournal      = []byte("journal/")
)

// metadataKey is the fixed key within the metadata tree.
var metadataKey = []byte("metadata")

// Store persists the ledger: blocks, transactions, the UTXO set, their
// indexes, chain metadata, and the write-ahead journal, all carved out of
// one embedded database.
type Store struct {
	db storage.DB

	blocks       *storage.PrefixDB
	blockIndex   *storage.PrefixDB
	transactions *storage.PrefixDB
	txIndex      *storage.PrefixDB
	utxos        *storage.PrefixDB
	addressIndex *storage.PrefixDB
	metadata     *storage.PrefixDB
	journal      *storage.PrefixDB

	nextJournalID uint64
	recovered     int // Entries rolled back during open.
}

// OpenStore opens (or initializes) a ledger store over db and runs
// journal recovery. The db_version in existing metadata must match
// DBVersion exactly; mismatches fail, they do not migrate.
func OpenStore(db storage.DB) (*Store, error) {
	s := &Store{
		db:           db,
		blocks:       storage.NewPrefixDB(db, treeBlocks),
		blockIndex:   storage.NewPrefixDB(db, treeBlockIndex),
		transactions: storage.NewPrefixDB(db, treeTransactions),
		txIndex:      storage.NewPrefixDB(db, treeTxIndex),
		utxos:        storage.NewPrefixDB(db, treeUTXOs),
		addressIndex: storage.NewPrefixDB(db, treeAddressIndex),
		metadata:     storage.NewPrefixDB(db, treeMetadata),
		journal:      storage.NewPrefixDB(db, treeJournal),
	}

	meta, err := s.Metadata()
	switch {
	case errors.Is(err, ErrNotFound):
		// Fresh database: seed metadata.
		meta = &Metadata{
			DBVersion:   DBVersion,
			LastUpdated: uint64(time.Now().Unix()),
		}
		if err := s.metadata.Put(metadataKey, meta.Encode()); err != nil {
			return nil, fmt.Errorf("seed metadata: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		if meta.DBVersion != DBVersion {
			return nil, fmt.Errorf("%w: database has %d, this build expects %d", ErrBadDBVersion, meta.DBVersion, DBVersion)
		}
	}

	if err := s.recover(); err != nil {
		return nil, fmt.Errorf("journal recovery: %w", err)
	}

	return s, nil
}

// Recovered returns how many uncommitted journal entries were rolled back
// while opening the store.
func (s *Store) Recovered() int {
	return s.recovered
}

// Close flushes and releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		return err
	}
	return s.db.Close()
}

// ----------------------------------------------------------------------------
// Keys
// ----------------------------------------------------------------------------

func blockKey(hash types.Hash) []byte {
	return []byte(hash.String())
}

func heightKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

func txKey(hash types.Hash) []byte {
	return []byte(hash.String())
}

func utxoKey(op types.Outpoint) []byte {
	return []byte(op.String())
}

func addrKey(addr types.Address) []byte {
	return []byte(addr.String())
}

func journalKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// ----------------------------------------------------------------------------
// Write protocol
// ----------------------------------------------------------------------------

// ApplyBlock runs the journaled write protocol for one block:
//
//  1. Append an uncommitted journal entry carrying the undo payload.
//  2. Write the block, its height index, and each transaction + tx index.
//  3. Apply the UTXO delta to the utxos and address_index trees.
//  4. Write the new metadata.
//  5. Flip the journal entry to committed.
//  6. Flush the underlying store.
//
// A crash before step 5 leaves an uncommitted entry whose effects the
// next open rolls back; a crash after step 5 is fully applied.
func (s *Store) ApplyBlock(blk *block.Block, delta *utxo.BlockDelta, newMeta *Metadata) error {
	prevMeta, err := s.Metadata()
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	entry := &JournalEntry{
		ID:          s.nextJournalID,
		Timestamp:   uint64(time.Now().Unix()),
		Op:          journalOpApplyBlock,
		Committed:   false,
		BlockHash:   blk.Hash(),
		BlockHeight: blk.Index,
		PrevMeta:    prevMeta,
		Delta:       delta,
	}

	// 1. Journal entry must be durable before any effect is visible.
	if err := s.journal.Put(journalKey(entry.ID), storage.WithChecksum(entry.Encode())); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("journal sync: %w", err)
	}

	// 2. Block, height index, transactions, tx index.
	hash := blk.Hash()
	if err := s.blocks.Put(blockKey(hash), blk.WireBytes()); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := s.blockIndex.Put(heightKey(blk.Index), []byte(hash.String())); err != nil {
		return fmt.Errorf("block index put: %w", err)
	}
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		if err := s.transactions.Put(txKey(txHash), t.WireBytes()); err != nil {
			return fmt.Errorf("tx put %s: %w", txHash, err)
		}
		if err := s.txIndex.Put(txKey(txHash), []byte(hash.String())); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}

	// 3. UTXO delta: remove spends, insert creations, keep the address
	// index in step.
	for _, spent := range delta.Spent {
		if err := s.utxos.Delete(utxoKey(spent.Outpoint)); err != nil {
			return fmt.Errorf("utxo delete %s: %w", spent.Outpoint, err)
		}
		if err := s.addrIndexRemove(spent.Output.Recipient, spent.Outpoint); err != nil {
			return err
		}
	}
	for _, created := range delta.Created {
		if err := s.utxos.Put(utxoKey(created.Outpoint), created.Encode()); err != nil {
			return fmt.Errorf("utxo put %s: %w", created.Outpoint, err)
		}
		if err := s.addrIndexAdd(created.Output.Recipient, created.Outpoint); err != nil {
			return err
		}
	}

	// 4. Metadata.
	newMeta.DBVersion = DBVersion
	newMeta.LastUpdated = uint64(time.Now().Unix())
	if err := s.metadata.Put(metadataKey, newMeta.Encode()); err != nil {
		return fmt.Errorf("metadata put: %w", err)
	}

	// 5. Commit the journal entry.
	entry.Committed = true
	if err := s.journal.Put(journalKey(entry.ID), storage.WithChecksum(entry.Encode())); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}

	// 6. Flush.
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("store sync: %w", err)
	}

	s.nextJournalID++
	return nil
}

// addrIndexAdd inserts an outpoint into the address's UTXO id list.
func (s *Store) addrIndexAdd(addr types.Address, op types.Outpoint) error {
	ids, err := s.UTXOIDsByAddress(addr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for _, id := range ids {
		if id == op {
			return nil
		}
	}
	ids = append(ids, op)
	if err := s.addressIndex.Put(addrKey(addr), utxo.EncodeIDList(ids)); err != nil {
		return fmt.Errorf("address index put %s: %w", addr, err)
	}
	return nil
}

// addrIndexRemove removes an outpoint from the address's UTXO id list,
// dropping the key entirely when the list empties.
func (s *Store) addrIndexRemove(addr types.Address, op types.Outpoint) error {
	ids, err := s.UTXOIDsByAddress(addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != op {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		if err := s.addressIndex.Delete(addrKey(addr)); err != nil {
			return fmt.Errorf("address index delete %s: %w", addr, err)
		}
		return nil
	}
	if err := s.addressIndex.Put(addrKey(addr), utxo.EncodeIDList(kept)); err != nil {
		return fmt.Errorf("address index put %s: %w", addr, err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Recovery and compaction
// ----------------------------------------------------------------------------

// recover scans the journal, rolls back any uncommitted entries in
// reverse id order, and establishes the next journal id.
func (s *Store) recover() error {
	var open []*JournalEntry
	var maxID uint64
	seen := false

	err := s.journal.ForEach(nil, func(key, value []byte) error {
		payload, err := storage.VerifyChecksum(value)
		if err != nil {
			return fmt.Errorf("corrupt journal entry %x: %w", key, err)
		}
		entry, err := DecodeJournalEntry(payload)
		if err != nil {
			return fmt.Errorf("corrupt journal entry %x: %w", key, err)
		}
		if entry.ID > maxID {
			maxID = entry.ID
		}
		seen = true
		if !entry.Committed {
			open = append(open, entry)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if seen {
		s.nextJournalID = maxID + 1
	}

	if len(open) == 0 {
		return nil
	}

	// Undo newest first.
	sort.Slice(open, func(i, j int) bool { return open[i].ID > open[j].ID })
	for _, entry := range open {
		if err := s.undoEntry(entry); err != nil {
			return fmt.Errorf("undo journal entry %d: %w", entry.ID, err)
		}
		if err := s.journal.Delete(journalKey(entry.ID)); err != nil {
			return fmt.Errorf("drop journal entry %d: %w", entry.ID, err)
		}
		s.recovered++
	}

	return s.db.Sync()
}

// undoEntry reverses the visible effects of an uncommitted ApplyBlock:
// steps 2-4 of the write protocol undone in reverse order using the
// entry's payload.
func (s *Store) undoEntry(entry *JournalEntry) error {
	// 4'. Restore the pre-write metadata.
	if err := s.metadata.Put(metadataKey, entry.PrevMeta.Encode()); err != nil {
		return fmt.Errorf("restore metadata: %w", err)
	}

	// 3'. Reverse the UTXO delta.
	for _, created := range entry.Delta.Created {
		if err := s.utxos.Delete(utxoKey(created.Outpoint)); err != nil {
			return fmt.Errorf("remove created utxo %s: %w", created.Outpoint, err)
		}
		if err := s.addrIndexRemove(created.Output.Recipient, created.Outpoint); err != nil {
			return err
		}
	}
	for _, spent := range entry.Delta.Spent {
		if err := s.utxos.Put(utxoKey(spent.Outpoint), spent.Encode()); err != nil {
			return fmt.Errorf("restore spent utxo %s: %w", spent.Outpoint, err)
		}
		if err := s.addrIndexAdd(spent.Output.Recipient, spent.Outpoint); err != nil {
			return err
		}
	}

	// 2'. Remove the block, its height index, and its transactions.
	// The block may be partially absent if the crash hit mid-step-2.
	blk, err := s.GetBlock(entry.BlockHash)
	if err == nil {
		for _, t := range blk.Transactions {
			txHash := t.Hash()
			if err := s.transactions.Delete(txKey(txHash)); err != nil {
				return fmt.Errorf("remove tx %s: %w", txHash, err)
			}
			if err := s.txIndex.Delete(txKey(txHash)); err != nil {
				return fmt.Errorf("remove tx index %s: %w", txHash, err)
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.blockIndex.Delete(heightKey(entry.BlockHeight)); err != nil {
		return fmt.Errorf("remove block index %d: %w", entry.BlockHeight, err)
	}
	if err := s.blocks.Delete(blockKey(entry.BlockHash)); err != nil {
		return fmt.Errorf("remove block %s: %w", entry.BlockHash, err)
	}

	return nil
}

// DefaultJournalRetention is how long committed journal entries are kept
// before compaction may drop them.
const DefaultJournalRetention = 24 * time.Hour

// CompactJournal removes committed journal entries older than the
// retention window. Returns the number of entries removed.
func (s *Store) CompactJournal(retention time.Duration) (int, error) {
	cutoff := uint64(time.Now().Add(-retention).Unix())

	var stale []uint64
	err := s.journal.ForEach(nil, func(key, value []byte) error {
		payload, err := storage.VerifyChecksum(value)
		if err != nil {
			return err
		}
		entry, err := DecodeJournalEntry(payload)
		if err != nil {
			return err
		}
		if entry.Committed && entry.Timestamp < cutoff {
			stale = append(stale, entry.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}

	for _, id := range stale {
		if err := s.journal.Delete(journalKey(id)); err != nil {
			return 0, fmt.Errorf("drop journal entry %d: %w", id, err)
		}
	}
	if len(stale) > 0 {
		if err := s.db.Sync(); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

// Metadata loads the chain metadata record.
func (s *Store) Metadata() (*Metadata, error) {
	data, err := s.metadata.Get(metadataKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: metadata", ErrNotFound)
		}
		return nil, fmt.Errorf("metadata get: %w", err)
	}
	return DecodeMetadata(data)
}

// GetBlock retrieves a block by hash.
func (s *Store) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := s.blocks.Get(blockKey(hash))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: block %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("block get: %w", err)
	}
	return block.FromWire(data)
}

// GetBlockByHeight retrieves a block via the height index.
func (s *Store) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashHex, err := s.blockIndex.Get(heightKey(height))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: block at height %d", ErrNotFound, height)
		}
		return nil, fmt.Errorf("block index get: %w", err)
	}
	hash, err := types.HexToHash(string(hashHex))
	if err != nil {
		return nil, fmt.Errorf("corrupt block index at height %d: %w", height, err)
	}
	return s.GetBlock(hash)
}

// LoadAllBlocks returns every block in height order. Ordered iteration
// over the big-endian height keys yields the chain sequence directly.
func (s *Store) LoadAllBlocks() ([]*block.Block, error) {
	var blocks []*block.Block
	err := s.blockIndex.ForEach(nil, func(key, value []byte) error {
		hash, err := types.HexToHash(string(value))
		if err != nil {
			return fmt.Errorf("corrupt block index entry %x: %w", key, err)
		}
		blk, err := s.GetBlock(hash)
		if err != nil {
			return err
		}
		blocks = append(blocks, blk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// GetTransaction retrieves a confirmed transaction and the hash of its
// containing block.
func (s *Store) GetTransaction(hash types.Hash) (*tx.Transaction, types.Hash, error) {
	data, err := s.transactions.Get(txKey(hash))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, types.Hash{}, fmt.Errorf("%w: transaction %s", ErrNotFound, hash)
		}
		return nil, types.Hash{}, fmt.Errorf("tx get: %w", err)
	}
	t, err := tx.FromWire(data)
	if err != nil {
		return nil, types.Hash{}, err
	}

	blockHex, err := s.txIndex.Get(txKey(hash))
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	blockHash, err := types.HexToHash(string(blockHex))
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("corrupt tx index for %s: %w", hash, err)
	}
	return t, blockHash, nil
}

// GetUTXO retrieves a persisted UTXO entry.
func (s *Store) GetUTXO(op types.Outpoint) (*utxo.Entry, error) {
	data, err := s.utxos.Get(utxoKey(op))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: utxo %s", ErrNotFound, op)
		}
		return nil, fmt.Errorf("utxo get: %w", err)
	}
	return utxo.DecodeEntry(data)
}

// UTXOIDsByAddress returns the outpoints indexed under an address.
func (s *Store) UTXOIDsByAddress(addr types.Address) ([]types.Outpoint, error) {
	data, err := s.addressIndex.Get(addrKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: address %s", ErrNotFound, addr)
		}
		return nil, fmt.Errorf("address index get: %w", err)
	}
	return utxo.DecodeIDList(data)
}

// UTXOsByAddress loads the full entries for an address. Returns an empty
// slice for unknown addresses.
func (s *Store) UTXOsByAddress(addr types.Address) ([]*utxo.Entry, error) {
	ids, err := s.UTXOIDsByAddress(addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]*utxo.Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.GetUTXO(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LoadUTXOSet rebuilds an in-memory set from the utxos tree.
func (s *Store) LoadUTXOSet() (*utxo.MemorySet, error) {
	set := utxo.NewMemorySet()
	err := s.utxos.ForEach(nil, func(key, value []byte) error {
		entry, err := utxo.DecodeEntry(value)
		if err != nil {
			return fmt.Errorf("corrupt utxo %s: %w", key, err)
		}
		set.Put(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}
