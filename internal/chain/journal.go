package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Journal operation types.
const (
	journalOpApplyBlock byte = 1
)

// JournalEntry records one in-flight storage operation. An entry is
// written with Committed=false before any tree mutation and flipped to
// true only after every effect of the operation is in place; recovery
// rolls back the effects of any entry still open at startup.
//
// The payload carries everything needed to undo the operation: the
// metadata snapshot from before the write and the full UTXO delta.
type JournalEntry struct {
	ID          uint64
	Timestamp   uint64 // Unix seconds.
	Op          byte
	Committed   bool
	BlockHash   types.Hash
	BlockHeight uint64
	PrevMeta    *Metadata
	Delta       *utxo.BlockDelta
}

// Encode returns the journal entry encoding (before checksumming).
func (e *JournalEntry) Encode() []byte {
	buf := make([]byte, 0, 128)
	buf = binary.LittleEndian.AppendUint64(buf, e.ID)
	buf = binary.LittleEndian.AppendUint64(buf, e.Timestamp)
	buf = append(buf, e.Op)
	if e.Committed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, e.BlockHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, e.BlockHeight)

	meta := e.PrevMeta.Encode()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(meta)))
	buf = append(buf, meta...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Delta.Spent)))
	for _, spent := range e.Delta.Spent {
		enc := spent.Encode()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Delta.Created)))
	for _, created := range e.Delta.Created {
		enc := created.Encode()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}

	return buf
}

// DecodeJournalEntry decodes a journal entry encoding.
func DecodeJournalEntry(data []byte) (*JournalEntry, error) {
	const fixed = 8 + 8 + 1 + 1 + types.HashSize + 8
	if len(data) < fixed {
		return nil, fmt.Errorf("truncated journal entry: %d bytes", len(data))
	}
	e := &JournalEntry{Delta: &utxo.BlockDelta{}}
	off := 0
	e.ID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	e.Timestamp = binary.LittleEndian.Uint64(data[off:])
	off += 8
	e.Op = data[off]
	off++
	e.Committed = data[off] == 1
	off++
	copy(e.BlockHash[:], data[off:])
	off += types.HashSize
	e.BlockHeight = binary.LittleEndian.Uint64(data[off:])
	off += 8

	readChunk := func() ([]byte, error) {
		if off+4 > len(data) {
			return nil, fmt.Errorf("truncated journal entry")
		}
		n := binary.LittleEndian.Uint32(data[off:])
		off += 4
		if off+int(n) > len(data) {
			return nil, fmt.Errorf("truncated journal entry")
		}
		chunk := data[off : off+int(n)]
		off += int(n)
		return chunk, nil
	}

	metaBytes, err := readChunk()
	if err != nil {
		return nil, err
	}
	meta, err := DecodeMetadata(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("journal prev metadata: %w", err)
	}
	e.PrevMeta = meta

	if off+4 > len(data) {
		return nil, fmt.Errorf("truncated journal entry")
	}
	spentCount := binary.LittleEndian.Uint32(data[off:])
	off += 4
	for i := uint32(0); i < spentCount; i++ {
		chunk, err := readChunk()
		if err != nil {
			return nil, err
		}
		entry, err := utxo.DecodeEntry(chunk)
		if err != nil {
			return nil, fmt.Errorf("journal spent entry %d: %w", i, err)
		}
		e.Delta.Spent = append(e.Delta.Spent, entry)
	}

	if off+4 > len(data) {
		return nil, fmt.Errorf("truncated journal entry")
	}
	createdCount := binary.LittleEndian.Uint32(data[off:])
	off += 4
	for i := uint32(0); i < createdCount; i++ {
		chunk, err := readChunk()
		if err != nil {
			return nil, err
		}
		entry, err := utxo.DecodeEntry(chunk)
		if err != nil {
			return nil, fmt.Errorf("journal created entry %d: %w", i, err)
		}
		e.Delta.Created = append(e.Delta.Created, entry)
	}

	if off != len(data) {
		return nil, fmt.Errorf("trailing bytes after journal entry")
	}
	return e, nil
}
