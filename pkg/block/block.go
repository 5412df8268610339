package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ErrTruncatedBlock is returned when a wire encoding ends prematurely.
var ErrTruncatedBlock = errors.New("truncated block encoding")

// Block represents a block in the chain.
type Block struct {
	Index        uint64            `json:"index"`
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// New creates a block at the given height with a fully populated header.
func New(index uint64, header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Index:        index,
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// TxHashes returns the ordered transaction hash list.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}

// WireSize returns the length of the canonical block encoding. The header
// Size field is set to this value before mining.
func (b *Block) WireSize() uint64 {
	size := uint64(8 + HeaderSize + 4)
	for _, t := range b.Transactions {
		size += 4 + uint64(len(t.WireBytes()))
	}
	return size
}

// WireBytes returns the persistent block encoding: index, header, and
// length-prefixed transactions.
func (b *Block) WireBytes() []byte {
	buf := make([]byte, 0, b.WireSize())
	buf = binary.LittleEndian.AppendUint64(buf, b.Index)
	buf = append(buf, b.Header.Bytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Transactions)))
	for _, t := range b.Transactions {
		wire := t.WireBytes()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(wire)))
		buf = append(buf, wire...)
	}
	return buf
}

// FromWire decodes a block from its persistent encoding.
func FromWire(data []byte) (*Block, error) {
	if len(data) < 8+HeaderSize+4 {
		return nil, ErrTruncatedBlock
	}
	b := &Block{}
	off := 0
	b.Index = binary.LittleEndian.Uint64(data[off:])
	off += 8

	header, err := headerFromBytes(data[off : off+HeaderSize])
	if err != nil {
		return nil, err
	}
	b.Header = header
	off += HeaderSize

	count := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if count > 1<<20 {
		return nil, fmt.Errorf("implausible transaction count %d", count)
	}

	b.Transactions = make([]*tx.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(data) {
			return nil, ErrTruncatedBlock
		}
		txLen := binary.LittleEndian.Uint32(data[off:])
		off += 4
		if off+int(txLen) > len(data) {
			return nil, ErrTruncatedBlock
		}
		t, err := tx.FromWire(data[off : off+int(txLen)])
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, t)
		off += int(txLen)
	}

	if off != len(data) {
		return nil, fmt.Errorf("trailing bytes after block encoding")
	}
	return b, nil
}
