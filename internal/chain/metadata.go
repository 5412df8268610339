package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// DBVersion gates the on-disk format. A mismatch fails open; there is no
// silent migration.
const DBVersion = 1

// Metadata is the chain-level record stored under the metadata tree.
type Metadata struct {
	Height            uint64     `json:"height"`
	TipHash           types.Hash `json:"tip_hash"`
	TotalTransactions uint64     `json:"total_transactions"`
	TotalSupply       uint64     `json:"total_supply"`
	DBVersion         uint32     `json:"db_version"`
	GenesisHash       types.Hash `json:"genesis_hash"`
	LastUpdated       uint64     `json:"last_updated"` // Unix seconds.
}

// metadataSize is the fixed encoding length.
const metadataSize = 8 + types.HashSize + 8 + 8 + 4 + types.HashSize + 8

// Encode returns the persistent metadata encoding.
func (m *Metadata) Encode() []byte {
	buf := make([]byte, 0, metadataSize)
	buf = binary.LittleEndian.AppendUint64(buf, m.Height)
	buf = append(buf, m.TipHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.TotalTransactions)
	buf = binary.LittleEndian.AppendUint64(buf, m.TotalSupply)
	buf = binary.LittleEndian.AppendUint32(buf, m.DBVersion)
	buf = append(buf, m.GenesisHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.LastUpdated)
	return buf
}

// DecodeMetadata decodes a persistent metadata encoding.
func DecodeMetadata(data []byte) (*Metadata, error) {
	if len(data) != metadataSize {
		return nil, fmt.Errorf("metadata must be %d bytes, got %d", metadataSize, len(data))
	}
	m := &Metadata{}
	off := 0
	m.Height = binary.LittleEndian.Uint64(data[off:])
	off += 8
	copy(m.TipHash[:], data[off:])
	off += types.HashSize
	m.TotalTransactions = binary.LittleEndian.Uint64(data[off:])
	off += 8
	m.TotalSupply = binary.LittleEndian.Uint64(data[off:])
	off += 8
	m.DBVersion = binary.LittleEndian.Uint32(data[off:])
	off += 4
	copy(m.GenesisHash[:], data[off:])
	off += types.HashSize
	m.LastUpdated = binary.LittleEndian.Uint64(data[off:])
	return m, nil
}
