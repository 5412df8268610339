// Package utxo manages the unspent transaction output set.
package utxo

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Entry is an unspent transaction output together with its provenance.
// Identified by (source tx hash, output index) — the Outpoint.
type Entry struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Output   tx.Output      `json:"output"`
	Height   uint64         `json:"height"` // Block height the output was created at.
}

// Encode returns the persistent encoding of the entry.
// Format: txid(32) | index(4) | height(8) | amount(8) | recipient(20)
// | script_len(4) | script, little-endian.
func (e *Entry) Encode() []byte {
	buf := make([]byte, 0, types.HashSize+4+8+8+types.AddressSize+4+len(e.Output.Script))
	buf = append(buf, e.Outpoint.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, e.Outpoint.Index)
	buf = binary.LittleEndian.AppendUint64(buf, e.Height)
	buf = binary.LittleEndian.AppendUint64(buf, e.Output.Amount)
	buf = append(buf, e.Output.Recipient[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Output.Script)))
	buf = append(buf, e.Output.Script...)
	return buf
}

// DecodeEntry decodes a persistent entry encoding.
func DecodeEntry(data []byte) (*Entry, error) {
	fixed := types.HashSize + 4 + 8 + 8 + types.AddressSize + 4
	if len(data) < fixed {
		return nil, fmt.Errorf("truncated utxo entry: %d bytes", len(data))
	}
	e := &Entry{}
	off := 0
	copy(e.Outpoint.TxID[:], data[off:])
	off += types.HashSize
	e.Outpoint.Index = binary.LittleEndian.Uint32(data[off:])
	off += 4
	e.Height = binary.LittleEndian.Uint64(data[off:])
	off += 8
	e.Output.Amount = binary.LittleEndian.Uint64(data[off:])
	off += 8
	copy(e.Output.Recipient[:], data[off:])
	off += types.AddressSize
	scriptLen := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if off+int(scriptLen) != len(data) {
		return nil, fmt.Errorf("utxo entry script length mismatch")
	}
	if scriptLen > 0 {
		e.Output.Script = make([]byte, scriptLen)
		copy(e.Output.Script, data[off:])
	}
	return e, nil
}

// EncodeIDList encodes a list of outpoints for the address index.
// Format: count(4) | [txid(32) index(4)]...
func EncodeIDList(ids []types.Outpoint) []byte {
	buf := make([]byte, 0, 4+len(ids)*(types.HashSize+4))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		buf = append(buf, id.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, id.Index)
	}
	return buf
}

// DecodeIDList decodes an address index value.
func DecodeIDList(data []byte) ([]types.Outpoint, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated utxo id list")
	}
	count := binary.LittleEndian.Uint32(data)
	stride := types.HashSize + 4
	if len(data) != 4+int(count)*stride {
		return nil, fmt.Errorf("utxo id list length mismatch: count=%d bytes=%d", count, len(data))
	}
	ids := make([]types.Outpoint, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		var id types.Outpoint
		copy(id.TxID[:], data[off:])
		off += types.HashSize
		id.Index = binary.LittleEndian.Uint32(data[off:])
		off += 4
		ids = append(ids, id)
	}
	return ids, nil
}
