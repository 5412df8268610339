// Package block defines block types, the merkle commitment, and validation.
package block

import (
	"encoding/binary"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// HeaderSize is the length of the canonical header encoding in bytes.
const HeaderSize = 4 + types.HashSize + types.HashSize + 8 + 4 + 4 + 8 + 8

// Header contains block metadata. The block hash is the SHA-256 of the
// header's canonical encoding; no other field participates.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Difficulty uint32     `json:"difficulty"`
	TxCount    uint32     `json:"tx_count"`
	Size       uint64     `json:"size"`
	Nonce      uint64     `json:"nonce"`
}

// Hash computes the block header hash.
func (h *Header) Hash() types.Hash {
	return crypto.Sum(h.Bytes())
}

// Bytes returns the canonical header encoding.
// Format: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8)
// | difficulty(4) | tx_count(4) | size(8) | nonce(8), little-endian.
// The nonce comes last so the miner can hash a fixed prefix plus the
// 8-byte nonce per attempt.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Difficulty)
	buf = binary.LittleEndian.AppendUint32(buf, h.TxCount)
	buf = binary.LittleEndian.AppendUint64(buf, h.Size)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	return buf
}

// MiningPrefix returns the header encoding without the trailing nonce.
func (h *Header) MiningPrefix() []byte {
	b := h.Bytes()
	return b[:len(b)-8]
}

// headerFromBytes decodes a canonical header encoding.
func headerFromBytes(data []byte) (*Header, error) {
	if len(data) != HeaderSize {
		return nil, ErrTruncatedBlock
	}
	h := &Header{}
	off := 0
	h.Version = binary.LittleEndian.Uint32(data[off:])
	off += 4
	copy(h.PrevHash[:], data[off:])
	off += types.HashSize
	copy(h.MerkleRoot[:], data[off:])
	off += types.HashSize
	h.Timestamp = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.Difficulty = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.TxCount = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.Size = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.Nonce = binary.LittleEndian.Uint64(data[off:])
	return h, nil
}
