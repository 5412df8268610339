package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// checksumSize is the length of the BLAKE3 integrity tag.
const checksumSize = 32

// WithChecksum prepends a BLAKE3-256 tag to a payload. Used for journal
// entries, where a torn write must be detected rather than deserialized. This is storage-level integrity only; consensus
// hashing is SHA-256 throughout.
func WithChecksum(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	out := make([]byte, 0, checksumSize+4+len(payload))
	out = append(out, sum[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// VerifyChecksum strips and verifies the BLAKE3 tag, returning the payload.
func VerifyChecksum(data []byte) ([]byte, error) {
	if len(data) < checksumSize+4 {
		return nil, fmt.Errorf("checksummed payload too short: %d bytes", len(data))
	}
	length := binary.LittleEndian.Uint32(data[checksumSize:])
	payload := data[checksumSize+4:]
	if uint32(len(payload)) != length {
		return nil, fmt.Errorf("checksummed payload length mismatch: header=%d actual=%d", length, len(payload))
	}
	sum := blake3.Sum256(payload)
	for i := 0; i < checksumSize; i++ {
		if data[i] != sum[i] {
			return nil, fmt.Errorf("payload checksum mismatch")
		}
	}
	return payload, nil
}
