package block

import (
	"errors"
	"fmt"
)

// Structural validation errors.
var (
	ErrNilHeader        = errors.New("block has nil header")
	ErrBadVersion       = errors.New("unsupported block version")
	ErrZeroTimestamp    = errors.New("block timestamp is zero")
	ErrNoTransactions   = errors.New("block has no transactions")
	ErrNoCoinbase       = errors.New("first transaction must be coinbase")
	ErrMultipleCoinbase = errors.New("multiple coinbase transactions in block")
	ErrBadMerkleRoot    = errors.New("merkle root mismatch")
	ErrBadTxCount       = errors.New("header tx_count does not match transactions")
	ErrBadSize          = errors.New("header size does not match encoding")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency: header shape,
// coinbase discipline, merkle commitment, and the header's own counters.
// Chain-context rules (linkage, PoW, timestamps vs parent, UTXO checks)
// belong to the consensus validator.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}

	// Coinbase exactly once and exactly in position 0.
	if !b.Transactions[0].IsCoinbase() {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		for _, in := range t.Inputs {
			if in.IsCoinbase() {
				return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
			}
		}
	}

	// Validate each transaction structurally.
	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// Header counters must describe the body.
	if b.Header.TxCount != uint32(len(b.Transactions)) {
		return fmt.Errorf("%w: header=%d body=%d", ErrBadTxCount, b.Header.TxCount, len(b.Transactions))
	}
	if b.Header.Size != b.WireSize() {
		return fmt.Errorf("%w: header=%d encoded=%d", ErrBadSize, b.Header.Size, b.WireSize())
	}

	// Verify the merkle commitment.
	root, err := b.TxMerkleRoot()
	if err != nil {
		return err
	}
	if b.Header.MerkleRoot != root {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, root)
	}

	return nil
}
