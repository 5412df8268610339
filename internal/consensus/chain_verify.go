package consensus

import (
	"fmt"

	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// VerifyChain replays full validation over an ordered block sequence,
// reconstructing the UTXO set forward from genesis. The genesis block
// (index 0, zero prev hash) is accepted axiomatically after structural
// checks. Returns the rebuilt UTXO set so callers can adopt it.
func (v *Validator) VerifyChain(blocks []*block.Block) (*utxo.MemorySet, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyChain
	}

	genesis := blocks[0]
	if genesis.Index != 0 {
		return nil, fmt.Errorf("%w: first block has index %d", ErrBadGenesis, genesis.Index)
	}
	if genesis.Header == nil {
		return nil, fmt.Errorf("%w: nil header", ErrBadGenesis)
	}
	if !genesis.Header.PrevHash.IsZero() {
		return nil, fmt.Errorf("%w: non-zero prev_hash", ErrBadGenesis)
	}
	if err := genesis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadGenesis, err)
	}

	set := utxo.NewMemorySet()
	delta, err := utxo.ComputeDelta(genesis, set)
	if err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	set.ApplyDelta(delta)

	getTimestamp := func(height uint64) (uint64, error) {
		if height >= uint64(len(blocks)) {
			return 0, fmt.Errorf("no block at height %d", height)
		}
		return blocks[height].Header.Timestamp, nil
	}

	for i := 1; i < len(blocks); i++ {
		blk := blocks[i]
		if _, err := v.ValidateBlock(blk, blocks[i-1], set, getTimestamp); err != nil {
			return nil, fmt.Errorf("block %d (%s): %w", blk.Index, shortHash(blk.Hash()), err)
		}
		delta, err := utxo.ComputeDelta(blk, set)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", blk.Index, err)
		}
		set.ApplyDelta(delta)
	}

	return set, nil
}

// shortHash abbreviates a hash for error messages.
func shortHash(h types.Hash) string {
	s := h.String()
	return s[:12]
}
