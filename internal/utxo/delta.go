package utxo

import (
	"fmt"

	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ComputeDelta stages the UTXO changes for applying blk against the
// current set. Every non-coinbase input must reference a live entry that
// no earlier transaction in the same block already spent; outputs of all
// transactions (coinbase included) become new entries. Nothing is
// mutated: on error the set is untouched, making block application
// all-or-nothing.
func ComputeDelta(blk *block.Block, set *MemorySet) (*BlockDelta, error) {
	delta := &BlockDelta{}

	// Outputs created earlier in this same block are spendable by later
	// transactions in it.
	staged := make(map[types.Outpoint]*Entry)
	spent := make(map[types.Outpoint]bool)

	for ti, t := range blk.Transactions {
		txHash := t.Hash()

		for ii, in := range t.Inputs {
			if in.IsCoinbase() {
				continue
			}
			if spent[in.PrevOut] {
				return nil, fmt.Errorf("tx %d input %d: outpoint %s already spent in this block", ti, ii, in.PrevOut)
			}

			entry, err := set.Get(in.PrevOut)
			if err != nil {
				if e, ok := staged[in.PrevOut]; ok {
					entry = e
				} else {
					return nil, fmt.Errorf("tx %d input %d: %w: %s", ti, ii, ErrNotFound, in.PrevOut)
				}
			}
			spent[in.PrevOut] = true
			delta.Spent = append(delta.Spent, entry)
		}

		for i, out := range t.Outputs {
			entry := &Entry{
				Outpoint: types.Outpoint{TxID: txHash, Index: uint32(i)},
				Output:   out,
				Height:   blk.Index,
			}
			staged[entry.Outpoint] = entry
			delta.Created = append(delta.Created, entry)
		}
	}

	// An output created and spent within the same block nets out of the
	// delta entirely: it neither joins the final set nor existed before
	// the block, so undo must not resurrect it.
	if len(delta.Spent) > 0 {
		created := delta.Created[:0]
		for _, e := range delta.Created {
			if spent[e.Outpoint] {
				continue
			}
			created = append(created, e)
		}
		delta.Created = created

		kept := delta.Spent[:0]
		for _, e := range delta.Spent {
			if _, intraBlock := staged[e.Outpoint]; intraBlock {
				continue
			}
			kept = append(kept, e)
		}
		delta.Spent = kept
	}

	return delta, nil
}
