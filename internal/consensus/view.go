package consensus

import (
	"fmt"

	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// blockView layers intra-block UTXO changes over the committed set while
// the transactions of one candidate block are validated in order: outputs
// of earlier transactions are spendable by later ones, and outpoints
// spent earlier in the block are gone.
type blockView struct {
	base    *utxo.MemorySet
	created map[types.Outpoint]tx.Output
	spent   map[types.Outpoint]bool
}

func newBlockView(base *utxo.MemorySet) *blockView {
	return &blockView{
		base:    base,
		created: make(map[types.Outpoint]tx.Output),
		spent:   make(map[types.Outpoint]bool),
	}
}

// add registers a validated transaction's outputs as spendable.
func (v *blockView) add(t *tx.Transaction) {
	txHash := t.Hash()
	for i, out := range t.Outputs {
		v.created[types.Outpoint{TxID: txHash, Index: uint32(i)}] = out
	}
}

// spendInputs marks a validated transaction's inputs as consumed.
func (v *blockView) spendInputs(t *tx.Transaction) {
	for _, in := range t.Inputs {
		if !in.IsCoinbase() {
			v.spent[in.PrevOut] = true
		}
	}
}

// GetOutput implements tx.UTXOProvider.
func (v *blockView) GetOutput(op types.Outpoint) (tx.Output, error) {
	if v.spent[op] {
		return tx.Output{}, fmt.Errorf("%w: %s", utxo.ErrNotFound, op)
	}
	if out, ok := v.created[op]; ok {
		return out, nil
	}
	return v.base.GetOutput(op)
}

// HasOutput implements tx.UTXOProvider.
func (v *blockView) HasOutput(op types.Outpoint) bool {
	if v.spent[op] {
		return false
	}
	if _, ok := v.created[op]; ok {
		return true
	}
	return v.base.Has(op)
}
