package chain

import (
	"fmt"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// NewGenesisBlock builds the block at height 0: zero previous hash, a
// single coinbase paying the initial subsidy to addr, and no proof of
// work (the genesis block is accepted axiomatically).
func NewGenesisBlock(p config.Params, addr types.Address, timestamp uint64) (*block.Block, error) {
	if timestamp == 0 {
		return nil, fmt.Errorf("genesis timestamp must be non-zero")
	}
	coinbase := tx.NewCoinbase(addr, p.InitialReward, 0, timestamp)
	return assemble(0, types.ZeroHash, timestamp, 0, []*tx.Transaction{coinbase})
}
