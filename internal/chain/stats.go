package chain

import (
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Stats summarizes the ledger for operators and the RPC surface.
type Stats struct {
	Height            uint64     `json:"height"`
	TipHash           types.Hash `json:"tip_hash"`
	GenesisHash       types.Hash `json:"genesis_hash"`
	Blocks            uint64     `json:"blocks"`
	TotalTransactions uint64     `json:"total_transactions"`
	TotalSupply       uint64     `json:"total_supply"`
	UTXOs             int        `json:"utxos"`
	MempoolSize       int        `json:"mempool_size"`
	Difficulty        uint32     `json:"difficulty"`
	LastBlockTime     uint64     `json:"last_block_time"`
	AvgBlockInterval  float64    `json:"avg_block_interval_seconds"`
}

// avgWindow is how many trailing intervals feed the average block time.
const avgWindow = 32

// Stats returns a snapshot of ledger-wide counters.
func (c *Chain) Stats() (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return nil, ErrNoGenesis
	}

	meta, err := c.store.Metadata()
	if err != nil {
		return nil, err
	}

	tip := c.tipLocked()
	s := &Stats{
		Height:            tip.Index,
		TipHash:           tip.Hash(),
		GenesisHash:       meta.GenesisHash,
		Blocks:            uint64(len(c.blocks)),
		TotalTransactions: meta.TotalTransactions,
		TotalSupply:       meta.TotalSupply,
		UTXOs:             c.utxos.Count(),
		MempoolSize:       c.pool.Count(),
		Difficulty:        tip.Header.Difficulty,
		LastBlockTime:     tip.Header.Timestamp,
	}

	// Average interval over the trailing window.
	n := len(c.blocks)
	window := avgWindow
	if n-1 < window {
		window = n - 1
	}
	if window > 0 {
		first := c.blocks[n-1-window].Header.Timestamp
		last := tip.Header.Timestamp
		s.AvgBlockInterval = float64(last-first) / float64(window)
	}

	return s, nil
}
