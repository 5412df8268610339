package rpc

import (
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ErrorResp is the error envelope.
type ErrorResp struct {
	Error string `json:"error"`
}

// SubmitResp acknowledges an accepted transaction.
type SubmitResp struct {
	TxHash types.Hash `json:"tx_hash"`
}

// MineReq selects the reward address for a mining request.
type MineReq struct {
	MinerAddress string `json:"miner_address"`
}

// MineResp reports a mining attempt.
type MineResp struct {
	Outcome  string     `json:"outcome"`
	Appended bool       `json:"appended"`
	Hash     types.Hash `json:"hash,omitempty"`
	Height   uint64     `json:"height,omitempty"`
	Attempts uint64     `json:"attempts"`
	HashRate float64    `json:"hash_rate"`
}

// TxResp wraps a transaction lookup.
type TxResp struct {
	Transaction *tx.Transaction `json:"transaction"`
	BlockHash   *types.Hash     `json:"block_hash,omitempty"`
	Pending     bool            `json:"pending"`
}

// BalanceResp reports an address balance.
type BalanceResp struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// MempoolResp lists pending transaction hashes.
type MempoolResp struct {
	Count  int          `json:"count"`
	Hashes []types.Hash `json:"hashes"`
}
