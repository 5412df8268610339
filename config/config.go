// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol parameters: consensus rules baked into the stored chain,
//     must match across every process that opens the same database
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// Protocol parameters (consensus rules)
// =============================================================================

// Params holds the consensus rules for a chain. Changing any of these on
// an existing database invalidates the stored chain.
type Params struct {
	// InitialDifficulty is the PoW difficulty (leading zero bits) of the
	// first mined block and of every block until the first retarget.
	InitialDifficulty uint32

	// RetargetWindow is the number of blocks between difficulty adjustments.
	RetargetWindow uint64

	// TargetBlockTime is the desired interval between blocks.
	TargetBlockTime time.Duration

	// RetargetMaxStep clamps each retarget to [1/step, step] of the
	// previous difficulty.
	RetargetMaxStep uint64

	// MaxFutureDrift bounds how far ahead of wall clock a block
	// timestamp may be.
	MaxFutureDrift time.Duration

	// InitialReward is the coinbase subsidy at height 0, in base units.
	InitialReward uint64

	// HalvingInterval is the number of blocks between subsidy halvings.
	HalvingInterval uint64

	// MaxBlockTxs caps transactions per block, coinbase included.
	MaxBlockTxs int

	// MaxBlockSize caps the canonical encoding of a block, in bytes.
	MaxBlockSize int

	// MaxTxInputs and MaxTxOutputs cap transaction shape.
	MaxTxInputs  int
	MaxTxOutputs int

	// MaxScriptSize caps the optional output script, in bytes.
	MaxScriptSize int

	// MaxTxDataSize caps the optional transaction data blob, in bytes.
	MaxTxDataSize int

	// DustThreshold is the minimum spendable output amount.
	DustThreshold uint64

	// MinFee is the minimum fee for mempool admission, in base units.
	MinFee uint64

	// MempoolMaxSize caps the number of pending transactions.
	MempoolMaxSize int
}

// DefaultParams returns the default consensus rules.
func DefaultParams() Params {
	return Params{
		InitialDifficulty: 16,
		RetargetWindow:    10,
		TargetBlockTime:   10 * time.Second,
		RetargetMaxStep:   4,
		MaxFutureDrift:    2 * time.Hour,
		InitialReward:     5_000_000_000, // 50 units
		HalvingInterval:   210_000,
		MaxBlockTxs:       1000,
		MaxBlockSize:      1 << 20, // 1 MiB
		MaxTxInputs:       256,
		MaxTxOutputs:      256,
		MaxScriptSize:     1024,
		MaxTxDataSize:     4096,
		DustThreshold:     546,
		MinFee:            1000,
		MempoolMaxSize:    5000,
	}
}

// BlockReward returns the coinbase subsidy at the given height:
// InitialReward >> (height / HalvingInterval), floored at 1.
func (p Params) BlockReward(height uint64) uint64 {
	halvings := height / p.HalvingInterval
	if halvings >= 64 {
		return 1
	}
	reward := p.InitialReward >> halvings
	if reward < 1 {
		reward = 1
	}
	return reward
}

// =============================================================================
// Node configuration (runtime, per-node settings)
// =============================================================================

// StorageBackend selects the embedded key/value store.
type StorageBackend string

const (
	BackendBadger StorageBackend = "badger"
	BackendBolt   StorageBackend = "bolt"
)

// Config holds node-specific runtime configuration.
type Config struct {
	DataDir string
	Backend StorageBackend

	RPC    RPCConfig
	Mining MiningConfig
	Log    LogConfig
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled bool
	Addr    string
	Port    int
}

// MiningConfig holds block production settings.
type MiningConfig struct {
	Enabled  bool
	Coinbase string // Address receiving block rewards.

	// ProgressInterval is how often the miner emits progress snapshots.
	ProgressInterval time.Duration

	// Timeout bounds a single mining session (0 = none).
	Timeout time.Duration

	// MaxAttempts bounds nonce attempts per session (0 = none).
	MaxAttempts uint64
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Backend: BackendBadger,
		RPC: RPCConfig{
			Enabled: true,
			Addr:    "127.0.0.1",
			Port:    8545,
		},
		Mining: MiningConfig{
			Enabled:          false,
			ProgressInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultDataDir returns the platform default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledgerdb"
	}
	return filepath.Join(home, ".ledgerdb")
}
