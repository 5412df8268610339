// Package metrics exposes Prometheus instrumentation for the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainHeight is the current tip height.
	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerdb_chain_height",
		Help: "Current blockchain height",
	})

	// BlocksAppended counts blocks committed to the chain.
	BlocksAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdb_blocks_appended_total",
		Help: "Total blocks appended to the chain",
	})

	// StaleBlocks counts mined blocks discarded because the tip moved.
	StaleBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdb_stale_blocks_total",
		Help: "Mined blocks discarded due to a stale tip",
	})

	// TxSubmitted counts transactions accepted into the mempool.
	TxSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdb_tx_submitted_total",
		Help: "Transactions admitted to the mempool",
	})

	// TxRejected counts transactions rejected at submission.
	TxRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdb_tx_rejected_total",
		Help: "Transactions rejected at submission",
	})

	// MempoolSize is the number of pending transactions.
	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerdb_mempool_size",
		Help: "Pending transactions in the mempool",
	})

	// UTXOCount is the size of the UTXO set.
	UTXOCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerdb_utxo_count",
		Help: "Unspent transaction outputs",
	})

	// MiningHashRate is the most recent miner hash rate.
	MiningHashRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerdb_mining_hash_rate",
		Help: "Most recent mining hash rate (attempts/s)",
	})

	// MiningSessions counts mining sessions by outcome.
	MiningSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerdb_mining_sessions_total",
		Help: "Mining sessions by outcome",
	}, []string{"outcome"})

	// JournalRollbacks counts journal entries rolled back during recovery.
	JournalRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerdb_journal_rollbacks_total",
		Help: "Uncommitted journal entries rolled back at startup",
	})
)
