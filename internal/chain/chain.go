// Package chain implements the ledger controller: the single writer that
// validates, mines, persists, and serves the blockchain state.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/internal/consensus"
	"github.com/ledgerdb/ledgerdb/internal/log"
	"github.com/ledgerdb/ledgerdb/internal/mempool"
	"github.com/ledgerdb/ledgerdb/internal/metrics"
	"github.com/ledgerdb/ledgerdb/internal/miner"
	"github.com/ledgerdb/ledgerdb/internal/storage"
	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Controller errors.
var (
	ErrNoGenesis     = errors.New("chain has no genesis block")
	ErrAlreadyInit   = errors.New("chain already initialized")
	ErrStaleTip      = errors.New("mined block discarded: tip advanced during mining")
	ErrCorruptReopen = errors.New("stored chain does not match metadata")
)

// Event notifies subscribers of an appended block.
type Event struct {
	Height uint64     `json:"height"`
	Hash   types.Hash `json:"hash"`
	Txs    int        `json:"txs"`
}

// Chain is the ledger controller. All mutations serialize through its
// writer lock; reads take the reader side. The miner runs outside the
// lock on a header snapshot and the commit path resolves the only
// resulting race (stale tip) by discarding.
type Chain struct {
	mu sync.RWMutex

	params    config.Params
	verifier  crypto.Verifier
	validator *consensus.Validator
	store     *Store
	miner     *miner.Miner

	blocks []*block.Block          // Height-indexed, genesis at 0.
	byHash map[types.Hash]uint64   // Block hash -> height.
	utxos  *utxo.MemorySet
	pool   *mempool.Pool

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan Event
}

// Open opens the ledger over db, running journal recovery, loading the
// chain, and replaying full validation before accepting the state. A
// fresh database yields a chain awaiting InitGenesis.
func Open(db storage.DB, p config.Params, verifier crypto.Verifier, minerCfg miner.Config) (*Chain, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}

	store, err := OpenStore(db)
	if err != nil {
		return nil, err
	}
	if n := store.Recovered(); n > 0 {
		metrics.JournalRollbacks.Add(float64(n))
		log.Storage.Warn().Int("entries", n).Msg("rolled back uncommitted journal entries")
	}

	c := &Chain{
		params:    p,
		verifier:  verifier,
		validator: consensus.NewValidator(p, verifier),
		store:     store,
		miner:     miner.New(minerCfg),
		byHash:    make(map[types.Hash]uint64),
		utxos:     utxo.NewMemorySet(),
		subs:      make(map[int]chan Event),
	}
	c.pool = mempool.New(c.utxos, verifier, p.MempoolMaxSize, p.MinFee)

	blocks, err := store.LoadAllBlocks()
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	if len(blocks) == 0 {
		return c, nil
	}

	// Replay validation from genesis; the rebuilt UTXO set becomes the
	// in-memory view.
	set, err := c.validator.VerifyChain(blocks)
	if err != nil {
		return nil, fmt.Errorf("verify stored chain: %w", err)
	}

	meta, err := store.Metadata()
	if err != nil {
		return nil, err
	}
	tip := blocks[len(blocks)-1]
	if meta.Height != tip.Index || meta.TipHash != tip.Hash() {
		return nil, fmt.Errorf("%w: metadata height=%d tip=%s, chain height=%d tip=%s",
			ErrCorruptReopen, meta.Height, meta.TipHash, tip.Index, tip.Hash())
	}

	c.adoptChain(blocks, set)
	log.Chain.Info().
		Uint64("height", tip.Index).
		Str("tip", tip.Hash().String()).
		Msg("chain loaded")
	return c, nil
}

// adoptChain swaps in a verified chain and UTXO set. Caller must not hold
// the lock.
func (c *Chain) adoptChain(blocks []*block.Block, set *utxo.MemorySet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = blocks
	c.byHash = make(map[types.Hash]uint64, len(blocks))
	for _, b := range blocks {
		c.byHash[b.Hash()] = b.Index
	}
	c.utxos = set
	c.pool = mempool.New(c.utxos, c.verifier, c.params.MempoolMaxSize, c.params.MinFee)
	metrics.ChainHeight.Set(float64(blocks[len(blocks)-1].Index))
	metrics.UTXOCount.Set(float64(set.Count()))
	metrics.MempoolSize.Set(0)
}

// InitGenesis creates and persists the genesis block, paying the initial
// subsidy to addr. Fails if the chain already has blocks.
func (c *Chain) InitGenesis(addr types.Address, timestamp uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) != 0 {
		return fmt.Errorf("%w: height %d", ErrAlreadyInit, c.tipLocked().Index)
	}

	genesis, err := NewGenesisBlock(c.params, addr, timestamp)
	if err != nil {
		return err
	}
	return c.commitLocked(genesis)
}

// Miner returns the controller's miner, for progress subscriptions.
func (c *Chain) Miner() *miner.Miner {
	return c.miner
}

// Params returns the consensus rules.
func (c *Chain) Params() config.Params {
	return c.params
}

// Close flushes and closes the underlying store.
func (c *Chain) Close() error {
	return c.store.Close()
}

// ----------------------------------------------------------------------------
// Mutations
// ----------------------------------------------------------------------------

// SubmitTransaction validates t against the current UTXO set and admits
// it to the mempool. A rejected submission leaves all state unchanged.
func (c *Chain) SubmitTransaction(t *tx.Transaction) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return ErrNoGenesis
	}

	fee, err := c.pool.Add(t)
	if err != nil {
		metrics.TxRejected.Inc()
		return err
	}
	metrics.TxSubmitted.Inc()
	metrics.MempoolSize.Set(float64(c.pool.Count()))
	log.Mempool.Debug().
		Str("tx", t.Hash().String()).
		Uint64("fee", fee).
		Msg("transaction admitted")
	return nil
}

// BuildBlock assembles an unmined block on top of the current tip: a
// coinbase paying subsidy plus fees to minerAddr, then the highest
// priority mempool entries up to the per-block cap, trimmed to the block
// size limit. The header is complete except for the nonce.
func (c *Chain) BuildBlock(minerAddr types.Address) (*block.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return nil, ErrNoGenesis
	}
	tip := c.tipLocked()
	height := tip.Index + 1

	timestamp := uint64(time.Now().Unix())
	if timestamp <= tip.Header.Timestamp {
		timestamp = tip.Header.Timestamp + 1
	}

	selected := c.pool.SelectForBlock(c.params.MaxBlockTxs - 1)
	var totalFees uint64
	for _, t := range selected {
		totalFees += c.pool.GetFee(t.Hash())
	}

	coinbase := tx.NewCoinbase(minerAddr, c.params.BlockReward(height)+totalFees, height, timestamp)
	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	difficulty := consensus.ExpectedDifficulty(c.params, height, tip.Header.Difficulty, c.timestampAtLocked)

	blk, err := assemble(height, tip.Hash(), timestamp, difficulty, txs)
	if err != nil {
		return nil, err
	}

	// Size cap causes truncation, not an error: drop the cheapest
	// transactions until the block fits.
	for blk.WireSize() > uint64(c.params.MaxBlockSize) && len(blk.Transactions) > 1 {
		dropped := blk.Transactions[len(blk.Transactions)-1]
		fee := c.pool.GetFee(dropped.Hash())
		trimmed := blk.Transactions[1 : len(blk.Transactions)-1]
		coinbase = tx.NewCoinbase(minerAddr, coinbase.Outputs[0].Amount-fee, height, timestamp)
		txs = append([]*tx.Transaction{coinbase}, trimmed...)
		blk, err = assemble(height, tip.Hash(), timestamp, difficulty, txs)
		if err != nil {
			return nil, err
		}
	}

	return blk, nil
}

// assemble fills a block's header (merkle root, counters) from its parts.
func assemble(height uint64, prevHash types.Hash, timestamp uint64, difficulty uint32, txs []*tx.Transaction) (*block.Block, error) {
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	root, err := block.MerkleRoot(hashes)
	if err != nil {
		return nil, err
	}

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   prevHash,
		MerkleRoot: root,
		Timestamp:  timestamp,
		Difficulty: difficulty,
		TxCount:    uint32(len(txs)),
	}
	blk := block.New(height, header, txs)
	header.Size = blk.WireSize()
	return blk, nil
}

// MineReport describes the outcome of MineAndAppend.
type MineReport struct {
	Result   miner.Result
	Hash     types.Hash
	Appended bool
}

// MineAndAppend runs the proof-of-work search on blk and, on success,
// revalidates and commits it. Mining happens outside the writer lock;
// if the tip advanced meanwhile the mined block is discarded with
// ErrStaleTip. Cancellation and timeout are normal returns (Appended
// false, nil error).
func (c *Chain) MineAndAppend(blk *block.Block) (*MineReport, error) {
	result := c.miner.Mine(blk.Header)
	metrics.MiningSessions.WithLabelValues(result.Outcome.String()).Inc()
	metrics.MiningHashRate.Set(result.HashRate)

	report := &MineReport{Result: result}
	if result.Outcome != miner.Found {
		log.Miner.Info().
			Str("outcome", result.Outcome.String()).
			Uint64("attempts", result.Attempts).
			Dur("elapsed", result.Elapsed).
			Msg("mining session ended without a block")
		return report, nil
	}

	report.Hash = blk.Hash()
	if err := c.Append(blk); err != nil {
		if errors.Is(err, ErrStaleTip) {
			metrics.StaleBlocks.Inc()
			log.Miner.Warn().
				Str("hash", report.Hash.String()).
				Msg("discarding mined block: tip advanced")
		}
		return report, err
	}
	report.Appended = true
	return report, nil
}

// Append defensively revalidates blk against the current tip and commits
// it atomically: storage first (journaled), then the in-memory UTXO set,
// mempool eviction, stats, and subscriber notification. A failed append
// never advances height, never evicts the mempool, never mutates UTXOs.
func (c *Chain) Append(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return ErrNoGenesis
	}
	tip := c.tipLocked()
	if blk.Header.PrevHash != tip.Hash() || blk.Index != tip.Index+1 {
		return fmt.Errorf("%w: block %d on %s, tip is %d (%s)",
			ErrStaleTip, blk.Index, blk.Header.PrevHash, tip.Index, tip.Hash())
	}
	return c.commitLocked(blk)
}

// commitLocked validates (non-genesis) and persists a block extending the
// tip, then applies it to the in-memory state. Caller holds the writer lock.
func (c *Chain) commitLocked(blk *block.Block) error {
	var totalFees uint64
	if len(c.blocks) > 0 {
		fees, err := c.validator.ValidateBlock(blk, c.tipLocked(), c.utxos, c.timestampAtLocked)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		totalFees = fees
	} else if err := blk.Validate(); err != nil {
		return fmt.Errorf("validate genesis: %w", err)
	}

	delta, err := utxo.ComputeDelta(blk, c.utxos)
	if err != nil {
		return fmt.Errorf("compute utxo delta: %w", err)
	}

	// Minted coins: coinbase value minus recycled fees. A miner may claim
	// less than the fees collected; that burns value, it does not mint.
	coinbaseValue, err := blk.Transactions[0].TotalOutputAmount()
	if err != nil {
		return err
	}
	var minted uint64
	if coinbaseValue > totalFees {
		minted = coinbaseValue - totalFees
	}

	prevMeta, err := c.store.Metadata()
	if err != nil {
		return err
	}
	newMeta := &Metadata{
		Height:            blk.Index,
		TipHash:           blk.Hash(),
		TotalTransactions: prevMeta.TotalTransactions + uint64(len(blk.Transactions)),
		TotalSupply:       prevMeta.TotalSupply + minted,
		GenesisHash:       prevMeta.GenesisHash,
	}
	if len(c.blocks) == 0 {
		newMeta.GenesisHash = blk.Hash()
	}

	if err := c.store.ApplyBlock(blk, delta, newMeta); err != nil {
		return fmt.Errorf("persist block: %w", err)
	}

	// Storage committed; apply to memory. These cannot fail.
	c.utxos.ApplyDelta(delta)
	c.blocks = append(c.blocks, blk)
	c.byHash[blk.Hash()] = blk.Index
	c.pool.RemoveConfirmed(blk.Transactions)

	metrics.ChainHeight.Set(float64(blk.Index))
	metrics.BlocksAppended.Inc()
	metrics.UTXOCount.Set(float64(c.utxos.Count()))
	metrics.MempoolSize.Set(float64(c.pool.Count()))

	log.Chain.Info().
		Uint64("height", blk.Index).
		Str("hash", blk.Hash().String()).
		Int("txs", len(blk.Transactions)).
		Msg("block appended")

	c.notify(Event{Height: blk.Index, Hash: blk.Hash(), Txs: len(blk.Transactions)})
	return nil
}

// ----------------------------------------------------------------------------
// Locked helpers
// ----------------------------------------------------------------------------

func (c *Chain) tipLocked() *block.Block {
	return c.blocks[len(c.blocks)-1]
}

// timestampAtLocked serves the retarget rule from the in-memory chain.
// Caller holds at least the reader lock.
func (c *Chain) timestampAtLocked(height uint64) (uint64, error) {
	if height >= uint64(len(c.blocks)) {
		return 0, fmt.Errorf("%w: block at height %d", ErrNotFound, height)
	}
	return c.blocks[height].Header.Timestamp, nil
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

// Height returns the tip height.
func (c *Chain) Height() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return 0, ErrNoGenesis
	}
	return c.tipLocked().Index, nil
}

// TipHash returns the hash of the current tip.
func (c *Chain) TipHash() (types.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return types.Hash{}, ErrNoGenesis
	}
	return c.tipLocked().Hash(), nil
}

// GetBlockByHeight returns the block at the given height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	c.mu.RLock()
	if height < uint64(len(c.blocks)) {
		blk := c.blocks[height]
		c.mu.RUnlock()
		return blk, nil
	}
	c.mu.RUnlock()
	return c.store.GetBlockByHeight(height)
}

// GetBlock returns the block with the given hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	c.mu.RLock()
	if height, ok := c.byHash[hash]; ok {
		blk := c.blocks[height]
		c.mu.RUnlock()
		return blk, nil
	}
	c.mu.RUnlock()
	return c.store.GetBlock(hash)
}

// GetTransaction returns a transaction by hash: pending transactions
// first, then confirmed ones (with their containing block hash).
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, types.Hash, error) {
	c.mu.RLock()
	if pending := c.pool.Get(hash); pending != nil {
		c.mu.RUnlock()
		return pending, types.Hash{}, nil
	}
	c.mu.RUnlock()
	return c.store.GetTransaction(hash)
}

// GetUTXOs returns the unspent outputs paying an address.
func (c *Chain) GetUTXOs(addr types.Address) []*utxo.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.utxos.ByAddress(addr)
}

// GetBalance returns the total unspent amount held by an address.
func (c *Chain) GetBalance(addr types.Address) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.utxos.Balance(addr)
}

// PendingCount returns the mempool size.
func (c *Chain) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool.Count()
}

// PendingHashes returns the hashes of all pending transactions.
func (c *Chain) PendingHashes() []types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool.Hashes()
}

// CompactJournal drops committed journal entries older than retention.
func (c *Chain) CompactJournal(retention time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.CompactJournal(retention)
}

// VerifyChain replays full validation from genesis to tip.
func (c *Chain) VerifyChain() error {
	c.mu.RLock()
	blocks := c.blocks
	c.mu.RUnlock()
	if len(blocks) == 0 {
		return ErrNoGenesis
	}
	_, err := c.validator.VerifyChain(blocks)
	return err
}

// ----------------------------------------------------------------------------
// Subscriptions
// ----------------------------------------------------------------------------

// Subscribe registers for block events. Slow consumers lose events.
func (c *Chain) Subscribe() (<-chan Event, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, 16)
	c.subs[id] = ch
	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (c *Chain) notify(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
