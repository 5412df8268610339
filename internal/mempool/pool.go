// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
)

// entry wraps a pending transaction with its admission metadata.
type entry struct {
	tx     *tx.Transaction
	txHash types.Hash
	fee    uint64  // Actual fee: inputs minus outputs.
	score  float64 // Priority: base fee times multiplier.
}

// Pool holds validated, unconfirmed transactions with priority ordering
// and capacity eviction. Non-persistent by design.
type Pool struct {
	mu      sync.RWMutex
	txs     map[types.Hash]*entry
	spends  map[types.Outpoint]types.Hash // outpoint -> claiming tx (conflict index)
	maxSize int
	minFee  uint64

	utxos    tx.UTXOProvider
	verifier crypto.Verifier
}

// New creates a mempool validating against the given UTXO view.
func New(utxos tx.UTXOProvider, verifier crypto.Verifier, maxSize int, minFee uint64) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:      make(map[types.Hash]*entry),
		spends:   make(map[types.Outpoint]types.Hash),
		maxSize:  maxSize,
		minFee:   minFee,
		utxos:    utxos,
		verifier: verifier,
	}
}

// Add validates and admits a transaction. Returns the computed fee.
// Rejects duplicates, double-spend conflicts with pending transactions,
// and anything that fails UTXO validation. When the pool is full the
// lowest-scored entry is evicted iff the newcomer outranks it.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := transaction.Hash()

	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	// Double-spend check against other pending transactions' inputs.
	for _, in := range transaction.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if conflictHash, exists := p.spends[in.PrevOut]; exists {
			return 0, fmt.Errorf("%w: input %s already claimed by %s", ErrConflict, in.PrevOut, conflictHash)
		}
	}

	fee, err := transaction.ValidateWithUTXOs(p.utxos, p.verifier)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if p.minFee > 0 && fee < p.minFee {
		return 0, fmt.Errorf("%w: got %d, need %d", ErrFeeTooLow, fee, p.minFee)
	}

	score := transaction.Priority()

	// Capacity eviction: admitting over the cap removes the lowest-scored
	// entry, but never in favor of a weaker newcomer.
	if len(p.txs) >= p.maxSize {
		lowestHash, lowestScore := p.findLowestScore()
		if score <= lowestScore {
			return 0, ErrPoolFull
		}
		p.removeLocked(lowestHash)
	}

	e := &entry{
		tx:     transaction,
		txHash: txHash,
		fee:    fee,
		score:  score,
	}
	p.txs[txHash] = e
	for _, in := range transaction.Inputs {
		if !in.IsCoinbase() {
			p.spends[in.PrevOut] = txHash
		}
	}

	return fee, nil
}

// Remove evicts a transaction by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	for _, in := range e.tx.Inputs {
		if !in.IsCoinbase() {
			delete(p.spends, in.PrevOut)
		}
	}
	delete(p.txs, txHash)
}

// RemoveConfirmed removes every transaction included in an applied block.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
}

// Has checks if a transaction is pending.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a pending transaction, or nil.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// GetFee returns the admission fee for a pending transaction (0 if absent).
func (p *Pool) GetFee(txHash types.Hash) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return 0
	}
	return e.fee
}

// Count returns the number of pending transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Hashes returns the hashes of all pending transactions.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// findLowestScore returns the hash and score of the weakest entry.
// Must be called with p.mu held and a non-empty pool.
func (p *Pool) findLowestScore() (types.Hash, float64) {
	var lowestHash types.Hash
	lowest := -1.0
	first := true
	for h, e := range p.txs {
		if first || e.score < lowest {
			lowest = e.score
			lowestHash = h
			first = false
		}
	}
	return lowestHash, lowest
}

// SelectForBlock returns up to limit transactions ordered by priority
// score descending, fee as the tiebreak.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].fee != entries[j].fee {
			return entries[i].fee > entries[j].fee
		}
		return entries[i].txHash.Compare(entries[j].txHash) < 0
	})

	if limit > len(entries) {
		limit = len(entries)
	}
	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].tx
	}
	return result
}
