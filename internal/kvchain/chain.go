package kvchain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ledgerdb/ledgerdb/internal/log"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
)

// Chain errors.
var (
	ErrEmptyChain    = errors.New("empty chain")
	ErrBatchActive   = errors.New("batch already active")
	ErrNoBatch       = errors.New("no active batch")
	ErrBadDifficulty = errors.New("difficulty must be 1..9")
	ErrNoKey         = errors.New("no signing key loaded")
)

// MinDifficulty and MaxDifficulty bound the session difficulty override.
const (
	MinDifficulty = 1
	MaxDifficulty = 9
)

// Chain is the chained key/value store: an append-only block log plus
// batch state for multi-op blocks. Safe for concurrent use.
type Chain struct {
	mu sync.RWMutex

	blocks     []*Block
	difficulty int

	batchActive bool
	batchOps    []Op
}

// chainDoc is the snapshot document: difficulty and the ordered blocks.
// Unknown fields are rejected on load.
type chainDoc struct {
	Blocks     []*Block `json:"blocks"`
	Difficulty int      `json:"difficulty"`
}

// New creates a chain holding only the genesis block.
func New(difficulty int) *Chain {
	return &Chain{
		blocks:     []*Block{GenesisBlock()},
		difficulty: difficulty,
	}
}

// Len returns the number of blocks.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Difficulty returns the current PoW difficulty.
func (c *Chain) Difficulty() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.difficulty
}

// SetDifficulty overrides the difficulty for this session (1..9).
func (c *Chain) SetDifficulty(n int) error {
	if n < MinDifficulty || n > MaxDifficulty {
		return ErrBadDifficulty
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.difficulty = n
	return nil
}

// Tip returns the last block.
func (c *Chain) Tip() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Block returns the block at the given index, or nil.
func (c *Chain) Block(index uint64) *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= uint64(len(c.blocks)) {
		return nil
	}
	return c.blocks[index]
}

// AppendSigned mines, signs, and appends a block holding ops.
func (c *Chain) AppendSigned(ops []Op, signer *crypto.Ed25519Signer, progress ProgressFunc) (*Block, error) {
	if signer == nil {
		return nil, ErrNoKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.blocks[len(c.blocks)-1]
	blk, err := NewBlock(last.Index+1, ops, last.Hash, c.difficulty, signer, progress)
	if err != nil {
		return nil, err
	}
	c.blocks = append(c.blocks, blk)

	log.Chain.Info().
		Uint64("index", blk.Index).
		Uint64("nonce", blk.Nonce).
		Int("ops", len(ops)).
		Msg("kv block mined")
	return blk, nil
}

// Materialize replays every operation into the current key/value state.
// The genesis marker key is skipped.
func (c *Chain) Materialize() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := make(map[string]string)
	for _, b := range c.blocks {
		for _, op := range b.Ops {
			switch op.Kind {
			case OpPut:
				if op.Key != genesisKey {
					state[op.Key] = op.Value
				}
			case OpDel:
				delete(state, op.Key)
			}
		}
	}
	return state
}

// Get reads one key from the materialized state.
func (c *Chain) Get(key string) (string, bool) {
	state := c.Materialize()
	v, ok := state[key]
	return v, ok
}

// VerifyAll validates every link of the chain: hashes, PoW, merkle
// commitments, and recorded signatures.
func (c *Chain) VerifyAll() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return verifyBlocks(c.blocks, c.difficulty)
}

func verifyBlocks(blocks []*Block, difficulty int) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}
	for i := 1; i < len(blocks); i++ {
		if err := blocks[i].Verify(blocks[i-1].Hash, difficulty); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Batching
// ----------------------------------------------------------------------------

// BeginBatch starts accumulating a multi-op block.
func (c *Chain) BeginBatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batchActive {
		return ErrBatchActive
	}
	c.batchActive = true
	c.batchOps = c.batchOps[:0]
	return nil
}

// AddPut appends a put operation to the active batch.
func (c *Chain) AddPut(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.batchActive {
		return ErrNoBatch
	}
	c.batchOps = append(c.batchOps, Put(key, value))
	return nil
}

// AddDel appends a delete operation to the active batch.
func (c *Chain) AddDel(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.batchActive {
		return ErrNoBatch
	}
	c.batchOps = append(c.batchOps, Del(key))
	return nil
}

// AbortBatch drops the active batch.
func (c *Chain) AbortBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchActive = false
	c.batchOps = c.batchOps[:0]
}

// CommitBatch mines and appends the accumulated operations as one block.
// Returns the number of operations committed.
func (c *Chain) CommitBatch(signer *crypto.Ed25519Signer, progress ProgressFunc) (int, error) {
	c.mu.Lock()
	if !c.batchActive {
		c.mu.Unlock()
		return 0, ErrNoBatch
	}
	ops := make([]Op, len(c.batchOps))
	copy(ops, c.batchOps)
	c.batchActive = false
	c.batchOps = c.batchOps[:0]
	c.mu.Unlock()

	if _, err := c.AppendSigned(ops, signer, progress); err != nil {
		return 0, err
	}
	return len(ops), nil
}

// ----------------------------------------------------------------------------
// Snapshot I/O
// ----------------------------------------------------------------------------

// Save writes the chain snapshot document to path. Output is
// deterministic: identical chains produce identical bytes.
func (c *Chain) Save(path string) error {
	c.mu.RLock()
	doc := chainDoc{Blocks: c.blocks, Difficulty: c.difficulty}
	data, err := json.MarshalIndent(&doc, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal chain: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write chain: %w", err)
	}
	return nil
}

// Load reads a snapshot document, verifies the whole chain, and returns
// it. Unknown fields are rejected; a verification failure returns an
// error and no chain, leaving the caller's current chain untouched.
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}

	var doc chainDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse chain: %w", err)
	}
	if len(doc.Blocks) == 0 {
		return nil, ErrEmptyChain
	}
	if doc.Difficulty < MinDifficulty || doc.Difficulty > MaxDifficulty {
		return nil, fmt.Errorf("%w: %d", ErrBadDifficulty, doc.Difficulty)
	}

	if err := verifyBlocks(doc.Blocks, doc.Difficulty); err != nil {
		return nil, fmt.Errorf("load verify: %w", err)
	}

	return &Chain{
		blocks:     doc.Blocks,
		difficulty: doc.Difficulty,
	}, nil
}
