package consensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
)

// Consistency errors.
var (
	ErrBadHeight          = errors.New("block height does not follow parent")
	ErrBadPrevHash        = errors.New("prev_hash does not match parent")
	ErrTimestampNotAfter  = errors.New("block timestamp not after parent")
	ErrTimestampTooFuture = errors.New("block timestamp too far in the future")
	ErrTooManyTxs         = errors.New("too many transactions in block")
	ErrBlockTooLarge      = errors.New("block too large")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptTooLarge     = errors.New("output script too large")
	ErrDataTooLarge       = errors.New("transaction data too large")
	ErrDustOutput         = errors.New("output amount below dust threshold")
	ErrCoinbaseValue      = errors.New("coinbase value exceeds subsidy plus fees")
	ErrEmptyChain         = errors.New("chain has no blocks")
	ErrBadGenesis         = errors.New("malformed genesis block")
)

// Validator checks candidate blocks against the consensus rules.
type Validator struct {
	params   config.Params
	verifier crypto.Verifier

	// now is the wall clock, replaceable in tests.
	now func() time.Time
}

// NewValidator creates a validator for the given rules and signature scheme.
func NewValidator(p config.Params, verifier crypto.Verifier) *Validator {
	return &Validator{
		params:   p,
		verifier: verifier,
		now:      time.Now,
	}
}

// SetClock overrides the wall clock used for future-drift checks.
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// ValidateBlock runs the full rule sequence for a candidate block against
// its parent and the current UTXO set. The first failure wins; on success
// the total fees collected by the block are returned.
//
// The sequence: header shape, height linkage, hash linkage, timestamp
// monotonicity, body/coinbase structure, per-transaction validity against
// the UTXO set, merkle commitment, proof of work, header counters, and
// the retarget rule.
func (v *Validator) ValidateBlock(blk, prev *block.Block, set *utxo.MemorySet, getTimestamp TimestampFn) (uint64, error) {
	// 1. Header well-formed.
	if blk.Header == nil {
		return 0, block.ErrNilHeader
	}
	if blk.Header.Version < 1 || blk.Header.Version > block.MaxVersion {
		return 0, fmt.Errorf("%w: got %d", block.ErrBadVersion, blk.Header.Version)
	}
	if blk.Header.Difficulty == 0 {
		return 0, ErrZeroDifficulty
	}
	maxTime := uint64(v.now().Add(v.params.MaxFutureDrift).Unix())
	if blk.Header.Timestamp > maxTime {
		return 0, fmt.Errorf("%w: timestamp %d exceeds max %d", ErrTimestampTooFuture, blk.Header.Timestamp, maxTime)
	}

	// 2. Height follows parent.
	if blk.Index != prev.Index+1 {
		return 0, fmt.Errorf("%w: got %d, parent %d", ErrBadHeight, blk.Index, prev.Index)
	}

	// 3. Hash linkage.
	if blk.Header.PrevHash != prev.Hash() {
		return 0, fmt.Errorf("%w: got %s, want %s", ErrBadPrevHash, blk.Header.PrevHash, prev.Hash())
	}

	// 4. Timestamp strictly after parent.
	if blk.Header.Timestamp <= prev.Header.Timestamp {
		return 0, fmt.Errorf("%w: %d <= %d", ErrTimestampNotAfter, blk.Header.Timestamp, prev.Header.Timestamp)
	}

	// 5. Body structure: non-empty, coinbase exactly once in position 0.
	if len(blk.Transactions) == 0 {
		return 0, block.ErrNoTransactions
	}
	if !blk.Transactions[0].IsCoinbase() {
		return 0, block.ErrNoCoinbase
	}
	for i, t := range blk.Transactions[1:] {
		for _, in := range t.Inputs {
			if in.IsCoinbase() {
				return 0, fmt.Errorf("tx %d: %w", i+1, block.ErrMultipleCoinbase)
			}
		}
	}
	if len(blk.Transactions) > v.params.MaxBlockTxs {
		return 0, fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(blk.Transactions), v.params.MaxBlockTxs)
	}
	if blk.WireSize() > uint64(v.params.MaxBlockSize) {
		return 0, fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blk.WireSize(), v.params.MaxBlockSize)
	}

	// 6. Per-transaction validity against the UTXO set.
	totalFees, err := v.checkTransactions(blk, set)
	if err != nil {
		return 0, err
	}

	// 7. Merkle commitment.
	root, err := blk.TxMerkleRoot()
	if err != nil {
		return 0, err
	}
	if blk.Header.MerkleRoot != root {
		return 0, fmt.Errorf("%w: header=%s computed=%s", block.ErrBadMerkleRoot, blk.Header.MerkleRoot, root)
	}

	// 8. Proof of work.
	if err := VerifyHeader(blk.Header); err != nil {
		return 0, err
	}

	// 9. Header counters describe the body.
	if blk.Header.TxCount != uint32(len(blk.Transactions)) {
		return 0, fmt.Errorf("%w: header=%d body=%d", block.ErrBadTxCount, blk.Header.TxCount, len(blk.Transactions))
	}

	// 10. Difficulty matches the retarget rule.
	if getTimestamp != nil {
		if err := VerifyDifficulty(v.params, blk.Header, blk.Index, prev.Header.Difficulty, getTimestamp); err != nil {
			return 0, err
		}
	}

	return totalFees, nil
}

// checkTransactions validates every transaction in the block against the
// UTXO set (tracking intra-block spends), enforces the configured shape
// limits, and checks the coinbase value against subsidy plus fees.
func (v *Validator) checkTransactions(blk *block.Block, set *utxo.MemorySet) (uint64, error) {
	view := newBlockView(set)
	var totalFees uint64

	for i, t := range blk.Transactions {
		if err := v.checkShape(t); err != nil {
			return 0, fmt.Errorf("tx %d: %w", i, err)
		}

		if t.IsCoinbase() {
			if err := t.Validate(); err != nil {
				return 0, fmt.Errorf("tx %d: %w", i, err)
			}
			view.add(t)
			continue
		}

		fee, err := t.ValidateWithUTXOs(view, v.verifier)
		if err != nil {
			return 0, fmt.Errorf("tx %d: %w", i, err)
		}
		totalFees += fee
		view.spendInputs(t)
		view.add(t)
	}

	// Coinbase may claim at most subsidy plus collected fees.
	coinbase := blk.Transactions[0]
	coinbaseValue, err := coinbase.TotalOutputAmount()
	if err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}
	allowed := v.params.BlockReward(blk.Index) + totalFees
	if coinbaseValue > allowed {
		return 0, fmt.Errorf("%w: got %d, max %d", ErrCoinbaseValue, coinbaseValue, allowed)
	}

	return totalFees, nil
}

// checkShape enforces the configured transaction limits.
func (v *Validator) checkShape(t *tx.Transaction) error {
	if len(t.Inputs) > v.params.MaxTxInputs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyInputs, len(t.Inputs), v.params.MaxTxInputs)
	}
	if len(t.Outputs) > v.params.MaxTxOutputs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyOutputs, len(t.Outputs), v.params.MaxTxOutputs)
	}
	if len(t.Data) > v.params.MaxTxDataSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrDataTooLarge, len(t.Data), v.params.MaxTxDataSize)
	}
	for i, out := range t.Outputs {
		if len(out.Script) > v.params.MaxScriptSize {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptTooLarge, len(out.Script), v.params.MaxScriptSize)
		}
		if !t.IsCoinbase() && out.Amount < v.params.DustThreshold {
			return fmt.Errorf("output %d: %w: %d < %d", i, ErrDustOutput, out.Amount, v.params.DustThreshold)
		}
	}
	return nil
}
