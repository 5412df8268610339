package consensus

import (
	"errors"
	"testing"
	"time"

	"github.com/ledgerdb/ledgerdb/config"
	"github.com/ledgerdb/ledgerdb/internal/utxo"
	"github.com/ledgerdb/ledgerdb/pkg/block"
	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// testParams keeps mining fast: a 4-bit target needs ~16 attempts.
func testParams() config.Params {
	p := config.DefaultParams()
	p.InitialDifficulty = 4
	p.RetargetWindow = 10
	p.TargetBlockTime = time.Second
	p.MinFee = 0
	return p
}

// fixture owns a signer and builds mined blocks on a growing chain.
type fixture struct {
	t         *testing.T
	params    config.Params
	signer    *crypto.Ed25519Signer
	addr      types.Address
	validator *Validator
	blocks    []*block.Block
	set       *utxo.MemorySet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() error: %v", err)
	}
	p := testParams()
	f := &fixture{
		t:         t,
		params:    p,
		signer:    signer,
		addr:      crypto.AddressFromPubKey(signer.PublicKey()),
		validator: NewValidator(p, crypto.Ed25519Verifier{}),
		set:       utxo.NewMemorySet(),
	}

	genesis := f.buildBlock(0, types.ZeroHash, 1_700_000_000, 0,
		[]*tx.Transaction{tx.NewCoinbase(f.addr, p.InitialReward, 0, 1_700_000_000)})
	f.apply(genesis)
	return f
}

// buildBlock assembles a block; difficulty 0 skips mining (genesis).
func (f *fixture) buildBlock(height uint64, prev types.Hash, timestamp uint64, difficulty uint32, txs []*tx.Transaction) *block.Block {
	f.t.Helper()
	hashes := make([]types.Hash, len(txs))
	for i, tr := range txs {
		hashes[i] = tr.Hash()
	}
	root, err := block.MerkleRoot(hashes)
	if err != nil {
		f.t.Fatalf("MerkleRoot() error: %v", err)
	}
	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   prev,
		MerkleRoot: root,
		Timestamp:  timestamp,
		Difficulty: difficulty,
		TxCount:    uint32(len(txs)),
	}
	blk := block.New(height, header, txs)
	header.Size = blk.WireSize()
	if difficulty > 0 {
		mineHeader(header)
	}
	return blk
}

// mineHeader finds a nonce satisfying the header's own difficulty.
func mineHeader(h *block.Header) {
	target := Target(h.Difficulty)
	for nonce := uint64(0); ; nonce++ {
		h.Nonce = nonce
		if MeetsTarget(h.Hash(), target) {
			return
		}
	}
}

// unmineHeader finds a nonce whose hash fails the target, guaranteeing
// insufficient work.
func unmineHeader(h *block.Header) {
	target := Target(h.Difficulty)
	for nonce := uint64(0); ; nonce++ {
		h.Nonce = nonce
		if !MeetsTarget(h.Hash(), target) {
			return
		}
	}
}

func (f *fixture) apply(blk *block.Block) {
	f.t.Helper()
	delta, err := utxo.ComputeDelta(blk, f.set)
	if err != nil {
		f.t.Fatalf("ComputeDelta() error: %v", err)
	}
	f.set.ApplyDelta(delta)
	f.blocks = append(f.blocks, blk)
}

func (f *fixture) tip() *block.Block {
	return f.blocks[len(f.blocks)-1]
}

func (f *fixture) timestampAt(height uint64) (uint64, error) {
	return f.blocks[height].Header.Timestamp, nil
}

// nextCoinbaseBlock mines a valid empty block extending the tip.
func (f *fixture) nextCoinbaseBlock() *block.Block {
	tip := f.tip()
	height := tip.Index + 1
	difficulty := ExpectedDifficulty(f.params, height, tip.Header.Difficulty, f.timestampAt)
	cb := tx.NewCoinbase(f.addr, f.params.BlockReward(height), height, tip.Header.Timestamp+1)
	return f.buildBlock(height, tip.Hash(), tip.Header.Timestamp+1, difficulty, []*tx.Transaction{cb})
}

// extend mines and applies n empty blocks.
func (f *fixture) extend(n int) {
	for i := 0; i < n; i++ {
		blk := f.nextCoinbaseBlock()
		if _, err := f.validator.ValidateBlock(blk, f.tip(), f.set, f.timestampAt); err != nil {
			f.t.Fatalf("mined block %d failed validation: %v", blk.Index, err)
		}
		f.apply(blk)
	}
}

func TestValidateBlockHappyPath(t *testing.T) {
	f := newFixture(t)
	f.extend(3)

	if _, err := f.validator.VerifyChain(f.blocks); err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
}

func TestValidateBlockWithSpend(t *testing.T) {
	f := newFixture(t)

	genesisCoinbase := f.blocks[0].Transactions[0]
	spend := tx.NewBuilder(1_700_000_100).
		AddInput(types.Outpoint{TxID: genesisCoinbase.Hash(), Index: 0}).
		AddOutput(f.params.InitialReward-1000, f.addr)
	if err := spend.Sign(f.signer); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	tip := f.tip()
	height := tip.Index + 1
	cb := tx.NewCoinbase(f.addr, f.params.BlockReward(height)+1000, height, tip.Header.Timestamp+1)
	blk := f.buildBlock(height, tip.Hash(), tip.Header.Timestamp+1, f.params.InitialDifficulty,
		[]*tx.Transaction{cb, spend.Build()})

	fees, err := f.validator.ValidateBlock(blk, tip, f.set, f.timestampAt)
	if err != nil {
		t.Fatalf("ValidateBlock() error: %v", err)
	}
	if fees != 1000 {
		t.Errorf("fees = %d, want 1000", fees)
	}
}

func TestValidateBlockFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, blk *block.Block)
		wantErr error
	}{
		{
			name:    "height skip",
			mutate:  func(f *fixture, blk *block.Block) { blk.Index++ },
			wantErr: ErrBadHeight,
		},
		{
			name: "bad prev hash",
			mutate: func(f *fixture, blk *block.Block) {
				blk.Header.PrevHash[0] ^= 0x01
			},
			wantErr: ErrBadPrevHash,
		},
		{
			name: "timestamp not after parent",
			mutate: func(f *fixture, blk *block.Block) {
				blk.Header.Timestamp = f.tip().Header.Timestamp
			},
			wantErr: ErrTimestampNotAfter,
		},
		{
			name: "timestamp too far in future",
			mutate: func(f *fixture, blk *block.Block) {
				blk.Header.Timestamp = uint64(time.Now().Add(3 * time.Hour).Unix())
			},
			wantErr: ErrTimestampTooFuture,
		},
		{
			name: "zero difficulty",
			mutate: func(f *fixture, blk *block.Block) {
				blk.Header.Difficulty = 0
			},
			wantErr: ErrZeroDifficulty,
		},
		{
			name: "merkle mismatch",
			mutate: func(f *fixture, blk *block.Block) {
				blk.Header.MerkleRoot[0] ^= 0x01
			},
			wantErr: block.ErrBadMerkleRoot,
		},
		{
			name: "insufficient work",
			mutate: func(f *fixture, blk *block.Block) {
				unmineHeader(blk.Header)
			},
			wantErr: ErrInsufficientWork,
		},
		{
			name: "difficulty mismatch",
			mutate: func(f *fixture, blk *block.Block) {
				blk.Header.Difficulty = f.params.InitialDifficulty + 1
				mineHeader(blk.Header)
			},
			wantErr: ErrBadDifficulty,
		},
		{
			name: "coinbase over-claims",
			mutate: func(f *fixture, blk *block.Block) {
				rebuilt := tx.NewCoinbase(f.addr, f.params.BlockReward(blk.Index)+1, blk.Index, blk.Header.Timestamp)
				*blk = *f.buildBlock(blk.Index, blk.Header.PrevHash, blk.Header.Timestamp,
					blk.Header.Difficulty, []*tx.Transaction{rebuilt})
			},
			wantErr: ErrCoinbaseValue,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			blk := f.nextCoinbaseBlock()
			tc.mutate(f, blk)
			_, err := f.validator.ValidateBlock(blk, f.tip(), f.set, f.timestampAt)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateBlock() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateBlockMissingUTXO(t *testing.T) {
	f := newFixture(t)
	tip := f.tip()
	height := tip.Index + 1

	spend := tx.NewBuilder(1_700_000_100).
		AddInput(types.Outpoint{TxID: types.Hash{0xEE}, Index: 0}).
		AddOutput(1000, f.addr)
	if err := spend.Sign(f.signer); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	cb := tx.NewCoinbase(f.addr, f.params.BlockReward(height), height, tip.Header.Timestamp+1)
	blk := f.buildBlock(height, tip.Hash(), tip.Header.Timestamp+1, f.params.InitialDifficulty,
		[]*tx.Transaction{cb, spend.Build()})

	_, err := f.validator.ValidateBlock(blk, tip, f.set, f.timestampAt)
	if !errors.Is(err, tx.ErrInputNotFound) {
		t.Errorf("ValidateBlock() = %v, want %v", err, tx.ErrInputNotFound)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	f := newFixture(t)
	f.extend(3)

	// Tamper with a mid-chain coinbase output.
	f.blocks[2].Transactions[0].Outputs[0].Amount++

	if _, err := f.validator.VerifyChain(f.blocks); err == nil {
		t.Fatal("VerifyChain() accepted a tampered chain")
	}
}

func TestVerifyChainRejectsBadGenesis(t *testing.T) {
	f := newFixture(t)
	f.extend(1)

	broken := f.buildBlock(0, types.Hash{0x01}, 1_700_000_000, 0,
		[]*tx.Transaction{tx.NewCoinbase(f.addr, 1, 0, 1_700_000_000)})
	blocks := append([]*block.Block{broken}, f.blocks[1:]...)

	if _, err := f.validator.VerifyChain(blocks); !errors.Is(err, ErrBadGenesis) {
		t.Errorf("VerifyChain() = %v, want %v", err, ErrBadGenesis)
	}
}

func TestVerifyChainEmpty(t *testing.T) {
	v := NewValidator(testParams(), crypto.Ed25519Verifier{})
	if _, err := v.VerifyChain(nil); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("VerifyChain(nil) = %v, want %v", err, ErrEmptyChain)
	}
}

func TestVerifyChainRebuildsUTXOSet(t *testing.T) {
	f := newFixture(t)
	f.extend(4)

	set, err := f.validator.VerifyChain(f.blocks)
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if set.Count() != f.set.Count() {
		t.Errorf("rebuilt set has %d entries, fixture has %d", set.Count(), f.set.Count())
	}
	if set.Balance(f.addr) != f.set.Balance(f.addr) {
		t.Errorf("rebuilt balance %d != fixture balance %d", set.Balance(f.addr), f.set.Balance(f.addr))
	}
}
