package kvchain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
)

// Verification errors.
var (
	ErrPrevHashMismatch = errors.New("prev_hash mismatch")
	ErrHashMismatch     = errors.New("hash mismatch")
	ErrInsufficientPoW  = errors.New("insufficient PoW")
	ErrBadSignature     = errors.New("signature verify failed")
)

// Genesis sentinels. These hex-free strings are part of the stored chain
// contract and cannot change without invalidating existing snapshots.
const (
	GenesisHash   = "GENESIS"
	GenesisMerkle = "GENESIS"
	NoPrevHash    = "0"
	EmptyOpsRoot  = "0"
	genesisKey    = "__genesis__"
)

// Block is one link of the key/value chain. Hashes are hex strings: the
// string-prefix PoW target ("difficulty" leading '0' characters) is the
// variant's on-disk contract.
type Block struct {
	Index        uint64  `json:"index"`
	Timestamp    int64   `json:"timestamp"`
	Ops          []Op    `json:"ops"`
	PrevHash     string  `json:"prev_hash"`
	MerkleRoot   string  `json:"merkle_root"`
	Nonce        uint64  `json:"nonce"`
	Hash         string  `json:"hash"`
	Signature    *string `json:"signature,omitempty"`     // hex, over the hash string
	SignerPubKey *string `json:"signer_pubkey,omitempty"` // hex, 32 bytes
}

// MerkleRootOps computes the merkle root over an operation list. Leaves
// hash the tagged operation fields; interior levels hash the hex-string
// representations of their children, duplicating the last on odd counts.
// An empty list yields "0" (genesis-metadata case only).
func MerkleRootOps(ops []Op) string {
	if len(ops) == 0 {
		return EmptyOpsRoot
	}

	hashes := make([]string, len(ops))
	for i, op := range ops {
		h := sha256.New()
		switch op.Kind {
		case OpPut:
			h.Write([]byte("PUT"))
			h.Write([]byte(op.Key))
			h.Write([]byte(op.Value))
		case OpDel:
			h.Write([]byte("DEL"))
			h.Write([]byte(op.Key))
		}
		hashes[i] = hex.EncodeToString(h.Sum(nil))
	}

	for len(hashes) > 1 {
		next := make([]string, 0, (len(hashes)+1)/2)
		for i := 0; i < len(hashes); i += 2 {
			h := sha256.New()
			h.Write([]byte(hashes[i]))
			if i+1 < len(hashes) {
				h.Write([]byte(hashes[i+1]))
			} else {
				h.Write([]byte(hashes[i])) // duplicate last if odd
			}
			next = append(next, hex.EncodeToString(h.Sum(nil)))
		}
		hashes = next
	}
	return hashes[0]
}

// ComputeHash derives a block hash from its sealed fields.
func ComputeHash(index uint64, timestamp int64, merkleRoot, prevHash string, nonce uint64) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], index)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])
	h.Write([]byte(merkleRoot))
	h.Write([]byte(prevHash))
	binary.LittleEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// MineProgress reports the state of a running mine loop.
type MineProgress struct {
	Nonce     uint64
	Candidate string
	HashRate  float64
}

// ProgressFunc consumes mining progress snapshots.
type ProgressFunc func(MineProgress)

// progressInterval is how often the mine loop reports.
const progressInterval = 500 * time.Millisecond

// Mine searches nonces from 0 until the hash starts with difficulty '0'
// characters. The optional progress callback fires about twice a second
// and once more with the winning candidate.
func Mine(index uint64, timestamp int64, merkleRoot, prevHash string, difficulty int, progress ProgressFunc) (uint64, string) {
	target := strings.Repeat("0", difficulty)
	start := time.Now()
	lastReport := start

	for nonce := uint64(0); ; nonce++ {
		candidate := ComputeHash(index, timestamp, merkleRoot, prevHash, nonce)
		if strings.HasPrefix(candidate, target) {
			if progress != nil {
				elapsed := time.Since(start).Seconds()
				if elapsed <= 0 {
					elapsed = 1e-6
				}
				progress(MineProgress{Nonce: nonce, Candidate: candidate, HashRate: float64(nonce+1) / elapsed})
			}
			return nonce, candidate
		}

		if progress != nil && time.Since(lastReport) >= progressInterval {
			elapsed := time.Since(start).Seconds()
			if elapsed <= 0 {
				elapsed = 1e-6
			}
			progress(MineProgress{Nonce: nonce, Candidate: candidate, HashRate: float64(nonce+1) / elapsed})
			lastReport = time.Now()
		}
	}
}

// NewBlock mines and signs a block holding ops. The signature covers the
// hash string, and the signer's public key is recorded in the block so
// verification is self-describing.
func NewBlock(index uint64, ops []Op, prevHash string, difficulty int, signer *crypto.Ed25519Signer, progress ProgressFunc) (*Block, error) {
	timestamp := time.Now().Unix()
	merkleRoot := MerkleRootOps(ops)

	nonce, hash := Mine(index, timestamp, merkleRoot, prevHash, difficulty, progress)

	sig, err := signer.Sign([]byte(hash))
	if err != nil {
		return nil, fmt.Errorf("sign block: %w", err)
	}
	sigHex := hex.EncodeToString(sig)
	pubHex := hex.EncodeToString(signer.PublicKey())

	return &Block{
		Index:        index,
		Timestamp:    timestamp,
		Ops:          ops,
		PrevHash:     prevHash,
		MerkleRoot:   merkleRoot,
		Nonce:        nonce,
		Hash:         hash,
		Signature:    &sigHex,
		SignerPubKey: &pubHex,
	}, nil
}

// GenesisBlock returns the fixed block at index 0.
func GenesisBlock() *Block {
	return &Block{
		Index:      0,
		Timestamp:  0,
		Ops:        []Op{Put(genesisKey, "ok")},
		PrevHash:   NoPrevHash,
		MerkleRoot: GenesisMerkle,
		Nonce:      0,
		Hash:       GenesisHash,
	}
}

// Verify checks this block against its predecessor's hash and the chain
// difficulty: linkage, hash integrity, proof of work, and — when a
// signature is recorded — the Ed25519 signature against the recorded
// signer public key.
func (b *Block) Verify(prevHash string, difficulty int) error {
	if b.PrevHash != prevHash {
		return fmt.Errorf("%w: block %d", ErrPrevHashMismatch, b.Index)
	}
	recomputed := ComputeHash(b.Index, b.Timestamp, b.MerkleRoot, b.PrevHash, b.Nonce)
	if recomputed != b.Hash {
		return fmt.Errorf("%w: block %d", ErrHashMismatch, b.Index)
	}
	if !strings.HasPrefix(b.Hash, strings.Repeat("0", difficulty)) {
		return fmt.Errorf("%w: block %d", ErrInsufficientPoW, b.Index)
	}
	if b.MerkleRoot != MerkleRootOps(b.Ops) {
		return fmt.Errorf("%w: block %d merkle root", ErrHashMismatch, b.Index)
	}

	if b.Signature != nil && b.SignerPubKey != nil {
		sig, err := hex.DecodeString(*b.Signature)
		if err != nil {
			return fmt.Errorf("block %d: bad signature hex: %w", b.Index, err)
		}
		if len(sig) != 64 {
			return fmt.Errorf("block %d: signature must be 64 bytes, got %d", b.Index, len(sig))
		}
		pub, err := hex.DecodeString(*b.SignerPubKey)
		if err != nil {
			return fmt.Errorf("block %d: bad pubkey hex: %w", b.Index, err)
		}
		if len(pub) != 32 {
			return fmt.Errorf("block %d: public key must be 32 bytes, got %d", b.Index, len(pub))
		}
		if !crypto.Ed25519Verify([]byte(b.Hash), sig, pub) {
			return fmt.Errorf("%w: block %d", ErrBadSignature, b.Index)
		}
	}

	return nil
}
