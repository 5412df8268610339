package tx

import (
	"fmt"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder with the default fee.
func NewBuilder(timestamp uint64) *Builder {
	return &Builder{
		tx: &Transaction{
			Version:   CurrentVersion,
			Fee:       DefaultFee(),
			Timestamp: timestamp,
		},
	}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut, Sequence: DefaultSequence})
	return b
}

// AddOutput adds an output paying amount to addr.
func (b *Builder) AddOutput(amount uint64, addr types.Address) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Amount: amount, Recipient: addr})
	return b
}

// SetFee overrides the fee descriptor.
func (b *Builder) SetFee(fee FeeDescriptor) *Builder {
	b.tx.Fee = fee
	return b
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint64) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// SetData attaches an opaque data blob.
func (b *Builder) SetData(data []byte) *Builder {
	b.tx.Data = data
	return b
}

// Sign signs all inputs with the given signer. All inputs receive the
// same signature over the transaction hash (single-key spending).
//
// Public keys participate in the hash, so they are attached to every
// input before hashing; only signatures are excluded from identity.
func (b *Builder) Sign(signer crypto.Signer) error {
	pubKey := signer.PublicKey()
	for i := range b.tx.Inputs {
		if b.tx.Inputs[i].IsCoinbase() {
			continue
		}
		b.tx.Inputs[i].PubKey = pubKey
	}

	hash := b.tx.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	for i := range b.tx.Inputs {
		if b.tx.Inputs[i].IsCoinbase() {
			continue
		}
		b.tx.Inputs[i].Signature = sig
	}
	return nil
}

// Build returns the constructed transaction.
// Does NOT validate; call Validate separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
