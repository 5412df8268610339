package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound     = errors.New("input UTXO not found")
	ErrInputOverflow     = errors.New("input amounts overflow")
	ErrInsufficientFunds = errors.New("inputs less than outputs")
	ErrOwnerMismatch     = errors.New("pubkey does not match UTXO recipient")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	// GetOutput returns the unspent output referenced by op.
	GetOutput(op types.Outpoint) (Output, error)
	// HasOutput returns whether the outpoint is currently unspent.
	HasOutput(op types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set: every non-coinbase input must reference an existing unspent
// output owned by the input's public key, signatures must verify, and
// inputs must cover outputs. Returns the fee (inputs minus outputs).
//
// Coinbase transactions are rejected here: their value is checked by the
// block validator, which knows the subsidy and the block's total fees.
func (t *Transaction) ValidateWithUTXOs(provider UTXOProvider, verifier crypto.Verifier) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if t.IsCoinbase() {
		return 0, fmt.Errorf("coinbase transaction cannot be validated against UTXOs")
	}

	var totalInput uint64
	for i, in := range t.Inputs {
		if !provider.HasOutput(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}
		out, err := provider.GetOutput(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, err)
		}

		// Ownership: the spender's pubkey must hash to the recipient.
		if crypto.AddressFromPubKey(in.PubKey) != out.Recipient {
			return 0, fmt.Errorf("input %d: %w", i, ErrOwnerMismatch)
		}

		if totalInput > math.MaxUint64-out.Amount {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += out.Amount
	}

	if err := t.VerifySignatures(verifier); err != nil {
		return 0, err
	}

	totalOutput, err := t.TotalOutputAmount()
	if err != nil {
		return 0, err
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFunds, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}
