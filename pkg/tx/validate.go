package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs          = errors.New("transaction has no inputs")
	ErrNoOutputs         = errors.New("transaction has no outputs")
	ErrDuplicateInput    = errors.New("duplicate input")
	ErrZeroOutput        = errors.New("output amount is zero")
	ErrOutputOverflow    = errors.New("output amounts overflow")
	ErrMissingPubKey     = errors.New("input missing public key")
	ErrMissingSig        = errors.New("input missing signature")
	ErrInvalidSig        = errors.New("invalid signature")
	ErrCoinbaseSignature = errors.New("coinbase input must not carry a signature")
	ErrCoinbaseNotAlone  = errors.New("coinbase input must be the only input")
)

// Validate checks transaction structure and intrinsic rules. Configured
// limits (input/output counts, sizes, dust) are enforced by the chain
// validator; this covers what is invalid in any configuration.
func (t *Transaction) Validate() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}

	seen := make(map[types.Outpoint]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true

		if in.IsCoinbase() {
			// Coinbase signature fields must be absent, not merely unverified.
			if len(t.Inputs) != 1 {
				return fmt.Errorf("input %d: %w", i, ErrCoinbaseNotAlone)
			}
			if len(in.Signature) != 0 || len(in.PubKey) != 0 {
				return fmt.Errorf("input %d: %w", i, ErrCoinbaseSignature)
			}
			continue
		}
		if len(in.PubKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
		}
		if len(in.Signature) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
	}

	var totalOutput uint64
	for i, out := range t.Outputs {
		// Genesis coinbase outputs may carry zero (allocation-free start);
		// everywhere else a zero amount is unspendable garbage.
		// A coinbase input's sequence is its block height, so 0 marks genesis.
		genesisCoinbase := t.IsCoinbase() && t.Inputs[0].Sequence == 0
		if out.Amount == 0 && !genesisCoinbase {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if totalOutput > math.MaxUint64-out.Amount {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Amount
	}

	return nil
}

// VerifySignatures checks every non-coinbase input signature over the
// transaction hash using the deployment's verifier.
func (t *Transaction) VerifySignatures(verifier crypto.Verifier) error {
	hash := t.Hash()
	for i, in := range t.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if !verifier.Verify(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
