package tx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// mapProvider is a UTXOProvider backed by a plain map.
type mapProvider map[types.Outpoint]Output

func (m mapProvider) GetOutput(op types.Outpoint) (Output, error) {
	out, ok := m[op]
	if !ok {
		return Output{}, fmt.Errorf("utxo %s missing", op)
	}
	return out, nil
}

func (m mapProvider) HasOutput(op types.Outpoint) bool {
	_, ok := m[op]
	return ok
}

// fundedTx builds a signed transaction spending a synthetic UTXO worth
// `in` and paying `out` onward. Returns the transaction and a provider
// holding the UTXO.
func fundedTx(t *testing.T, in, out uint64) (*Transaction, mapProvider, *crypto.Ed25519Signer) {
	t.Helper()
	signer, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() error: %v", err)
	}
	owner := crypto.AddressFromPubKey(signer.PublicKey())
	prevOut := testOutpoint(0xAA, 0)
	provider := mapProvider{prevOut: {Amount: in, Recipient: owner}}

	b := NewBuilder(1700000000).
		AddInput(prevOut).
		AddOutput(out, testAddress(0xBB))
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return b.Build(), provider, signer
}

func TestValidateWithUTXOsFee(t *testing.T) {
	tr, provider, _ := fundedTx(t, 10_000, 9_000)

	fee, err := tr.ValidateWithUTXOs(provider, crypto.Ed25519Verifier{})
	if err != nil {
		t.Fatalf("ValidateWithUTXOs() error: %v", err)
	}
	if fee != 1000 {
		t.Errorf("fee = %d, want 1000", fee)
	}
}

func TestValidateWithUTXOsMissingInput(t *testing.T) {
	tr, _, _ := fundedTx(t, 10_000, 9_000)
	empty := mapProvider{}

	_, err := tr.ValidateWithUTXOs(empty, crypto.Ed25519Verifier{})
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("ValidateWithUTXOs() = %v, want %v", err, ErrInputNotFound)
	}
}

func TestValidateWithUTXOsOwnerMismatch(t *testing.T) {
	tr, provider, _ := fundedTx(t, 10_000, 9_000)

	// Hand the UTXO to someone else.
	for op, out := range provider {
		out.Recipient = testAddress(0xCC)
		provider[op] = out
	}

	_, err := tr.ValidateWithUTXOs(provider, crypto.Ed25519Verifier{})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("ValidateWithUTXOs() = %v, want %v", err, ErrOwnerMismatch)
	}
}

func TestValidateWithUTXOsInsufficientFunds(t *testing.T) {
	tr, provider, _ := fundedTx(t, 5_000, 9_000)

	_, err := tr.ValidateWithUTXOs(provider, crypto.Ed25519Verifier{})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("ValidateWithUTXOs() = %v, want %v", err, ErrInsufficientFunds)
	}
}

func TestValidateWithUTXOsBadSignature(t *testing.T) {
	tr, provider, _ := fundedTx(t, 10_000, 9_000)
	tr.Inputs[0].Signature[0] ^= 0x01

	_, err := tr.ValidateWithUTXOs(provider, crypto.Ed25519Verifier{})
	if !errors.Is(err, ErrInvalidSig) {
		t.Errorf("ValidateWithUTXOs() = %v, want %v", err, ErrInvalidSig)
	}
}

func TestValidateWithUTXOsRejectsCoinbase(t *testing.T) {
	cb := NewCoinbase(testAddress(0x10), 100, 1, 1700000000)
	if _, err := cb.ValidateWithUTXOs(mapProvider{}, crypto.Ed25519Verifier{}); err == nil {
		t.Error("coinbase accepted by UTXO validation")
	}
}
