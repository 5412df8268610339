package tx

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

func testAddress(seed byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

func testOutpoint(seed byte, index uint32) types.Outpoint {
	var h types.Hash
	for i := range h {
		h[i] = seed
	}
	return types.Outpoint{TxID: h, Index: index}
}

func sampleTx() *Transaction {
	return &Transaction{
		Version: CurrentVersion,
		Inputs: []Input{{
			PrevOut:   testOutpoint(0x11, 0),
			PubKey:    []byte("pubkey bytes"),
			Signature: []byte("signature bytes"),
			Sequence:  DefaultSequence,
		}},
		Outputs: []Output{{
			Amount:    5000,
			Recipient: testAddress(0x22),
		}},
		Fee:       DefaultFee(),
		Timestamp: 1700000000,
	}
}

func TestHashExcludesSignatures(t *testing.T) {
	a := sampleTx()
	b := sampleTx()
	b.Inputs[0].Signature = []byte("a completely different signature")

	if a.Hash() != b.Hash() {
		t.Error("signature change altered the transaction hash")
	}

	// Everything else participates.
	c := sampleTx()
	c.Outputs[0].Amount++
	if a.Hash() == c.Hash() {
		t.Error("amount change did not alter the transaction hash")
	}
	d := sampleTx()
	d.Inputs[0].PubKey = []byte("other pubkey")
	if a.Hash() == d.Hash() {
		t.Error("pubkey change did not alter the transaction hash")
	}
}

func TestCoinbase(t *testing.T) {
	cb := NewCoinbase(testAddress(0x33), 5_000_000_000, 7, 1700000000)
	if !cb.IsCoinbase() {
		t.Fatal("NewCoinbase() is not a coinbase")
	}
	if err := cb.Validate(); err != nil {
		t.Fatalf("coinbase Validate() error: %v", err)
	}

	// Height makes each coinbase hash unique.
	other := NewCoinbase(testAddress(0x33), 5_000_000_000, 8, 1700000000)
	if cb.Hash() == other.Hash() {
		t.Error("coinbases at different heights share a hash")
	}
}

func TestWireRoundTrip(t *testing.T) {
	orig := sampleTx()
	orig.Data = []byte("payload")
	orig.LockTime = 42

	decoded, err := FromWire(orig.WireBytes())
	if err != nil {
		t.Fatalf("FromWire() error: %v", err)
	}
	if !reflect.DeepEqual(orig, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, orig)
	}
	if orig.Hash() != decoded.Hash() {
		t.Error("round trip changed the transaction hash")
	}
}

func TestFromWireRejectsCorruptInput(t *testing.T) {
	wire := sampleTx().WireBytes()

	if _, err := FromWire(wire[:len(wire)-3]); err == nil {
		t.Error("truncated encoding accepted")
	}
	if _, err := FromWire(append(wire, 0x00)); err == nil {
		t.Error("trailing bytes accepted")
	}
	if _, err := FromWire(nil); err == nil {
		t.Error("empty encoding accepted")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := sampleTx()
	orig.Data = []byte{0xde, 0xad}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var back Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if orig.Hash() != back.Hash() {
		t.Error("JSON round trip changed the transaction hash")
	}
	if !reflect.DeepEqual(orig, &back) {
		t.Errorf("JSON round trip mismatch:\n got %+v\nwant %+v", &back, orig)
	}
}

func TestTotalOutputAmount(t *testing.T) {
	tr := sampleTx()
	tr.Outputs = append(tr.Outputs, Output{Amount: 300, Recipient: testAddress(0x44)})
	total, err := tr.TotalOutputAmount()
	if err != nil {
		t.Fatalf("TotalOutputAmount() error: %v", err)
	}
	if total != 5300 {
		t.Errorf("total = %d, want 5300", total)
	}

	tr.Outputs = append(tr.Outputs, Output{Amount: ^uint64(0), Recipient: testAddress(0x55)})
	if _, err := tr.TotalOutputAmount(); err == nil {
		t.Error("overflow not detected")
	}
}

func TestPriority(t *testing.T) {
	tr := sampleTx()
	tr.Fee = FeeDescriptor{BaseFee: 1000, PerByteFee: 10, PriorityMultiplier: 2.5}
	if got := tr.Priority(); got != 2500 {
		t.Errorf("Priority() = %v, want 2500", got)
	}
}

func TestBuilderSign(t *testing.T) {
	signer, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519() error: %v", err)
	}

	b := NewBuilder(1700000000).
		AddInput(testOutpoint(0x66, 1)).
		AddOutput(900, testAddress(0x77))
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	built := b.Build()

	if err := built.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if err := built.VerifySignatures(crypto.Ed25519Verifier{}); err != nil {
		t.Fatalf("VerifySignatures() error: %v", err)
	}

	// Tampering after signing must break verification.
	built.Outputs[0].Amount++
	if err := built.VerifySignatures(crypto.Ed25519Verifier{}); err == nil {
		t.Error("signature still verifies after output tamper")
	}
}
