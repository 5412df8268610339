// Package tx defines transaction types, hashing, and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ledgerdb/ledgerdb/pkg/crypto"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// CurrentVersion is the transaction version produced by this software.
const CurrentVersion = 1

// DefaultSequence is the sequence carried by regular inputs.
const DefaultSequence = math.MaxUint32

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature,omitempty"`
	PubKey    []byte         `json:"pubkey,omitempty"`
	Sequence  uint32         `json:"sequence"`
}

// IsCoinbase returns true for the synthetic coinbase input.
func (in Input) IsCoinbase() bool {
	return in.PrevOut.IsCoinbase()
}

// Output defines a new UTXO.
type Output struct {
	Amount    uint64        `json:"amount"`
	Recipient types.Address `json:"recipient"`
	Script    []byte        `json:"script,omitempty"`
}

// FeeDescriptor declares how the submitter prices a transaction.
// The actual fee paid is always inputs minus outputs; the descriptor
// drives mempool priority: score = BaseFee * PriorityMultiplier.
type FeeDescriptor struct {
	BaseFee            uint64  `json:"base_fee"`
	PerByteFee         uint64  `json:"per_byte_fee"`
	PriorityMultiplier float64 `json:"priority_multiplier"`
}

// DefaultFee returns the standard fee descriptor.
func DefaultFee() FeeDescriptor {
	return FeeDescriptor{
		BaseFee:            1000,
		PerByteFee:         10,
		PriorityMultiplier: 1.0,
	}
}

// Transaction represents a value transfer.
type Transaction struct {
	Version   uint32        `json:"version"`
	Inputs    []Input       `json:"inputs"`
	Outputs   []Output      `json:"outputs"`
	Fee       FeeDescriptor `json:"fee"`
	LockTime  uint64        `json:"locktime"`
	Timestamp uint64        `json:"timestamp"`
	Data      []byte        `json:"data,omitempty"`
}

// Hash computes the transaction ID: SHA-256 over the canonical encoding
// with input signatures cleared, so signing does not change identity.
func (t *Transaction) Hash() types.Hash {
	return crypto.Sum(t.SigningBytes())
}

// IsCoinbase returns true if this transaction creates new coins: a single
// synthetic input with zero previous hash and index 2^32-1.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].IsCoinbase()
}

// SigningBytes returns the canonical byte encoding used for hashing and
// signing. Input signatures are excluded; everything else participates.
//
// Format (all integers little-endian, fixed width):
//
//	version(4) | timestamp(8) | locktime(8)
//	| base_fee(8) | per_byte_fee(8) | priority_bits(8)
//	| input_count(4)  | [txid(32) index(4) sequence(4) pubkey_len(4) pubkey]...
//	| output_count(4) | [amount(8) recipient(20) script_len(4) script]...
//	| data_len(4) | data
func (t *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 64+len(t.Inputs)*80+len(t.Outputs)*40+len(t.Data))

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)
	buf = binary.LittleEndian.AppendUint64(buf, t.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, t.LockTime)

	buf = binary.LittleEndian.AppendUint64(buf, t.Fee.BaseFee)
	buf = binary.LittleEndian.AppendUint64(buf, t.Fee.PerByteFee)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t.Fee.PriorityMultiplier))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.PubKey)))
		buf = append(buf, in.PubKey...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Amount)
		buf = append(buf, out.Recipient[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script)))
		buf = append(buf, out.Script...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Data)))
	buf = append(buf, t.Data...)

	return buf
}

// TotalOutputAmount returns the sum of all output amounts.
// Returns an error if the sum overflows uint64.
func (t *Transaction) TotalOutputAmount() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Amount {
			return 0, fmt.Errorf("output amount overflow")
		}
		total += out.Amount
	}
	return total, nil
}

// NewCoinbase builds the coinbase transaction for a block at the given
// height, paying value (subsidy plus collected fees) to addr. The height
// is folded into the input sequence and data blob so every coinbase has
// a unique hash.
func NewCoinbase(addr types.Address, value, height, timestamp uint64) *Transaction {
	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, height)

	return &Transaction{
		Version: CurrentVersion,
		Inputs: []Input{{
			PrevOut:  types.CoinbaseOutpoint(),
			Sequence: uint32(height),
		}},
		Outputs: []Output{{
			Amount:    value,
			Recipient: addr,
		}},
		Timestamp: timestamp,
		Data:      heightBytes,
	}
}

// ----------------------------------------------------------------------------
// JSON with hex-encoded byte fields
// ----------------------------------------------------------------------------

type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature,omitempty"`
	PubKey    *string        `json:"pubkey,omitempty"`
	Sequence  uint32         `json:"sequence"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut, Sequence: in.Sequence}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	in.Sequence = j.Sequence
	in.Signature = nil
	in.PubKey = nil
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

type outputJSON struct {
	Amount    uint64        `json:"amount"`
	Recipient types.Address `json:"recipient"`
	Script    string        `json:"script,omitempty"`
}

// MarshalJSON encodes the output with a hex-encoded script.
func (out Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{
		Amount:    out.Amount,
		Recipient: out.Recipient,
		Script:    hex.EncodeToString(out.Script),
	})
}

// UnmarshalJSON decodes an output with a hex-encoded script.
func (out *Output) UnmarshalJSON(data []byte) error {
	var j outputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	out.Amount = j.Amount
	out.Recipient = j.Recipient
	out.Script = nil
	if j.Script != "" {
		b, err := hex.DecodeString(j.Script)
		if err != nil {
			return err
		}
		out.Script = b
	}
	return nil
}

type transactionJSON struct {
	Version   uint32        `json:"version"`
	Inputs    []Input       `json:"inputs"`
	Outputs   []Output      `json:"outputs"`
	Fee       FeeDescriptor `json:"fee"`
	LockTime  uint64        `json:"locktime"`
	Timestamp uint64        `json:"timestamp"`
	Data      string        `json:"data,omitempty"`
}

// MarshalJSON encodes the transaction with a hex-encoded data blob.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		Version:   t.Version,
		Inputs:    t.Inputs,
		Outputs:   t.Outputs,
		Fee:       t.Fee,
		LockTime:  t.LockTime,
		Timestamp: t.Timestamp,
		Data:      hex.EncodeToString(t.Data),
	})
}

// UnmarshalJSON decodes a transaction with a hex-encoded data blob.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var j transactionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t.Version = j.Version
	t.Inputs = j.Inputs
	t.Outputs = j.Outputs
	t.Fee = j.Fee
	t.LockTime = j.LockTime
	t.Timestamp = j.Timestamp
	t.Data = nil
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		t.Data = b
	}
	return nil
}
