package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoinbaseOutputIndex is the sentinel output index carried by coinbase inputs.
const CoinbaseOutputIndex = math.MaxUint32

// Outpoint identifies a specific output of a transaction. It is the
// identity of a UTXO: (source tx hash, output index).
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsCoinbase returns true for the synthetic coinbase outpoint:
// zero TxID and index 2^32-1.
func (o Outpoint) IsCoinbase() bool {
	return o.TxID.IsZero() && o.Index == CoinbaseOutputIndex
}

// CoinbaseOutpoint returns the synthetic outpoint used by coinbase inputs.
func CoinbaseOutpoint() Outpoint {
	return Outpoint{TxID: Hash{}, Index: CoinbaseOutputIndex}
}

// String returns "hex(txid):index". This is also the persistent key form
// used by the utxos tree.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

// ParseOutpoint parses the "hex(txid):index" form back into an Outpoint.
func ParseOutpoint(s string) (Outpoint, error) {
	sep := strings.LastIndex(s, ":")
	if sep < 0 {
		return Outpoint{}, fmt.Errorf("outpoint %q: missing separator", s)
	}
	txid, err := HexToHash(s[:sep])
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint %q: %w", s, err)
	}
	idx, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint %q: bad index: %w", s, err)
	}
	return Outpoint{TxID: txid, Index: uint32(idx)}, nil
}
