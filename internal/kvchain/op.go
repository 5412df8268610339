// Package kvchain implements the chained key/value store: a block log of
// put/delete operations secured by string-prefix proof of work, Ed25519
// block signatures, and a merkle commitment over the operations. It is
// the lightweight sibling of the UTXO ledger and backs the interactive
// shell.
package kvchain

import (
	"encoding/json"
	"fmt"
)

// Op kinds.
const (
	OpPut = "Put"
	OpDel = "Del"
)

// Op is a single key/value mutation recorded in a block.
type Op struct {
	Kind  string `json:"-"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Put builds a put operation.
func Put(key, value string) Op {
	return Op{Kind: OpPut, Key: key, Value: value}
}

// Del builds a delete operation.
func Del(key string) Op {
	return Op{Kind: OpDel, Key: key}
}

// opPayload carries the externally tagged JSON body.
type opPayload struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// MarshalJSON encodes the op in externally tagged form:
// {"Put":{"key":...,"value":...}} or {"Del":{"key":...}}.
func (o Op) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OpPut:
		return json.Marshal(map[string]opPayload{OpPut: {Key: o.Key, Value: o.Value}})
	case OpDel:
		return json.Marshal(map[string]opPayload{OpDel: {Key: o.Key}})
	default:
		return nil, fmt.Errorf("unknown op kind %q", o.Kind)
	}
}

// UnmarshalJSON decodes the externally tagged form.
func (o *Op) UnmarshalJSON(data []byte) error {
	var tagged map[string]opPayload
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("op must have exactly one tag, got %d", len(tagged))
	}
	for kind, payload := range tagged {
		switch kind {
		case OpPut, OpDel:
			o.Kind = kind
			o.Key = payload.Key
			o.Value = payload.Value
		default:
			return fmt.Errorf("unknown op kind %q", kind)
		}
	}
	return nil
}
