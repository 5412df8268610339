package tx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ErrTruncated is returned when a wire encoding ends prematurely.
var ErrTruncated = errors.New("truncated transaction encoding")

// maxWireCount bounds decoded collection lengths so a corrupt length
// prefix cannot trigger a huge allocation.
const maxWireCount = 1 << 20

// WireBytes returns the persistent encoding of the transaction: the
// signing layout plus the input signatures. This is the canonical
// serializer output stored in the transactions tree.
func (t *Transaction) WireBytes() []byte {
	buf := make([]byte, 0, 64+len(t.Inputs)*160+len(t.Outputs)*40+len(t.Data))

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
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Signature)))
		buf = append(buf, in.Signature...)
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

// FromWire decodes a transaction from its persistent encoding.
func FromWire(data []byte) (*Transaction, error) {
	r := wireReader{buf: data}
	t := &Transaction{}

	t.Version = r.uint32()
	t.Timestamp = r.uint64()
	t.LockTime = r.uint64()

	t.Fee.BaseFee = r.uint64()
	t.Fee.PerByteFee = r.uint64()
	t.Fee.PriorityMultiplier = math.Float64frombits(r.uint64())

	inCount := r.count()
	for i := 0; i < inCount && r.err == nil; i++ {
		var in Input
		copy(in.PrevOut.TxID[:], r.take(types.HashSize))
		in.PrevOut.Index = r.uint32()
		in.Sequence = r.uint32()
		in.PubKey = r.bytes()
		in.Signature = r.bytes()
		t.Inputs = append(t.Inputs, in)
	}

	outCount := r.count()
	for i := 0; i < outCount && r.err == nil; i++ {
		var out Output
		out.Amount = r.uint64()
		copy(out.Recipient[:], r.take(types.AddressSize))
		out.Script = r.bytes()
		t.Outputs = append(t.Outputs, out)
	}

	t.Data = r.bytes()

	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != r.off {
		return nil, fmt.Errorf("trailing bytes after transaction encoding")
	}
	return t, nil
}

// wireReader is a cursor over a wire encoding. The first failure sticks;
// subsequent reads return zero values.
type wireReader struct {
	buf []byte
	off int
	err error
}

func (r *wireReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *wireReader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *wireReader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// count reads a uint32 length prefix and bounds it.
func (r *wireReader) count() int {
	n := r.uint32()
	if r.err == nil && n > maxWireCount {
		r.err = fmt.Errorf("implausible collection length %d", n)
		return 0
	}
	return int(n)
}

// bytes reads a uint32 length prefix followed by that many bytes.
// A zero length yields nil.
func (r *wireReader) bytes() []byte {
	n := r.count()
	if r.err != nil || n == 0 {
		return nil
	}
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
