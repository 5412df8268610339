package tx

// Priority returns the mempool priority score for this transaction:
// base fee scaled by the declared multiplier. Higher scores are selected
// first and survive capacity eviction longer.
func (t *Transaction) Priority() float64 {
	return float64(t.Fee.BaseFee) * t.Fee.PriorityMultiplier
}

// RequiredFee returns the minimum fee this transaction's own descriptor
// commits to: base fee plus the per-byte rate over the signing encoding.
func (t *Transaction) RequiredFee() uint64 {
	return t.Fee.BaseFee + t.Fee.PerByteFee*uint64(len(t.SigningBytes()))
}
