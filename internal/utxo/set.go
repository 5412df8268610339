package utxo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerdb/ledgerdb/pkg/tx"
	"github.com/ledgerdb/ledgerdb/pkg/types"
)

// ErrNotFound is returned when an outpoint is not in the set.
var ErrNotFound = errors.New("utxo not found")

// BlockDelta captures the UTXO changes produced by applying one block:
// the full spent entries (needed for undo) and the created entries.
type BlockDelta struct {
	Spent   []*Entry
	Created []*Entry
}

// MemorySet is the in-memory UTXO representation used for hot-path
// validation: a map keyed by outpoint plus a per-address secondary index.
// Safe for concurrent use.
type MemorySet struct {
	mu      sync.RWMutex
	entries map[types.Outpoint]*Entry
	byAddr  map[types.Address]map[types.Outpoint]struct{}
}

// NewMemorySet creates an empty in-memory UTXO set.
func NewMemorySet() *MemorySet {
	return &MemorySet{
		entries: make(map[types.Outpoint]*Entry),
		byAddr:  make(map[types.Address]map[types.Outpoint]struct{}),
	}
}

// Get retrieves an entry by outpoint.
func (s *MemorySet) Get(op types.Outpoint) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return e, nil
}

// Has checks whether an outpoint is in the set.
func (s *MemorySet) Has(op types.Outpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[op]
	return ok
}

// Put inserts an entry and updates the address index.
func (s *MemorySet) Put(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(e)
}

func (s *MemorySet) putLocked(e *Entry) {
	s.entries[e.Outpoint] = e
	addr := e.Output.Recipient
	if s.byAddr[addr] == nil {
		s.byAddr[addr] = make(map[types.Outpoint]struct{})
	}
	s.byAddr[addr][e.Outpoint] = struct{}{}
}

// Delete removes an entry and its address index reference.
func (s *MemorySet) Delete(op types.Outpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(op)
}

func (s *MemorySet) deleteLocked(op types.Outpoint) {
	e, ok := s.entries[op]
	if !ok {
		return
	}
	delete(s.entries, op)
	addr := e.Output.Recipient
	if idx := s.byAddr[addr]; idx != nil {
		delete(idx, op)
		if len(idx) == 0 {
			delete(s.byAddr, addr)
		}
	}
}

// ApplyDelta applies a block delta: spends first, then creations.
// The delta must already be validated; Apply never partially applies.
func (s *MemorySet) ApplyDelta(delta *BlockDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range delta.Spent {
		s.deleteLocked(e.Outpoint)
	}
	for _, e := range delta.Created {
		s.putLocked(e)
	}
}

// UndoDelta reverses a block delta: creations removed, spends restored.
func (s *MemorySet) UndoDelta(delta *BlockDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range delta.Created {
		s.deleteLocked(e.Outpoint)
	}
	for _, e := range delta.Spent {
		s.putLocked(e)
	}
}

// ByAddress returns all entries paying the given address, ordered by
// outpoint for deterministic output.
func (s *MemorySet) ByAddress(addr types.Address) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byAddr[addr]
	out := make([]*Entry, 0, len(idx))
	for op := range idx {
		out = append(out, s.entries[op])
	}
	sort.Slice(out, func(i, j int) bool {
		ci := out[i].Outpoint.TxID.Compare(out[j].Outpoint.TxID)
		if ci != 0 {
			return ci < 0
		}
		return out[i].Outpoint.Index < out[j].Outpoint.Index
	})
	return out
}

// Balance returns the total unspent amount held by the address.
func (s *MemorySet) Balance(addr types.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for op := range s.byAddr[addr] {
		total += s.entries[op].Output.Amount
	}
	return total
}

// Count returns the number of unspent outputs.
func (s *MemorySet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes everything. Used before a replay rebuild.
func (s *MemorySet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[types.Outpoint]*Entry)
	s.byAddr = make(map[types.Address]map[types.Outpoint]struct{})
}

// GetOutput implements tx.UTXOProvider.
func (s *MemorySet) GetOutput(op types.Outpoint) (tx.Output, error) {
	e, err := s.Get(op)
	if err != nil {
		return tx.Output{}, err
	}
	return e.Output, nil
}

// HasOutput implements tx.UTXOProvider.
func (s *MemorySet) HasOutput(op types.Outpoint) bool {
	return s.Has(op)
}
