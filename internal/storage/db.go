// Package storage provides embedded key/value database abstractions.
package storage

import "errors"

// ErrKeyNotFound is returned by Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// DB is the interface for ordered key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in ascending
	// key order. The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// Sync flushes buffered writes to stable storage.
	Sync() error
	Close() error
}

// Batch accumulates writes that commit atomically.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that support atomic batches.
type Batcher interface {
	NewBatch() Batch
}
