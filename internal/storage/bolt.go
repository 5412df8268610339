package storage

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// boltBucket is the single bucket holding all keys; logical trees are
// carved out with PrefixDB, same as the other backends.
var boltBucket = []byte("ledgerdb")

// BoltDB implements DB using bbolt. Alternative backend for deployments
// that prefer a single-file B+tree store.
type BoltDB struct {
	db *bolt.DB
}

// NewBolt creates a new bbolt database at the given file path.
func NewBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	err = db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Get retrieves a value by key.
func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *bolt.Tx) error {
		v := txn.Bucket(boltBucket).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		val = make([]byte, len(v))
		copy(val, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores a key-value pair.
func (b *BoltDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *bolt.Tx) error {
		return txn.Bucket(boltBucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BoltDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *bolt.Tx) error {
		return txn.Bucket(boltBucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BoltDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *bolt.Tx) error {
		exists = txn.Bucket(boltBucket).Get(key) != nil
		return nil
	})
	return exists, err
}

// ForEach iterates over all keys with the given prefix in key order.
func (b *BoltDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *bolt.Tx) error {
		c := txn.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			val := make([]byte, len(v))
			copy(val, v)
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Sync flushes writes to disk.
func (b *BoltDB) Sync() error {
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("bolt sync: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// NewBatch starts an atomic write batch backed by a single bolt transaction.
func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b.db}
}

type boltOp struct {
	key   []byte
	value []byte // nil means delete
}

type boltBatch struct {
	db  *bolt.DB
	ops []boltOp
}

func (bb *boltBatch) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	bb.ops = append(bb.ops, boltOp{key: k, value: v})
	return nil
}

func (bb *boltBatch) Delete(key []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	bb.ops = append(bb.ops, boltOp{key: k})
	return nil
}

func (bb *boltBatch) Commit() error {
	err := bb.db.Update(func(txn *bolt.Tx) error {
		bucket := txn.Bucket(boltBucket)
		for _, op := range bb.ops {
			if op.value == nil {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
			} else {
				if err := bucket.Put(op.key, op.value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	bb.ops = nil
	if err != nil {
		return fmt.Errorf("bolt batch commit: %w", err)
	}
	return nil
}
