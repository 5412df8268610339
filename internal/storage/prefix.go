package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys. The ledger
// store uses it to carve named trees out of one underlying database.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

// prefixed returns key with the prefix prepended.
func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over all keys with the given prefix within this
// PrefixDB's namespace. The callback receives keys with the namespace
// prefix stripped, so callers see only their logical keyspace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	fullPrefix := p.prefixed(prefix)
	return p.inner.ForEach(fullPrefix, func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// Sync flushes the underlying database.
func (p *PrefixDB) Sync() error {
	return p.inner.Sync()
}

// Close is a no-op; the outer DB manages its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch creates a batch that prepends the prefix to all keys,
// delegating to the inner DB's batch for atomic commits. When the inner
// DB does not support batching, writes apply individually on Commit.
func (p *PrefixDB) NewBatch() Batch {
	if batcher, ok := p.inner.(Batcher); ok {
		return &prefixBatch{inner: batcher.NewBatch(), db: p}
	}
	return &fallbackBatch{db: p}
}

type prefixBatch struct {
	inner Batch
	db    *PrefixDB
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(pb.db.prefixed(key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(pb.db.prefixed(key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}

// fallbackBatch buffers writes and applies them non-atomically when the
// inner DB doesn't support batching.
type fallbackBatch struct {
	db  *PrefixDB
	ops []boltOp
}

func (fb *fallbackBatch) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	fb.ops = append(fb.ops, boltOp{key: k, value: v})
	return nil
}

func (fb *fallbackBatch) Delete(key []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	fb.ops = append(fb.ops, boltOp{key: k})
	return nil
}

func (fb *fallbackBatch) Commit() error {
	for _, op := range fb.ops {
		if op.value == nil {
			if err := fb.db.Delete(op.key); err != nil {
				return err
			}
		} else {
			if err := fb.db.Put(op.key, op.value); err != nil {
				return err
			}
		}
	}
	fb.ops = nil
	return nil
}
