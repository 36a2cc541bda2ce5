package storage

// PrefixDB confines a DB to the keys under a fixed prefix. Wallets stored
// in the same database each get their own PrefixDB.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB returns a view of inner restricted to prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: append([]byte(nil), prefix...)}
}

func (p *PrefixDB) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

// Get implements DB.
func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }

// Put implements DB.
func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.key(key), value) }

// Delete implements DB.
func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.key(key)) }

// Has implements DB.
func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.key(key)) }

// ForEach implements DB. Keys passed to fn have the namespace stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(p.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// Close does nothing; the inner DB is closed by its owner.
func (p *PrefixDB) Close() error { return nil }

// NewBatch implements Batcher. Writes are atomic only when the inner DB
// supports batches.
func (p *PrefixDB) NewBatch() Batch {
	if b, ok := p.inner.(Batcher); ok {
		return &prefixBatch{p: p, inner: b.NewBatch()}
	}
	return &prefixBatch{p: p}
}

type prefixBatch struct {
	p     *PrefixDB
	inner Batch // nil: apply on Commit one by one
	ops   []batchOp
}

type batchOp struct {
	key, value []byte // nil value deletes
}

func (b *prefixBatch) Put(key, value []byte) error {
	if b.inner != nil {
		return b.inner.Put(b.p.key(key), value)
	}
	b.ops = append(b.ops, batchOp{key: b.p.key(key), value: append([]byte{}, value...)})
	return nil
}

func (b *prefixBatch) Delete(key []byte) error {
	if b.inner != nil {
		return b.inner.Delete(b.p.key(key))
	}
	b.ops = append(b.ops, batchOp{key: b.p.key(key)})
	return nil
}

func (b *prefixBatch) Commit() error {
	if b.inner != nil {
		return b.inner.Commit()
	}
	for _, op := range b.ops {
		var err error
		if op.value == nil {
			err = b.p.inner.Delete(op.key)
		} else {
			err = b.p.inner.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
