package db

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// BadgerProvider implements DatabaseProvider for Badger. Families are emulated with a
// one-byte key prefix; batches commit as a single read-write transaction.
type BadgerProvider struct {
	once sync.Once
	db   *badger.DB
}

// NewBadgerProvider opens (or creates) a Badger database
func NewBadgerProvider(directory string, options Options) (DatabaseProvider, error) {
	opts := badger.DefaultOptions(directory).
		WithLogger(nil).
		WithSyncWrites(options.SyncWrites)
	if options.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger: %w", err)
	}
	return &BadgerProvider{db: db}, nil
}

// Get retrieves a value by key
func (p *BadgerProvider) Get(cf Family, key []byte) ([]byte, error) {
	var value []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixed(cf, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "badger get %s", cf)
	}
	return value, nil
}

// GetBatch retrieves multiple values inside one read transaction
func (p *BadgerProvider) GetBatch(cf Family, keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	err := p.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(prefixed(cf, key))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(key)] = value
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "badger get batch %s", cf)
	}
	return result, nil
}

// Put stores a key-value pair
func (p *BadgerProvider) Put(cf Family, key, value []byte) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixed(cf, key), copyBytes(value))
	})
	return errors.Wrapf(err, "badger put %s", cf)
}

// Delete removes a key-value pair
func (p *BadgerProvider) Delete(cf Family, key []byte) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(prefixed(cf, key))
	})
	return errors.Wrapf(err, "badger delete %s", cf)
}

// Has checks if a key exists
func (p *BadgerProvider) Has(cf Family, key []byte) (bool, error) {
	found := false
	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(prefixed(cf, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, errors.Wrapf(err, "badger has %s", cf)
}

// IterateRange walks [start, end) of one family
func (p *BadgerProvider) IterateRange(cf Family, start, end []byte, callback func(key, value []byte) bool) error {
	lo, hi := familyBounds(cf, start, end)
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{byte(cf)}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(lo); it.Valid(); it.Next() {
			item := it.Item()
			k := item.Key()
			if bytes.Compare(k, hi) >= 0 {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !callback(copyBytes(k[1:]), value) {
				break
			}
		}
		return nil
	})
	return errors.Wrapf(err, "badger iterate %s", cf)
}

// Close closes the database connection
func (p *BadgerProvider) Close() error {
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

// Batch returns a new batch for atomic operations
func (p *BadgerProvider) Batch() DatabaseBatch {
	return &BadgerBatch{db: p.db}
}

// BadgerBatch queues operations and applies them in one transaction on Write.
// badger.WriteBatch is not used because it may split into several commits.
type BadgerBatch struct {
	db  *badger.DB
	ops []batchOp
}

// Put adds a key-value pair to the batch
func (b *BadgerBatch) Put(cf Family, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: copyBytes(key), value: copyBytes(value)})
}

// Delete adds a deletion to the batch
func (b *BadgerBatch) Delete(cf Family, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: copyBytes(key), delete: true})
}

func (b *BadgerBatch) Len() int {
	return len(b.ops)
}

// Write commits all operations in the batch
func (b *BadgerBatch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			k := prefixed(op.cf, op.key)
			if op.delete {
				if err := txn.Delete(k); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(k, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "badger batch write")
}

// Reset clears the batch
func (b *BadgerBatch) Reset() {
	b.ops = b.ops[:0]
}

// Close releases batch resources
func (b *BadgerBatch) Close() {
	b.ops = nil
}
