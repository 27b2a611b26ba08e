//go:build rocksdb
// +build rocksdb

package db

import (
	"fmt"
	"sync"

	"github.com/linxGnu/grocksdb"
	"github.com/pkg/errors"
)

// RocksDBProvider implements DatabaseProvider for RocksDB with one real column family
// per Family.
type RocksDBProvider struct {
	once    sync.Once
	db      *grocksdb.DB
	opts    *grocksdb.Options
	ro      *grocksdb.ReadOptions
	wo      *grocksdb.WriteOptions
	handles map[Family]*grocksdb.ColumnFamilyHandle
	all     []*grocksdb.ColumnFamilyHandle
}

// NewRocksDBProvider creates a new RocksDB provider
func NewRocksDBProvider(directory string, options Options) (DatabaseProvider, error) {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)

	families := AllFamilies()
	names := make([]string, 0, len(families)+1)
	cfOpts := make([]*grocksdb.Options, 0, len(families)+1)
	names = append(names, "default")
	cfOpts = append(cfOpts, opts)
	for _, f := range families {
		names = append(names, f.String())
		cfOpts = append(cfOpts, opts)
	}

	db, handles, err := grocksdb.OpenDbColumnFamilies(opts, directory, names, cfOpts)
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to open RocksDB: %w", err)
	}

	byFamily := make(map[Family]*grocksdb.ColumnFamilyHandle, len(families))
	for i, f := range families {
		byFamily[f] = handles[i+1]
	}

	wo := grocksdb.NewDefaultWriteOptions()
	wo.SetSync(options.SyncWrites)

	return &RocksDBProvider{
		db:      db,
		opts:    opts,
		ro:      grocksdb.NewDefaultReadOptions(),
		wo:      wo,
		handles: byFamily,
		all:     handles,
	}, nil
}

func (p *RocksDBProvider) handle(cf Family) (*grocksdb.ColumnFamilyHandle, error) {
	h, ok := p.handles[cf]
	if !ok {
		return nil, fmt.Errorf("unknown column family %s", cf)
	}
	return h, nil
}

// Get retrieves a value by key
func (p *RocksDBProvider) Get(cf Family, key []byte) ([]byte, error) {
	h, err := p.handle(cf)
	if err != nil {
		return nil, err
	}
	value, err := p.db.GetCF(p.ro, h, key)
	if err != nil {
		return nil, errors.Wrapf(err, "rocksdb get %s", cf)
	}
	defer value.Free()

	if !value.Exists() {
		return nil, nil // Return nil for not found, consistent with interface
	}

	// Copy the data since we're freeing the slice
	return copyBytes(value.Data()), nil
}

// GetBatch retrieves multiple values by keys in a single operation
func (p *RocksDBProvider) GetBatch(cf Family, keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	h, err := p.handle(cf)
	if err != nil {
		return nil, err
	}
	values, err := p.db.MultiGetCF(p.ro, h, keys...)
	if err != nil {
		return nil, errors.Wrapf(err, "rocksdb multiget %s", cf)
	}
	defer values.Destroy()

	for i, v := range values {
		if v.Exists() {
			result[string(keys[i])] = copyBytes(v.Data())
		}
	}
	return result, nil
}

// Put stores a key-value pair
func (p *RocksDBProvider) Put(cf Family, key, value []byte) error {
	h, err := p.handle(cf)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.db.PutCF(p.wo, h, key, value), "rocksdb put %s", cf)
}

// Delete removes a key-value pair
func (p *RocksDBProvider) Delete(cf Family, key []byte) error {
	h, err := p.handle(cf)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.db.DeleteCF(p.wo, h, key), "rocksdb delete %s", cf)
}

// Has checks if a key exists
func (p *RocksDBProvider) Has(cf Family, key []byte) (bool, error) {
	value, err := p.Get(cf, key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

// IterateRange walks [start, end) of one column family
func (p *RocksDBProvider) IterateRange(cf Family, start, end []byte, callback func(key, value []byte) bool) error {
	h, err := p.handle(cf)
	if err != nil {
		return err
	}

	ro := grocksdb.NewDefaultReadOptions()
	defer ro.Destroy()
	if end != nil {
		ro.SetIterateUpperBound(end)
	}

	it := p.db.NewIteratorCF(ro, h)
	defer it.Close()

	if start == nil {
		it.SeekToFirst()
	} else {
		it.Seek(start)
	}
	for ; it.Valid(); it.Next() {
		k := it.Key()
		v := it.Value()
		kdata := copyBytes(k.Data())
		vdata := copyBytes(v.Data())
		k.Free()
		v.Free()
		if !callback(kdata, vdata) {
			break
		}
	}
	return errors.Wrapf(it.Err(), "rocksdb iterate %s", cf)
}

// Close closes the database connection
func (p *RocksDBProvider) Close() error {
	// avoid double close when being used for multiple store
	p.once.Do(func() {
		for _, h := range p.all {
			h.Destroy()
		}
		p.ro.Destroy()
		p.wo.Destroy()
		p.db.Close()
		p.opts.Destroy()
	})
	return nil
}

// Batch creates a new batch for atomic operations
func (p *RocksDBProvider) Batch() DatabaseBatch {
	return &RocksDBBatch{
		batch:    grocksdb.NewWriteBatch(),
		provider: p,
	}
}

// RocksDBBatch implements DatabaseBatch for RocksDB
type RocksDBBatch struct {
	batch    *grocksdb.WriteBatch
	provider *RocksDBProvider
	err      error
}

// Put adds a key-value pair to the batch
func (b *RocksDBBatch) Put(cf Family, key, value []byte) {
	h, err := b.provider.handle(cf)
	if err != nil {
		b.err = err
		return
	}
	b.batch.PutCF(h, key, value)
}

// Delete adds a deletion to the batch
func (b *RocksDBBatch) Delete(cf Family, key []byte) {
	h, err := b.provider.handle(cf)
	if err != nil {
		b.err = err
		return
	}
	b.batch.DeleteCF(h, key)
}

func (b *RocksDBBatch) Len() int {
	return b.batch.Count()
}

// Write commits all operations in the batch
func (b *RocksDBBatch) Write() error {
	if b.err != nil {
		return b.err
	}
	return errors.Wrap(b.provider.db.Write(b.provider.wo, b.batch), "rocksdb batch write")
}

// Reset clears the batch
func (b *RocksDBBatch) Reset() {
	b.batch.Clear()
	b.err = nil
}

// Close releases batch resources
func (b *RocksDBBatch) Close() {
	b.batch.Destroy()
}
