package db

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBProvider implements DatabaseProvider for LevelDB
type LevelDBProvider struct {
	once sync.Once
	db   *leveldb.DB
	wo   *opt.WriteOptions
}

// NewLevelDBProvider creates a new LevelDB provider
func NewLevelDBProvider(directory string, options Options) (DatabaseProvider, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if options.InMemory {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(directory, nil)
		if isCorrupted(err) {
			return nil, fmt.Errorf("LevelDB at %s is corrupted: %w", directory, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB: %w", err)
	}

	return &LevelDBProvider{
		db: db,
		wo: &opt.WriteOptions{Sync: options.SyncWrites},
	}, nil
}

// NewMemLevelDBProvider opens an in-memory LevelDB, used by tests and dry runs.
func NewMemLevelDBProvider() DatabaseProvider {
	p, err := NewLevelDBProvider("", Options{InMemory: true})
	if err != nil {
		// memory storage cannot fail to open
		panic(err)
	}
	return p
}

func isCorrupted(err error) bool {
	var cerr *lerrors.ErrCorrupted
	return errors.As(err, &cerr) || lerrors.IsCorrupted(err)
}

// Get retrieves a value by key
func (p *LevelDBProvider) Get(cf Family, key []byte) ([]byte, error) {
	value, err := p.db.Get(prefixed(cf, key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil // Return nil for not found, consistent with interface
		}
		return nil, errors.Wrapf(err, "leveldb get %s", cf)
	}
	return value, nil
}

// GetBatch retrieves multiple values by keys in a single operation
func (p *LevelDBProvider) GetBatch(cf Family, keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	// LevelDB has no MultiGet; read from one snapshot so the batch is consistent
	snap, err := p.db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "leveldb snapshot")
	}
	defer snap.Release()

	for _, key := range keys {
		value, err := snap.Get(prefixed(cf, key), nil)
		if err != nil {
			if err != leveldb.ErrNotFound {
				return nil, errors.Wrapf(err, "leveldb get %s", cf)
			}
			// Skip not found keys - don't add to result
			continue
		}
		result[string(key)] = value
	}

	return result, nil
}

// Put stores a key-value pair
func (p *LevelDBProvider) Put(cf Family, key, value []byte) error {
	return errors.Wrapf(p.db.Put(prefixed(cf, key), value, p.wo), "leveldb put %s", cf)
}

// Delete removes a key-value pair
func (p *LevelDBProvider) Delete(cf Family, key []byte) error {
	return errors.Wrapf(p.db.Delete(prefixed(cf, key), p.wo), "leveldb delete %s", cf)
}

// Has checks if a key exists
func (p *LevelDBProvider) Has(cf Family, key []byte) (bool, error) {
	ok, err := p.db.Has(prefixed(cf, key), nil)
	return ok, errors.Wrapf(err, "leveldb has %s", cf)
}

// IterateRange walks [start, end) of one family
func (p *LevelDBProvider) IterateRange(cf Family, start, end []byte, callback func(key, value []byte) bool) error {
	lo, hi := familyBounds(cf, start, end)
	iter := p.db.NewIterator(&util.Range{Start: lo, Limit: hi}, nil)
	defer iter.Release()

	for iter.Next() {
		// iterator buffers are reused, hand out copies
		key := copyBytes(iter.Key()[1:])
		value := copyBytes(iter.Value())
		if !callback(key, value) {
			break
		}
	}

	return errors.Wrapf(iter.Error(), "leveldb iterate %s", cf)
}

// Close closes the database connection
func (p *LevelDBProvider) Close() error {
	// avoid double close when being used for multiple store
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

// Batch returns a new batch for atomic operations
func (p *LevelDBProvider) Batch() DatabaseBatch {
	return &LevelDBBatch{
		batch: new(leveldb.Batch),
		db:    p.db,
		wo:    p.wo,
	}
}

// LevelDBBatch implements DatabaseBatch for LevelDB
type LevelDBBatch struct {
	batch *leveldb.Batch
	db    *leveldb.DB
	wo    *opt.WriteOptions
}

// Put adds a key-value pair to the batch
func (b *LevelDBBatch) Put(cf Family, key, value []byte) {
	b.batch.Put(prefixed(cf, key), value)
}

// Delete adds a deletion to the batch
func (b *LevelDBBatch) Delete(cf Family, key []byte) {
	b.batch.Delete(prefixed(cf, key))
}

func (b *LevelDBBatch) Len() int {
	return b.batch.Len()
}

// Write commits all operations in the batch
func (b *LevelDBBatch) Write() error {
	return errors.Wrap(b.db.Write(b.batch, b.wo), "leveldb batch write")
}

// Reset clears the batch
func (b *LevelDBBatch) Reset() {
	b.batch.Reset()
}

// Close releases batch resources
func (b *LevelDBBatch) Close() {
	// LevelDB batch doesn't need explicit closing
}
