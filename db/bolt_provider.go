package db

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	boltFileName = "ledger.bolt"
	boltPageSize = 512
)

// BoltProvider implements DatabaseProvider for bbolt. Every family is a native bucket;
// a batch is one read-write transaction.
type BoltProvider struct {
	once sync.Once
	db   *bolt.DB
}

// NewBoltProvider opens (or creates) <directory>/ledger.bolt with one bucket per family
func NewBoltProvider(directory string, options Options) (DatabaseProvider, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(directory, boltFileName), 0o600, &bolt.Options{
		Timeout: time.Second,
		NoSync:  !options.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, f := range AllFamilies() {
			if _, err := tx.CreateBucketIfNotExists([]byte(f.String())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bolt buckets: %w", err)
	}
	return &BoltProvider{db: db}, nil
}

func bucket(tx *bolt.Tx, cf Family) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(cf.String()))
	if b == nil {
		return nil, fmt.Errorf("unknown family %s", cf)
	}
	return b, nil
}

// Get retrieves a value by key
func (p *BoltProvider) Get(cf Family, key []byte) ([]byte, error) {
	var value []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		// bolt values are only valid inside the transaction
		value = copyBytes(b.Get(key))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt get %s", cf)
	}
	return value, nil
}

// GetBatch retrieves multiple values inside one read transaction
func (p *BoltProvider) GetBatch(cf Family, keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	err := p.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if v := b.Get(key); v != nil {
				result[string(key)] = copyBytes(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt get batch %s", cf)
	}
	return result, nil
}

// Put stores a key-value pair
func (p *BoltProvider) Put(cf Family, key, value []byte) error {
	b := p.Batch()
	defer b.Close()
	b.Put(cf, key, value)
	return b.Write()
}

// Delete removes a key-value pair
func (p *BoltProvider) Delete(cf Family, key []byte) error {
	b := p.Batch()
	defer b.Close()
	b.Delete(cf, key)
	return b.Write()
}

// Has checks if a key exists
func (p *BoltProvider) Has(cf Family, key []byte) (bool, error) {
	v, err := p.Get(cf, key)
	return v != nil, err
}

// IterateRange walks [start, end) one page per read transaction, so the callback may call
// back into the provider, writes included.
func (p *BoltProvider) IterateRange(cf Family, start, end []byte, callback func(key, value []byte) bool) error {
	from := copyBytes(start)
	skipFrom := false
	for {
		var keys, values [][]byte
		err := p.db.View(func(tx *bolt.Tx) error {
			b, err := bucket(tx, cf)
			if err != nil {
				return err
			}
			c := b.Cursor()
			var k, v []byte
			if from == nil {
				k, v = c.First()
			} else {
				k, v = c.Seek(from)
				if skipFrom && k != nil && bytes.Equal(k, from) {
					k, v = c.Next()
				}
			}
			for ; k != nil && len(keys) < boltPageSize; k, v = c.Next() {
				if end != nil && bytes.Compare(k, end) >= 0 {
					break
				}
				keys = append(keys, copyBytes(k))
				values = append(values, copyBytes(v))
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "bolt iterate %s", cf)
		}

		for i := range keys {
			if !callback(keys[i], values[i]) {
				return nil
			}
		}
		if len(keys) < boltPageSize {
			return nil
		}
		from, skipFrom = keys[len(keys)-1], true
	}
}

// Close closes the database
func (p *BoltProvider) Close() error {
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

// Batch returns a new batch for atomic operations
func (p *BoltProvider) Batch() DatabaseBatch {
	return &BoltBatch{db: p.db}
}

// BoltBatch queues operations and applies them in one read-write transaction on Write.
type BoltBatch struct {
	db  *bolt.DB
	ops []batchOp
}

// Put adds a key-value pair to the batch
func (b *BoltBatch) Put(cf Family, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: copyBytes(key), value: copyBytes(value)})
}

// Delete adds a deletion to the batch
func (b *BoltBatch) Delete(cf Family, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: copyBytes(key), delete: true})
}

func (b *BoltBatch) Len() int {
	return len(b.ops)
}

// Write commits all operations in the batch
func (b *BoltBatch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, op := range b.ops {
			bk, err := bucket(tx, op.cf)
			if err != nil {
				return err
			}
			if op.delete {
				if err := bk.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			value := op.value
			if value == nil {
				value = []byte{}
			}
			if err := bk.Put(op.key, value); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "bolt batch write")
}

// Reset clears the batch
func (b *BoltBatch) Reset() {
	b.ops = b.ops[:0]
}

// Close releases batch resources
func (b *BoltBatch) Close() {
	b.ops = nil
}
