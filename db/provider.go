package db

// DatabaseProvider abstracts the low-level database operations.
// Every call is scoped to one logical column family so range scans over one entity type
// never touch another. Backends without native column families emulate them with a
// one-byte key prefix.
type DatabaseProvider interface {
	// Get retrieves a value by key, returning nil when the key is absent
	Get(cf Family, key []byte) ([]byte, error)

	// GetBatch retrieves multiple values by keys in a single operation
	GetBatch(cf Family, keys [][]byte) (map[string][]byte, error)

	// Put stores a key-value pair
	Put(cf Family, key, value []byte) error

	// Delete removes a key-value pair
	Delete(cf Family, key []byte) error

	// Has checks if a key exists
	Has(cf Family, key []byte) (bool, error)

	// IterateRange walks keys in [start, end) in ascending byte order. A nil start begins
	// at the first key of the family, a nil end runs to the last. Keys handed to the
	// callback have the family prefix stripped and are safe to retain.
	// The callback returns false to stop iteration.
	IterateRange(cf Family, start, end []byte, callback func(key, value []byte) bool) error

	// Close closes the database connection
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// DatabaseBatch provides atomic batch operations across families
type DatabaseBatch interface {
	// Put adds a key-value pair to the batch
	Put(cf Family, key, value []byte)

	// Delete adds a deletion to the batch
	Delete(cf Family, key []byte)

	// Len returns the number of queued operations
	Len() int

	// Write commits all operations in the batch, all or nothing
	Write() error

	// Reset clears the batch
	Reset()

	// Close releases batch resources
	Close()
}

// Options tune a provider at open time.
type Options struct {
	// SyncWrites makes every committed write durable before it returns.
	SyncWrites bool
	// InMemory opens a throwaway store (tests, tooling dry runs). Ignored by redis.
	InMemory bool
}

// IteratePrefix walks every key of cf starting with prefix.
func IteratePrefix(p DatabaseProvider, cf Family, prefix []byte, callback func(key, value []byte) bool) error {
	return p.IterateRange(cf, prefix, PrefixEnd(prefix), callback)
}

// PrefixEnd returns the smallest key greater than every key with the given prefix,
// or nil when no such key exists (prefix is empty or all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// batchOp is the backend-neutral record used by batches that replay operations on Write.
type batchOp struct {
	cf     Family
	key    []byte
	value  []byte
	delete bool
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
