package db

import (
	"fmt"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	// LevelDBStoreType uses the LevelDB implementation
	LevelDBStoreType StoreType = "leveldb"

	// RocksDBStoreType uses the RocksDB implementation (requires -tags rocksdb)
	RocksDBStoreType StoreType = "rocksdb"

	// BadgerStoreType uses the Badger implementation
	BadgerStoreType StoreType = "badger"

	// RedisStoreType uses the Redis implementation
	RedisStoreType StoreType = "redis"

	// BoltStoreType uses the bbolt implementation, one bucket per family
	BoltStoreType StoreType = "bolt"
)

// StoreConfig holds configuration for creating a provider
type StoreConfig struct {
	// Type specifies which store implementation to use
	Type StoreType `json:"type" yaml:"type"`

	// Directory is the database directory path (for file-based databases)
	Directory string `json:"directory" yaml:"directory"`

	// SyncWrites fsyncs every committed batch
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// InMemory opens a throwaway store, file-based types only
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// RedisAddress and RedisDB select the redis server for RedisStoreType
	RedisAddress string `json:"redis_address" yaml:"redis_address"`
	RedisDB      int    `json:"redis_db" yaml:"redis_db"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	if sc.Type == "" {
		return fmt.Errorf("store type cannot be empty")
	}

	switch sc.Type {
	case LevelDBStoreType, RocksDBStoreType, BadgerStoreType, BoltStoreType:
		if sc.Directory == "" && !sc.InMemory {
			return fmt.Errorf("directory cannot be empty")
		}
		if sc.InMemory && (sc.Type == RocksDBStoreType || sc.Type == BoltStoreType) {
			return fmt.Errorf("%s does not support in-memory mode", sc.Type)
		}
		return nil
	case RedisStoreType:
		if sc.RedisAddress == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		return nil
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
}

// CreateProvider creates a database provider based on the configuration
func CreateProvider(config *StoreConfig) (DatabaseProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := Options{SyncWrites: config.SyncWrites, InMemory: config.InMemory}
	switch config.Type {
	case LevelDBStoreType:
		return NewLevelDBProvider(config.Directory, opts)

	case RocksDBStoreType:
		return NewRocksDBProvider(config.Directory, opts)

	case BadgerStoreType:
		return NewBadgerProvider(config.Directory, opts)

	case RedisStoreType:
		return NewRedisProvider(config.RedisAddress, config.RedisDB)

	case BoltStoreType:
		return NewBoltProvider(config.Directory, opts)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
