package config

import (
	"github.com/mezonai/mmn-ledger/db"
	"github.com/mezonai/mmn-ledger/shredder"
)

const (
	DefaultStoreDirectory = "./ledger-data"
	DefaultIngestWorkers  = 4
	DefaultIngestQueue    = 10000
)

// DefaultLedgerConfig returns a config usable without any file.
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Store: db.StoreConfig{
			Type:       db.LevelDBStoreType,
			Directory:  DefaultStoreDirectory,
			SyncWrites: true,
		},
		Shred: ShredConfig{
			MaxPayloadSize:     shredder.DefaultMaxDataPayload,
			DataShredsPerSet:   shredder.DefaultDataShredsPerSet,
			CodingShredsPerSet: shredder.DefaultCodingShredsPerSet,
		},
		Ingest: IngestConfig{
			Workers:   DefaultIngestWorkers,
			QueueSize: DefaultIngestQueue,
		},
	}
}
