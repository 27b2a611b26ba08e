package config

import (
	"github.com/mezonai/mmn-ledger/db"
)

// LeaderSchedule represents a leader schedule entry
type LeaderSchedule struct {
	StartSlot uint64 `yaml:"start_slot"`
	EndSlot   uint64 `yaml:"end_slot"`
	Leader    string `yaml:"leader"`
}

// ShredConfig holds erasure geometry and shred limits
type ShredConfig struct {
	MaxPayloadSize     int    `yaml:"max_payload_size" ini:"max_payload_size"`
	DataShredsPerSet   int    `yaml:"data_shreds_per_set" ini:"data_shreds_per_set"`
	CodingShredsPerSet int    `yaml:"coding_shreds_per_set" ini:"coding_shreds_per_set"`
	ShredVersion       uint16 `yaml:"shred_version" ini:"shred_version"`
}

// IngestConfig tunes the ingest pipeline
type IngestConfig struct {
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	VerifyWorkers int    `yaml:"verify_workers"`
	LowestSlot    uint64 `yaml:"lowest_slot"`
}

// NetworkConfig enables the gossip listener. An empty ListenAddr keeps the node offline.
type NetworkConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	PrivKeyPath    string   `yaml:"privkey_path"`
}

// LedgerConfig holds the configuration from ledger.yml
type LedgerConfig struct {
	Store          db.StoreConfig   `yaml:"store"`
	Shred          ShredConfig      `yaml:"shred"`
	Ingest         IngestConfig     `yaml:"ingest"`
	Network        NetworkConfig    `yaml:"network"`
	LeaderSchedule []LeaderSchedule `yaml:"leader_schedule"`
}

// ConfigFile is the top-level structure for ledger.yml
type ConfigFile struct {
	Config LedgerConfig `yaml:"config"`
}
