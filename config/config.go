package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/shredder"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadLedgerConfig reads and parses a ledger.yml file. Fields absent from the file keep
// their DefaultLedgerConfig values.
func LoadLedgerConfig(path string) (*LedgerConfig, error) {
	logx.Info("CONFIG", "LoadLedgerConfig called with path: ", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfgFile := ConfigFile{Config: *DefaultLedgerConfig()}
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfgFile.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded config: store=%s shred=%d+%d payload=%d leaders=%d",
		cfgFile.Config.Store.Type, cfgFile.Config.Shred.DataShredsPerSet, cfgFile.Config.Shred.CodingShredsPerSet,
		cfgFile.Config.Shred.MaxPayloadSize, len(cfgFile.Config.LeaderSchedule)))
	return &cfgFile.Config, nil
}

// Validate checks every section
func (c *LedgerConfig) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.ShredderConfig().Validate(); err != nil {
		return fmt.Errorf("shred: %w", err)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest: workers must be positive")
	}
	if c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("ingest: queue_size must be positive")
	}
	if c.Ingest.VerifyWorkers < 0 {
		return fmt.Errorf("ingest: verify_workers cannot be negative")
	}
	if _, err := ConvertLeaderSchedule(c.LeaderSchedule); err != nil {
		return fmt.Errorf("leader_schedule: %w", err)
	}
	return nil
}

// ShredderConfig converts the shred section
func (c *LedgerConfig) ShredderConfig() shredder.Config {
	return c.Shred.ShredderConfig()
}

func (s ShredConfig) ShredderConfig() shredder.Config {
	return shredder.Config{
		DataShredsPerSet:   s.DataShredsPerSet,
		CodingShredsPerSet: s.CodingShredsPerSet,
		MaxDataPayload:     s.MaxPayloadSize,
		Version:            s.ShredVersion,
	}
}

// LoadShredConfig reads the [shred] section of an .ini file
func LoadShredConfig(path string) (*ShredConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	shredSection := cfg.Section("shred")
	shredCfg := &ShredConfig{
		MaxPayloadSize:     shredder.DefaultMaxDataPayload,
		DataShredsPerSet:   shredder.DefaultDataShredsPerSet,
		CodingShredsPerSet: shredder.DefaultCodingShredsPerSet,
	}
	err = shredSection.MapTo(shredCfg)
	if err != nil {
		return nil, err
	}
	if err := shredCfg.ShredderConfig().Validate(); err != nil {
		return nil, err
	}
	return shredCfg, nil
}

// LoadEd25519PrivKey loads an Ed25519 private key from a file (expects hex encoding)
func LoadEd25519PrivKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	switch len(key) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	default:
		return nil, fmt.Errorf("invalid ed25519 key length %d", len(key))
	}
}

// ConvertLeaderSchedule converts []config.LeaderSchedule to *poh.LeaderSchedule
func ConvertLeaderSchedule(entries []LeaderSchedule) (*poh.LeaderSchedule, error) {
	pohEntries := make([]poh.LeaderScheduleEntry, len(entries))
	for i, e := range entries {
		if e.EndSlot < e.StartSlot {
			return nil, fmt.Errorf("entry %d ends before it starts", i)
		}
		if _, err := poh.DecodeLeaderPubkey(e.Leader); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		pohEntries[i] = poh.LeaderScheduleEntry{
			StartSlot: e.StartSlot,
			EndSlot:   e.EndSlot,
			Leader:    e.Leader,
		}
	}
	return poh.NewLeaderSchedule(pohEntries)
}
