package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/mezonai/mmn-ledger/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultLedgerConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultLedgerConfig().Validate())
}

func TestLoadLedgerConfig(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	path := writeFile(t, "ledger.yml", `
config:
  store:
    type: badger
    directory: /tmp/ledger
  shred:
    max_payload_size: 512
    data_shreds_per_set: 16
    coding_shreds_per_set: 8
    shred_version: 3
  ingest:
    workers: 2
  network:
    listen_addr: /ip4/127.0.0.1/tcp/9100
    bootstrap_peers:
      - /ip4/10.0.0.1/tcp/9000/p2p/12D3KooWExample
  leader_schedule:
    - start_slot: 0
      end_slot: 99
      leader: `+hex.EncodeToString(pub)+`
`)
	cfg, err := LoadLedgerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, db.BadgerStoreType, cfg.Store.Type)
	assert.Equal(t, 16, cfg.Shred.DataShredsPerSet)
	assert.Equal(t, uint16(3), cfg.ShredderConfig().Version)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	// untouched fields keep defaults
	assert.Equal(t, DefaultIngestQueue, cfg.Ingest.QueueSize)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/9100", cfg.Network.ListenAddr)
	assert.Len(t, cfg.Network.BootstrapPeers, 1)

	ls, err := ConvertLeaderSchedule(cfg.LeaderSchedule)
	require.NoError(t, err)
	got, ok := ls.SlotLeader(42)
	require.True(t, ok)
	assert.Equal(t, pub, got)
}

func TestLoadLedgerConfigRejectsBadSchedule(t *testing.T) {
	path := writeFile(t, "ledger.yml", `
config:
  leader_schedule:
    - start_slot: 10
      end_slot: 5
      leader: abc
`)
	_, err := LoadLedgerConfig(path)
	assert.Error(t, err)
}

func TestLoadShredConfig(t *testing.T) {
	path := writeFile(t, "node.ini", `
[shred]
data_shreds_per_set = 8
coding_shreds_per_set = 4
`)
	cfg, err := LoadShredConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.DataShredsPerSet)
	assert.Equal(t, 4, cfg.CodingShredsPerSet)
	assert.Equal(t, 1051, cfg.MaxPayloadSize)
}

func TestLoadEd25519PrivKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	got, err := LoadEd25519PrivKey(writeFile(t, "key", hex.EncodeToString(priv)+"\n"))
	require.NoError(t, err)
	assert.Equal(t, priv, got)

	got, err = LoadEd25519PrivKey(writeFile(t, "seed", hex.EncodeToString(priv.Seed())))
	require.NoError(t, err)
	assert.Equal(t, priv, got)

	_, err = LoadEd25519PrivKey(writeFile(t, "bad", "abcd"))
	assert.Error(t, err)
}
