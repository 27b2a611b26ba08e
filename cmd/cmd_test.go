package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShredRecordsRoundTrip(t *testing.T) {
	records := [][]byte{{1}, {2, 3}, bytes.Repeat([]byte{7}, 300)}
	var buf bytes.Buffer
	require.NoError(t, writeShredRecords(&buf, records))

	got, err := readShredRecords(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestReadShredRecordsRejectsBadInput(t *testing.T) {
	_, err := readShredRecords(bytes.NewReader([]byte{1, 0}))
	assert.Error(t, err, "truncated length")

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(10))
	buf.Write([]byte{1, 2, 3})
	_, err = readShredRecords(&buf)
	assert.Error(t, err, "truncated body")

	buf.Reset()
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	_, err = readShredRecords(&buf)
	assert.Error(t, err, "zero length")
}

func writeTestConfig(t *testing.T, dir string, leader ed25519.PublicKey) string {
	t.Helper()
	content := fmt.Sprintf(`config:
  store:
    type: leveldb
    directory: %s
  shred:
    max_payload_size: 64
    data_shreds_per_set: 4
    coding_shreds_per_set: 2
  ingest:
    workers: 1
    queue_size: 16
  leader_schedule:
    - start_slot: 0
      end_slot: 100
      leader: %s
`, filepath.Join(dir, "store"), hex.EncodeToString(leader))
	path := filepath.Join(dir, "ledger.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestMakeShredsThenIngestRecoversDroppedShreds(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "privkey.txt")
	require.NoError(t, os.WriteFile(keyPath, []byte(hex.EncodeToString(priv.Seed())), 0o600))

	configPath = writeTestConfig(t, dir, pub)
	t.Cleanup(func() { configPath = "" })

	out := filepath.Join(dir, "slot-0.shreds")
	require.NoError(t, makeShreds(MakeShredsConfig{
		Slot:          0,
		Parent:        0,
		PrivKeyPath:   keyPath,
		NumEntries:    24,
		BatchSize:     8,
		HashesPerTick: 2,
		OutFile:       out,
		DropData:      []uint{0, 5},
	}))

	require.NoError(t, ingestFile(context.Background(), out))

	cfg, err := loadConfig()
	require.NoError(t, err)
	bs, _, err := openLedger(cfg)
	require.NoError(t, err)
	defer bs.Close()

	entries, err := bs.GetSlotEntries(0)
	require.NoError(t, err)
	assert.Len(t, entries, 24)

	missing, err := bs.MissingDataIndexes(0, 0)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMakeShredsRejectsBadParent(t *testing.T) {
	err := makeShreds(MakeShredsConfig{Slot: 3, Parent: 3, BatchSize: 1})
	assert.Error(t, err)
}
