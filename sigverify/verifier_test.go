package sigverify

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduleFor(t *testing.T, pub ed25519.PublicKey, start, end uint64) *poh.LeaderSchedule {
	t.Helper()
	ls, err := poh.NewLeaderSchedule([]poh.LeaderScheduleEntry{
		{StartSlot: start, EndSlot: end, Leader: hex.EncodeToString(pub)},
	})
	require.NoError(t, err)
	return ls
}

func signedShreds(t *testing.T, priv ed25519.PrivateKey, slot uint64, n int) []types.Shred {
	t.Helper()
	out := make([]types.Shred, n)
	for i := range out {
		out[i] = types.NewDataShred(slot, uint32(i), 1, 0, 0, 0, []byte{byte(i), 1, 2, 3})
		out[i].Sign(priv)
	}
	return out
}

func TestVerifyBatchCollatesInInputOrder(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	v := NewVerifier(scheduleFor(t, pub, 0, 100), 4)

	shreds := signedShreds(t, priv, 5, 37)
	shreds[3].Payload[0] ^= 0xff
	shreds[20].Common.Signature[0] ^= 0xff

	results, err := v.VerifyBatch(context.Background(), shreds)
	require.NoError(t, err)
	require.Len(t, results, len(shreds))
	for i, r := range results {
		assert.Equal(t, shreds[i].ID(), r.ID)
		assert.Equal(t, i != 3 && i != 20, r.Valid, "shred %d", i)
	}

	// same input, same verdicts
	again, err := v.VerifyBatch(context.Background(), shreds)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}

func TestVerifyBatchUnknownLeader(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	v := NewVerifier(scheduleFor(t, pub, 0, 10), 0)
	assert.Greater(t, v.Workers(), 0)

	results, err := v.VerifyBatch(context.Background(), signedShreds(t, priv, 50, 2))
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.Valid)
	}
}

func TestVerifyBatchWrongLeader(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	v := NewVerifier(scheduleFor(t, pub, 0, 10), 2)

	shred := signedShreds(t, otherPriv, 3, 1)[0]
	assert.False(t, v.VerifyShred(&shred))
}

func TestVerifyBatchCancelled(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	v := NewVerifier(scheduleFor(t, pub, 0, 10), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.VerifyBatch(ctx, signedShreds(t, priv, 1, 8))
	assert.ErrorIs(t, err, context.Canceled)
}

func chain(n int) []poh.Entry {
	var prev [32]byte
	out := make([]poh.Entry, n)
	for i := range out {
		out[i] = poh.NextEntry(prev, 1, nil)
		prev = out[i].Hash
	}
	return out
}

func TestVerifyEntriesParallel(t *testing.T) {
	v := NewVerifier(nil, 4)
	entries := chain(500)
	require.NoError(t, v.VerifyEntries(context.Background(), 7, entries))

	entries[130].Hash[0] ^= 1
	entries[400].Hash[0] ^= 1
	err := v.VerifyEntries(context.Background(), 7, entries)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledgererr.ErrChainBreak)
	le := err.(*ledgererr.LedgerError)
	assert.Equal(t, uint64(7), le.Slot)
	assert.Equal(t, uint32(130), le.Index)
	assert.True(t, ledgererr.IsPermanent(err))
}

func TestVerifyEntriesShortSlot(t *testing.T) {
	v := NewVerifier(nil, 1)
	require.NoError(t, v.VerifyEntries(context.Background(), 1, nil))
	require.NoError(t, v.VerifyEntries(context.Background(), 1, chain(1)))

	entries := chain(3)
	entries[2].NumHashes = 0
	assert.ErrorIs(t, v.VerifyEntries(context.Background(), 1, entries), ledgererr.ErrChainBreak)
}
