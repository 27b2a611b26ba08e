package ingest

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mezonai/mmn-ledger/blockstore"
	"github.com/mezonai/mmn-ledger/config"
	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/events"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/shredder"
	"github.com/mezonai/mmn-ledger/sigverify"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t    *testing.T
	in   *Ingester
	bus  *events.EventBus
	sh   *shredder.Shredder
	priv ed25519.PrivateKey
}

func newHarness(t *testing.T, cfg config.IngestConfig) *harness {
	t.Helper()
	return newHarnessWithProvider(t, cfg, db.NewMemLevelDBProvider())
}

func newHarnessWithProvider(t *testing.T, cfg config.IngestConfig, provider db.DatabaseProvider) *harness {
	t.Helper()
	sh, err := shredder.New(shredder.Config{DataShredsPerSet: 4, CodingShredsPerSet: 2, MaxDataPayload: 64, Version: 1})
	require.NoError(t, err)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	schedule, err := poh.NewLeaderSchedule([]poh.LeaderScheduleEntry{
		{StartSlot: 0, EndSlot: 1000, Leader: hex.EncodeToString(pub)},
	})
	require.NoError(t, err)
	verifier := sigverify.NewVerifier(schedule, 4)

	store, err := blockstore.New(provider, blockstore.Options{
		Limits:        sh.Config().Limits(),
		VerifyEntries: verifier.VerifyEntries,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewEventBus()
	return &harness{t: t, in: NewIngester(store, verifier, bus, cfg), bus: bus, sh: sh, priv: priv}
}

func txEntries(n int, seed byte) []poh.Entry {
	var prev [32]byte
	prev[0] = seed
	out := make([]poh.Entry, 0, n)
	for i := 0; i < n; i++ {
		tx := make([]byte, poh.TxSignatureSize+4)
		tx[0], tx[1] = seed, byte(i)
		e := poh.NextEntry(prev, 2, [][]byte{tx})
		out = append(out, e)
		prev = e.Hash
	}
	return out
}

func (h *harness) slot(slot, parent uint64, n int) ([]poh.Entry, []types.Shred, []types.Shred) {
	h.t.Helper()
	entries := txEntries(n, byte(slot))
	data, coding, err := h.sh.MakeShreds(slot, parent, [][]poh.Entry{entries}, h.priv)
	require.NoError(h.t, err)
	return entries, data, coding
}

func raws(shreds ...types.Shred) []types.RawShred {
	out := make([]types.RawShred, len(shreds))
	for i := range shreds {
		out[i] = types.RawShred{Bytes: shreds[i].Encode(), Peer: "peer-a", ReceivedAt: time.Now()}
	}
	return out
}

func waitFor(t *testing.T, ch chan events.LedgerEvent, want events.EventType) events.LedgerEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type() == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", want)
			return nil
		}
	}
}

type repairRecorder struct {
	mu    sync.Mutex
	calls map[types.ErasureSetID][]uint32
}

func (r *repairRecorder) RequestRepair(_ context.Context, set types.ErasureSetID, missing []uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[types.ErasureSetID][]uint32)
	}
	r.calls[set] = missing
	return nil
}

func TestIngestRecoversMissingDataShred(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, sub := h.bus.Subscribe()
	entries, data, coding := h.slot(10, 9, 2)
	require.Len(t, data, 4)

	report, err := h.in.Ingest(context.Background(), raws(data[0], data[1], data[3], coding[0], coding[1]))
	require.NoError(t, err)
	assert.Equal(t, 5, report.Inserted())
	assert.Equal(t, []types.ShredID{{Slot: 10, Index: 2, Type: types.ShredTypeData}}, report.Recovered)
	assert.Equal(t, []uint64{10}, report.FullSlots)

	got, err := h.in.GetSlotEntries(10)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	ev := waitFor(t, sub, events.EventShredsRecovered)
	assert.Equal(t, []uint32{2}, ev.(*events.ShredsRecovered).Indexes())
	ev = waitFor(t, sub, events.EventSlotFull)
	assert.Equal(t, uint64(10), ev.Slot())
	assert.Equal(t, uint64(3), ev.(*events.SlotFull).LastIndex())
}

func TestIngestRejectsBadSignatureAndRecoversIt(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	entries, data, coding := h.slot(11, 10, 2)

	_, other, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	forged := data[2]
	forged.Sign(other)

	report, err := h.in.Ingest(context.Background(), raws(data[0], data[1], forged, data[3], coding[0]))
	require.NoError(t, err)

	assert.Equal(t, blockstore.ShredRejected, report.Results[2].Status)
	assert.ErrorIs(t, report.Results[2].Err, ledgererr.ErrInvalidSignature)
	assert.Equal(t, "peer-a", report.Results[2].Peer)
	assert.Equal(t, []types.ShredID{{Slot: 11, Index: 2, Type: types.ShredTypeData}}, report.Recovered)

	stored, err := h.in.GetShred(11, 2)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Equal(&data[2]))

	got, err := h.in.GetSlotEntries(11)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestIngestRejectsMalformedBytes(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, data, _ := h.slot(12, 11, 2)

	input := raws(data[0])
	input = append(input,
		types.RawShred{Bytes: []byte{1, 2, 3}},
		types.RawShred{Bytes: make([]byte, h.in.Store().Limits().MaxShredSize()+1)},
	)

	report, err := h.in.Ingest(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, blockstore.ShredInserted, report.Results[0].Status)
	for _, r := range report.Results[1:] {
		assert.Equal(t, blockstore.ShredRejected, r.Status)
		assert.ErrorIs(t, r.Err, ledgererr.ErrMalformedShred)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, data, coding := h.slot(13, 12, 2)
	all := append(append([]types.Shred{}, data...), coding...)

	first, err := h.in.Ingest(context.Background(), raws(all...))
	require.NoError(t, err)
	assert.Equal(t, []uint64{13}, first.FullSlots)

	second, err := h.in.Ingest(context.Background(), raws(all...))
	require.NoError(t, err)
	assert.Empty(t, second.FullSlots)
	assert.Empty(t, second.Recovered)
	for _, r := range second.Results {
		assert.Equal(t, blockstore.ShredDuplicate, r.Status)
	}
}

func TestIngestRequestsRepairWhenSetIsShort(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	repair := &repairRecorder{}
	h.in.SetRepairRequester(repair)
	_, data, coding := h.slot(14, 13, 2)

	report, err := h.in.Ingest(context.Background(), raws(data[0], coding[0]))
	require.NoError(t, err)
	assert.Empty(t, report.Recovered)

	repair.mu.Lock()
	defer repair.mu.Unlock()
	assert.Equal(t, []uint32{1, 2, 3}, repair.calls[types.ErasureSetID{Slot: 14, FECSetIndex: 0}])
}

func TestIngestBelowRetentionIsRejected(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, data, _ := h.slot(5, 4, 2)
	_, err := h.in.PurgeSlotsBelow(20)
	require.NoError(t, err)

	report, err := h.in.Ingest(context.Background(), raws(data[0]))
	require.NoError(t, err)
	assert.ErrorIs(t, report.Results[0].Err, ledgererr.ErrMalformedShred)
}

func TestConcurrentIngestRecoversOnce(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, data, coding := h.slot(15, 14, 2)

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	inputs := [][]types.RawShred{raws(data[0], coding[0]), raws(data[1], coding[1])}
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.in.Ingest(context.Background(), inputs[i])
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	recovered := 0
	full := 0
	for _, r := range reports {
		require.NotNil(t, r)
		recovered += len(r.Recovered)
		full += len(r.FullSlots)
	}
	assert.Equal(t, 2, recovered)
	assert.Equal(t, 1, full)

	meta, err := h.in.SlotMeta(15)
	require.NoError(t, err)
	assert.True(t, meta.IsFull())
}

func TestSubmitWorkersDrainOnStop(t *testing.T) {
	h := newHarness(t, config.IngestConfig{Workers: 2, QueueSize: 64})
	_, ch := h.bus.Subscribe(events.EventSlotFull)
	entries, data, coding := h.slot(16, 15, 3)

	require.NoError(t, h.in.Start(context.Background()))
	for _, raw := range raws(append(data, coding...)...) {
		require.NoError(t, h.in.Submit(raw))
	}
	h.in.Stop()

	assert.Equal(t, uint64(16), waitFor(t, ch, events.EventSlotFull).Slot())
	got, err := h.in.GetSlotEntries(16)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	assert.ErrorIs(t, h.in.Submit(types.RawShred{}), ErrStopped)
	assert.ErrorIs(t, h.in.Start(context.Background()), ErrStopped)
}

func TestSubmitReportsFullQueue(t *testing.T) {
	h := newHarness(t, config.IngestConfig{Workers: 1, QueueSize: 1})
	require.NoError(t, h.in.Submit(types.RawShred{Bytes: []byte{1}}))
	assert.ErrorIs(t, h.in.Submit(types.RawShred{Bytes: []byte{2}}), ErrQueueFull)
	assert.Equal(t, 1, h.in.QueueLen())
	h.in.Stop()
}

func TestStartAppliesConfiguredRetention(t *testing.T) {
	h := newHarness(t, config.IngestConfig{Workers: 1, QueueSize: 4, LowestSlot: 50})
	require.NoError(t, h.in.Start(context.Background()))
	defer h.in.Stop()
	assert.Equal(t, uint64(50), h.in.Store().LowestCleanupSlot())
}

func TestRootAndPurgePublishEvents(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, ch := h.bus.Subscribe(events.EventSlotRooted, events.EventSlotPurged)
	_, data8, _ := h.slot(8, 7, 2)
	_, data9, _ := h.slot(9, 8, 2)

	_, err := h.in.Ingest(context.Background(), raws(append(data8, data9...)...))
	require.NoError(t, err)

	require.NoError(t, h.in.MarkRoot(8))
	assert.Equal(t, uint64(8), waitFor(t, ch, events.EventSlotRooted).Slot())

	assert.ErrorIs(t, h.in.PurgeSlot(8), ledgererr.ErrSlotRooted)

	require.NoError(t, h.in.PurgeSlot(9))
	ev := waitFor(t, ch, events.EventSlotPurged)
	assert.Equal(t, uint64(9), ev.Slot())
	assert.False(t, ev.(*events.SlotPurged).Below())

	_, err = h.in.GetSlotEntries(9)
	assert.ErrorIs(t, err, ledgererr.ErrSlotPurged)
}

func TestChainBreakPublishesSlotDead(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, ch := h.bus.Subscribe(events.EventSlotDead, events.EventSlotFull)

	entries := txEntries(3, 7)
	entries[2].Hash[0] ^= 0xff
	data, _, err := h.sh.MakeShreds(7, 6, [][]poh.Entry{entries}, h.priv)
	require.NoError(t, err)

	_, err = h.in.Ingest(context.Background(), raws(data...))
	require.NoError(t, err)

	ev := waitFor(t, ch, events.EventSlotDead)
	assert.Equal(t, string(ledgererr.ErrCodeChainBreak), ev.(*events.SlotDead).Reason())
	assert.Len(t, ch, 0)

	_, err = h.in.GetSlotEntries(7)
	assert.ErrorIs(t, err, ledgererr.ErrChainBreak)
}

func TestEquivocatedRecoveryMarksSlotDead(t *testing.T) {
	h := newHarness(t, config.IngestConfig{})
	_, ch := h.bus.Subscribe(events.EventSlotDead)

	// same leader, two different blocks for slot 10
	dataA, _, err := h.sh.MakeShreds(10, 9, [][]poh.Entry{txEntries(2, 1)}, h.priv)
	require.NoError(t, err)
	_, codingB, err := h.sh.MakeShreds(10, 9, [][]poh.Entry{txEntries(2, 2)}, h.priv)
	require.NoError(t, err)
	require.Len(t, dataA, 4)

	report, err := h.in.Ingest(context.Background(), raws(dataA[0], dataA[1], dataA[3], codingB[0], codingB[1]))
	require.NoError(t, err)
	assert.Equal(t, 5, report.Inserted())
	assert.Empty(t, report.Recovered)
	require.Len(t, report.RecoveryErrors, 1)
	assert.ErrorIs(t, report.RecoveryErrors[0], ledgererr.ErrCorruptShred)
	require.Len(t, report.DeadSlots, 1)
	assert.Equal(t, uint64(10), report.DeadSlots[0].Slot)
	assert.Equal(t, string(ledgererr.ErrCodeCorruptShred), report.DeadSlots[0].Reason)

	dead, err := h.in.Store().IsDead(10)
	require.NoError(t, err)
	assert.True(t, dead)

	_, err = h.in.GetSlotEntries(10)
	assert.ErrorIs(t, err, ledgererr.ErrCorruptShred)
	assert.True(t, ledgererr.IsPermanent(err))

	ev := waitFor(t, ch, events.EventSlotDead)
	assert.Equal(t, uint64(10), ev.Slot())
	assert.Equal(t, string(ledgererr.ErrCodeCorruptShred), ev.(*events.SlotDead).Reason())

	// the quarantined slot takes no more shreds and does not retry recovery
	again, err := h.in.Ingest(context.Background(), raws(dataA[2]))
	require.NoError(t, err)
	assert.ErrorIs(t, again.Results[0].Err, ledgererr.ErrSlotDead)
	assert.Empty(t, again.DeadSlots)
	assert.Empty(t, again.RecoveryErrors)
}

type failingBatch struct {
	db.DatabaseBatch
}

func (failingBatch) Write() error {
	return errors.New("disk failure")
}

// failingProvider reads normally but fails every batch commit.
type failingProvider struct {
	db.DatabaseProvider
}

func (p failingProvider) Batch() db.DatabaseBatch {
	return failingBatch{p.DatabaseProvider.Batch()}
}

func TestStorageFailureHaltsWorkers(t *testing.T) {
	h := newHarnessWithProvider(t, config.IngestConfig{Workers: 1, QueueSize: 16}, failingProvider{db.NewMemLevelDBProvider()})
	_, data, _ := h.slot(20, 19, 2)

	require.NoError(t, h.in.Start(context.Background()))
	defer h.in.Stop()
	require.NoError(t, h.in.Submit(raws(data[0])[0]))

	select {
	case err := <-h.in.Fatal():
		assert.True(t, ledgererr.IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("storage failure was not reported")
	}

	assert.ErrorIs(t, h.in.Err(), ledgererr.ErrStorageFailure)
	assert.ErrorIs(t, h.in.Submit(raws(data[1])[0]), ledgererr.ErrStorageFailure)

	meta, err := h.in.SlotMeta(20)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestIngestReturnsStorageFailure(t *testing.T) {
	h := newHarnessWithProvider(t, config.IngestConfig{}, failingProvider{db.NewMemLevelDBProvider()})
	_, data, _ := h.slot(21, 20, 2)

	report, err := h.in.Ingest(context.Background(), raws(data...))
	assert.True(t, ledgererr.IsFatal(err))
	for _, r := range report.Results {
		assert.Equal(t, blockstore.ShredRejected, r.Status)
	}
}
