package p2p

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mezonai/mmn-ledger/ingest"
	"github.com/mezonai/mmn-ledger/jsonx"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu   sync.Mutex
	got  []types.RawShred
	fail error
}

func (f *fakeSink) Submit(raw types.RawShred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, raw)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs [][]byte
	fail error
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, _ ...pubsub.PubOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, append([]byte(nil), data...))
	return nil
}

type fakeSource map[types.ShredID]*types.Shred

func (f fakeSource) GetShred(slot uint64, index uint32) (*types.Shred, error) {
	return f[types.ShredID{Slot: slot, Index: index, Type: types.ShredTypeData}], nil
}

const (
	selfID  = peer.ID("self-peer")
	otherID = peer.ID("other-peer")
)

func TestShredListenerForwardsBytes(t *testing.T) {
	sink := &fakeSink{}
	l := NewShredListener(selfID, sink)
	at := time.Unix(1700000000, 0)
	l.now = func() time.Time { return at }

	assert.True(t, l.handle(otherID, []byte{1, 2, 3}))
	require.Len(t, sink.got, 1)
	assert.Equal(t, []byte{1, 2, 3}, sink.got[0].Bytes)
	assert.Equal(t, otherID.String(), sink.got[0].Peer)
	assert.Equal(t, at, sink.got[0].ReceivedAt)
}

func TestShredListenerSkipsSelfAndEmpty(t *testing.T) {
	sink := &fakeSink{}
	l := NewShredListener(selfID, sink)

	assert.False(t, l.handle(selfID, []byte{1}))
	assert.False(t, l.handle(otherID, nil))
	assert.Empty(t, sink.got)
}

func TestShredListenerDropsOnFullQueue(t *testing.T) {
	sink := &fakeSink{fail: ingest.ErrQueueFull}
	l := NewShredListener(selfID, sink)

	assert.False(t, l.handle(otherID, []byte{1}))

	sink.fail = ingest.ErrStopped
	assert.False(t, l.handle(otherID, []byte{1}))
}

func TestRepairRequesterPublishesRequest(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRepairRequester(selfID, pub)

	set := types.ErasureSetID{Slot: 9, FECSetIndex: 4}
	require.NoError(t, r.RequestRepair(context.Background(), set, []uint32{5, 7}))
	require.Len(t, pub.msgs, 1)

	var req RepairRequestMessage
	require.NoError(t, jsonx.Unmarshal(pub.msgs[0], &req))
	assert.Equal(t, uint64(9), req.Slot)
	assert.Equal(t, uint32(4), req.FECSetIndex)
	assert.Equal(t, []uint32{5, 7}, req.Indexes)
	assert.Equal(t, selfID.String(), req.Requester)
}

func TestRepairRequesterCapsIndexes(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRepairRequester(selfID, pub)

	missing := make([]uint32, MaxRepairIndexes+10)
	for i := range missing {
		missing[i] = uint32(i)
	}
	require.NoError(t, r.RequestRepair(context.Background(), types.ErasureSetID{Slot: 1}, missing))

	var req RepairRequestMessage
	require.NoError(t, jsonx.Unmarshal(pub.msgs[0], &req))
	assert.Len(t, req.Indexes, MaxRepairIndexes)
}

func TestRepairRequesterNothingMissing(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRepairRequester(selfID, pub)
	require.NoError(t, r.RequestRepair(context.Background(), types.ErasureSetID{Slot: 1}, nil))
	assert.Empty(t, pub.msgs)
}

func TestRepairRequesterPublishError(t *testing.T) {
	pub := &fakePublisher{fail: errors.New("topic closed")}
	r := NewRepairRequester(selfID, pub)
	err := r.RequestRepair(context.Background(), types.ErasureSetID{Slot: 1}, []uint32{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic closed")
}

func TestRepairServerRepublishesStoredShreds(t *testing.T) {
	inSet := types.NewDataShred(3, 5, 1, 4, 0, 0, []byte("five"))
	otherSet := types.NewDataShred(3, 9, 1, 8, 0, 0, []byte("nine"))
	source := fakeSource{
		inSet.ID():    &inSet,
		otherSet.ID(): &otherSet,
	}
	pub := &fakePublisher{}
	s := NewRepairServer(selfID, source, pub)

	sent, err := s.serve(context.Background(), RepairRequestMessage{
		Slot:        3,
		FECSetIndex: 4,
		// 2 is below the set, 6 is not stored, 9 belongs to another set
		Indexes: []uint32{2, 5, 6, 9},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, inSet.Encode(), pub.msgs[0])

	decoded, err := types.DecodeShred(pub.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(5), decoded.Index())
}

func TestRepairServerPublishError(t *testing.T) {
	s1 := types.NewDataShred(3, 0, 1, 0, 0, 0, []byte("zero"))
	pub := &fakePublisher{fail: errors.New("boom")}
	s := NewRepairServer(selfID, fakeSource{s1.ID(): &s1}, pub)

	sent, err := s.serve(context.Background(), RepairRequestMessage{Slot: 3, Indexes: []uint32{0}})
	require.Error(t, err)
	assert.Zero(t, sent)
}
