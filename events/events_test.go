package events

import (
	"testing"
	"time"

	"github.com/mezonai/mmn-ledger/blockstore"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch chan LedgerEvent) LedgerEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestEventBusSubscribePublish(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	assert.Equal(t, 1, bus.GetTotalSubscriptions())
	assert.True(t, bus.HasSubscriber(id))

	bus.Publish(NewSlotFull(10, 3))

	ev := receive(t, ch)
	assert.Equal(t, EventSlotFull, ev.Type())
	assert.Equal(t, uint64(10), ev.Slot())
	assert.Equal(t, uint64(3), ev.(*SlotFull).LastIndex())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.GetTotalSubscriptions())

	_, open := <-ch
	assert.False(t, open)
}

func TestEventBusTypeFilter(t *testing.T) {
	bus := NewEventBus()
	_, rooted := bus.Subscribe(EventSlotRooted)
	_, all := bus.Subscribe()

	bus.Publish(NewSlotFull(4, 0))
	bus.Publish(NewSlotRooted(4))

	assert.Equal(t, EventSlotRooted, receive(t, rooted).Type())
	assert.Equal(t, EventSlotFull, receive(t, all).Type())
	assert.Equal(t, EventSlotRooted, receive(t, all).Type())
	assert.Len(t, rooted, 0)
}

func TestEventBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewEventBus()
	_, ch := bus.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(NewSlotRooted(uint64(i)))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestRouterPublishInsertResult(t *testing.T) {
	bus := NewEventBus()
	router := NewEventRouter(bus)
	_, ch := bus.Subscribe()

	res := &blockstore.InsertResult{
		FullSlots: []uint64{5, 7},
		DeadSlots: []types.DeadSlot{{Slot: 7, Reason: string(ledgererr.ErrCodeChainBreak)}},
		Conflicts: []types.DuplicateProof{{Slot: 6, Index: 2}},
	}
	router.PublishInsertResult(res, func(slot uint64) uint64 { return slot * 10 })

	ev := receive(t, ch)
	require.Equal(t, EventShredConflict, ev.Type())
	assert.Equal(t, uint32(2), ev.(*ShredConflict).Proof().Index)

	ev = receive(t, ch)
	require.Equal(t, EventSlotDead, ev.Type())
	assert.Equal(t, string(ledgererr.ErrCodeChainBreak), ev.(*SlotDead).Reason())

	ev = receive(t, ch)
	require.Equal(t, EventSlotFull, ev.Type())
	assert.Equal(t, uint64(5), ev.Slot())
	assert.Equal(t, uint64(50), ev.(*SlotFull).LastIndex())

	assert.Len(t, ch, 0)
}

func TestNilRouterIsNoop(t *testing.T) {
	var router *EventRouter
	router.PublishEvent(NewSlotRooted(1))
	router.PublishInsertResult(&blockstore.InsertResult{FullSlots: []uint64{1}}, nil)
}

func TestSlotPurgedVariants(t *testing.T) {
	one := NewSlotPurged(9)
	assert.False(t, one.Below())
	assert.Equal(t, 1, one.Count())

	bulk := NewSlotsPurgedBelow(100, 42)
	assert.True(t, bulk.Below())
	assert.Equal(t, 42, bulk.Count())
	assert.Equal(t, uint64(100), bulk.Slot())
	assert.Equal(t, EventSlotPurged, bulk.Type())
}
