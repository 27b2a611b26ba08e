package ingest

import (
	"github.com/mezonai/mmn-ledger/events"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
)

// MarkRoot finalizes slot for the consensus collaborator; the root is durable on return.
func (in *Ingester) MarkRoot(slot uint64) error {
	if err := in.store.MarkRoot(slot); err != nil {
		return err
	}
	in.router.PublishEvent(events.NewSlotRooted(slot))
	return nil
}

// PurgeSlot drops a non-rooted slot.
func (in *Ingester) PurgeSlot(slot uint64) error {
	if err := in.store.PurgeSlot(slot); err != nil {
		return err
	}
	in.router.PublishEvent(events.NewSlotPurged(slot))
	return nil
}

// PurgeSlotsBelow raises the retention bound.
func (in *Ingester) PurgeSlotsBelow(slot uint64) (int, error) {
	n, err := in.store.PurgeSlotsBelow(slot)
	if err != nil {
		return n, err
	}
	if n > 0 {
		in.router.PublishEvent(events.NewSlotsPurgedBelow(slot, n))
	}
	return n, nil
}

func (in *Ingester) GetSlotEntries(slot uint64) ([]poh.Entry, error) {
	return in.store.GetSlotEntries(slot)
}

func (in *Ingester) GetShred(slot uint64, index uint32) (*types.Shred, error) {
	return in.store.GetShred(slot, index)
}

func (in *Ingester) SlotMeta(slot uint64) (*types.SlotMeta, error) {
	return in.store.SlotMeta(slot)
}
