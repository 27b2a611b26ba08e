package blockstore

import (
	"fmt"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/types"
)

var rootMarker = []byte{1}

// MarkRoot finalizes a full slot. The root record, the slot state and the highest root are
// committed in one batch before MarkRoot returns; marking an existing root again is a no-op.
func (bs *Blockstore) MarkRoot(slot uint64) error {
	if err := bs.markRoot(slot); err != nil {
		return err
	}
	return bs.propagateConnected(slot)
}

func (bs *Blockstore) markRoot(slot uint64) error {
	release := bs.holdBound()
	defer release()
	unlock := bs.lockSlot(slot)
	defer unlock()

	st, err := bs.tracker.get(slot)
	if err != nil {
		return err
	}
	defer bs.tracker.release(slot, st)
	if st.dead != nil {
		return deadSlotError(st.dead)
	}
	if !st.persisted {
		if slot < bs.LowestCleanupSlot() {
			return ledgererr.NewError(ledgererr.ErrCodeSlotPurged, slot, "slot %d is below the retention bound", slot)
		}
		return ledgererr.NewError(ledgererr.ErrCodeSlotNotFound, slot, "slot %d is unknown", slot)
	}
	if st.meta.State == types.SlotRooted {
		return nil
	}
	if !st.meta.IsFull() {
		return ledgererr.NewError(ledgererr.ErrCodeSlotNotFull, slot, "slot %d is not full", slot)
	}

	meta := st.meta.Clone()
	meta.State = types.SlotRooted
	meta.IsConnected = true

	batch := bs.provider.Batch()
	defer batch.Close()
	batch.Put(db.FamilyRoots, slotKey(slot), rootMarker)
	if err := putJSON(batch, db.FamilySlotMeta, slotKey(slot), meta); err != nil {
		return ledgererr.StorageFailure("encode slot meta", err)
	}

	// roots on different slots may commit concurrently; the highest root key must not go back
	bs.rootMu.Lock()
	defer bs.rootMu.Unlock()
	prev, had := bs.HighestRoot()
	newHighest := !had || slot > prev
	if newHighest {
		batch.Put(db.FamilyMeta, metaKeyHighestRoot, encodeU64(slot))
	}
	if err := batch.Write(); err != nil {
		bs.tracker.evict(slot)
		return ledgererr.StorageFailure("commit root", err)
	}
	st.meta = meta
	if newHighest {
		bs.highestRoot.Store(slot)
		bs.hasRoot.Store(true)
	}

	monitoring.RecordRoot(slot)
	logx.Info("BLOCKSTORE", fmt.Sprintf("Marked slot %d as root", slot))
	return nil
}

// IsRoot reports whether slot has been rooted.
func (bs *Blockstore) IsRoot(slot uint64) (bool, error) {
	ok, err := bs.provider.Has(db.FamilyRoots, slotKey(slot))
	if err != nil {
		return false, ledgererr.StorageFailure("get root", err)
	}
	return ok, nil
}

// Roots lists rooted slots in [from, to] ascending.
func (bs *Blockstore) Roots(from, to uint64) ([]uint64, error) {
	var end []byte
	if to < ^uint64(0) {
		end = slotKey(to + 1)
	}
	var roots []uint64
	var decodeErr error
	err := bs.provider.IterateRange(db.FamilyRoots, slotKey(from), end, func(k, _ []byte) bool {
		slot, err := decodeSlotKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		roots = append(roots, slot)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("scan roots", err)
	}
	return roots, nil
}
