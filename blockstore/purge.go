package blockstore

import (
	"fmt"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
)

// PurgeSlot removes every record of a non-rooted slot in one batch and leaves a tombstone
// so shreds arriving later are rejected. Readers hold the slot lock shared, so they see the
// slot either whole or gone.
func (bs *Blockstore) PurgeSlot(slot uint64) error {
	release := bs.holdBound()
	defer release()
	if slot < bs.LowestCleanupSlot() {
		return nil
	}

	unlock := bs.lockSlot(slot)
	defer unlock()

	st, err := bs.tracker.get(slot)
	if err != nil {
		return err
	}
	defer bs.tracker.release(slot, st)
	if st.dead != nil && st.dead.Reason == string(ledgererr.ErrCodeSlotPurged) {
		return nil
	}
	rooted, err := bs.IsRoot(slot)
	if err != nil {
		return err
	}
	if rooted || st.meta.State == types.SlotRooted {
		return ledgererr.NewError(ledgererr.ErrCodeSlotRooted, slot, "slot %d is rooted and cannot be purged", slot)
	}

	batch := bs.provider.Batch()
	defer batch.Close()
	if err := bs.deleteSlotData(batch, slot); err != nil {
		return err
	}
	tombstone := newDeadSlot(slot, ledgererr.ErrCodeSlotPurged, "purged")
	if err := putJSON(batch, db.FamilyDeadSlots, slotKey(slot), tombstone); err != nil {
		return ledgererr.StorageFailure("encode tombstone", err)
	}

	var parentDone func()
	if parent, ok := st.meta.Parent(); ok && parent != slot && parent >= bs.LowestCleanupSlot() {
		unlockParent := bs.lockSlot(parent)
		defer unlockParent()
		pst, err := bs.tracker.get(parent)
		if err != nil {
			return err
		}
		defer bs.tracker.release(parent, pst)
		pmeta := pst.meta.Clone()
		if pst.persisted && pmeta.RemoveChild(slot) {
			if err := putJSON(batch, db.FamilySlotMeta, slotKey(parent), pmeta); err != nil {
				return ledgererr.StorageFailure("encode parent slot meta", err)
			}
			parentDone = func() { pst.meta = pmeta }
		}
	}

	if err := batch.Write(); err != nil {
		bs.tracker.evict(slot)
		return ledgererr.StorageFailure("commit purge", err)
	}
	if parentDone != nil {
		parentDone()
	}
	bs.tracker.evict(slot)

	monitoring.IncreasePurgedSlots(1)
	logx.Info("BLOCKSTORE", fmt.Sprintf("Purged slot %d", slot))
	return nil
}

// PurgeSlotsBelow raises the retention bound to slot and deletes the data of every slot
// below it, rooted or not. Root markers are kept. It returns the number of slots purged.
func (bs *Blockstore) PurgeSlotsBelow(slot uint64) (int, error) {
	bs.cleanupMu.Lock()
	defer bs.cleanupMu.Unlock()

	if slot <= bs.LowestCleanupSlot() {
		return 0, nil
	}

	// raise the bound first so no new shred lands below it while purging; commits that
	// checked the old bound finish before the raise, so the scan below sees them
	if err := bs.raiseBound(slot); err != nil {
		return 0, err
	}

	candidates := make(map[uint64]struct{})
	for _, cf := range []db.Family{db.FamilySlotMeta, db.FamilyDeadSlots, db.FamilyShreds} {
		err := bs.provider.IterateRange(cf, nil, slotKey(slot), func(k, _ []byte) bool {
			if s, err := decodeSlotKey(k); err == nil {
				candidates[s] = struct{}{}
			}
			return true
		})
		if err != nil {
			return 0, ledgererr.StorageFailure("scan slots below "+fmt.Sprint(slot), err)
		}
	}

	purged := 0
	for s := range candidates {
		if err := bs.purgeForCleanup(s); err != nil {
			return purged, err
		}
		purged++
	}
	bs.tracker.evictBelow(slot)

	monitoring.IncreasePurgedSlots(purged)
	logx.Info("BLOCKSTORE", fmt.Sprintf("Purged %d slots below %d", purged, slot))
	return purged, nil
}

func (bs *Blockstore) raiseBound(slot uint64) error {
	bs.boundMu.Lock()
	defer bs.boundMu.Unlock()
	if err := bs.Put(db.FamilyMeta, metaKeyLowestCleanupSlot, encodeU64(slot)); err != nil {
		return err
	}
	bs.lowestCleanupSlot.Store(slot)
	return nil
}

func (bs *Blockstore) purgeForCleanup(slot uint64) error {
	unlock := bs.lockSlot(slot)
	defer unlock()

	batch := bs.provider.Batch()
	defer batch.Close()
	if err := bs.deleteSlotData(batch, slot); err != nil {
		return err
	}
	batch.Delete(db.FamilyDeadSlots, slotKey(slot))
	if err := batch.Write(); err != nil {
		return ledgererr.StorageFailure("commit cleanup", err)
	}
	bs.tracker.evict(slot)
	return nil
}

// deleteSlotData queues deletion of shreds, erasure metas, entries, transaction statuses,
// duplicate proofs and the slot meta of one slot.
func (bs *Blockstore) deleteSlotData(batch db.DatabaseBatch, slot uint64) error {
	prefix := slotKey(slot)
	for _, cf := range []db.Family{db.FamilyShreds, db.FamilyErasureMeta, db.FamilyDuplicateSlots} {
		err := db.IteratePrefix(bs.provider, cf, prefix, func(k, _ []byte) bool {
			batch.Delete(cf, k)
			return true
		})
		if err != nil {
			return ledgererr.StorageFailure("scan "+cf.String(), err)
		}
	}

	var decodeErr error
	err := db.IteratePrefix(bs.provider, db.FamilyEntries, prefix, func(k, v []byte) bool {
		batch.Delete(db.FamilyEntries, k)
		e, _, err := poh.DecodeEntry(v)
		if err != nil {
			decodeErr = err
			return false
		}
		for _, tx := range e.Transactions {
			if sig, ok := poh.TxSignature(tx); ok {
				batch.Delete(db.FamilyTxStatus, txStatusKey(sig, slot))
			}
		}
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return ledgererr.StorageFailure("scan entries", err)
	}

	batch.Delete(db.FamilySlotMeta, prefix)
	return nil
}

// SetLowestCleanupSlot is PurgeSlotsBelow under the name the retention service uses.
func (bs *Blockstore) SetLowestCleanupSlot(slot uint64) error {
	_, err := bs.PurgeSlotsBelow(slot)
	return err
}

func purgedError(slot uint64) error {
	return ledgererr.NewError(ledgererr.ErrCodeSlotPurged, slot, "slot %d has been purged", slot)
}
