package blockstore

import (
	"sort"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/jsonx"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/mr-tron/base58"
)

// purgedLocked reports whether slot is gone, either by tombstone or by retention.
// Caller holds the slot lock.
func (bs *Blockstore) purgedLocked(slot uint64) (bool, *types.DeadSlot, error) {
	if slot < bs.LowestCleanupSlot() {
		return true, nil, nil
	}
	dead, err := bs.readDeadSlot(slot)
	if err != nil {
		return false, nil, err
	}
	if dead != nil && dead.Reason == string(ledgererr.ErrCodeSlotPurged) {
		return true, dead, nil
	}
	return false, dead, nil
}

// SlotMeta returns the slot's completeness record, nil if the slot is unknown. A purged
// slot is reported with State SlotPurged.
func (bs *Blockstore) SlotMeta(slot uint64) (*types.SlotMeta, error) {
	unlock := bs.rlockSlot(slot)
	defer unlock()

	purged, _, err := bs.purgedLocked(slot)
	if err != nil {
		return nil, err
	}
	if purged {
		meta := types.NewSlotMeta(slot)
		meta.State = types.SlotPurged
		return meta, nil
	}
	return bs.readSlotMeta(slot)
}

// DeadSlot returns the quarantine record of a slot, nil if it is not dead.
func (bs *Blockstore) DeadSlot(slot uint64) (*types.DeadSlot, error) {
	unlock := bs.rlockSlot(slot)
	defer unlock()
	return bs.readDeadSlot(slot)
}

// IsDead reports slots that can never be assembled. Purged slots are not dead.
func (bs *Blockstore) IsDead(slot uint64) (bool, error) {
	dead, err := bs.DeadSlot(slot)
	if err != nil {
		return false, err
	}
	return dead != nil && dead.Reason != string(ledgererr.ErrCodeSlotPurged), nil
}

// GetShred returns the data shred at (slot, index), nil if it is not stored.
func (bs *Blockstore) GetShred(slot uint64, index uint32) (*types.Shred, error) {
	return bs.getShred(slot, index, types.ShredTypeData)
}

// GetCodingShred returns the coding shred at (slot, index), nil if it is not stored.
func (bs *Blockstore) GetCodingShred(slot uint64, index uint32) (*types.Shred, error) {
	return bs.getShred(slot, index, types.ShredTypeCoding)
}

func (bs *Blockstore) getShred(slot uint64, index uint32, t types.ShredType) (*types.Shred, error) {
	unlock := bs.rlockSlot(slot)
	defer unlock()

	purged, _, err := bs.purgedLocked(slot)
	if err != nil {
		return nil, err
	}
	if purged {
		return nil, purgedError(slot)
	}
	raw, err := bs.provider.Get(db.FamilyShreds, shredKey(slot, index, t))
	if err != nil {
		return nil, ledgererr.StorageFailure("get shred", err)
	}
	if raw == nil {
		return nil, nil
	}
	s, err := types.DecodeShred(raw)
	if err != nil {
		return nil, ledgererr.StorageFailure("decode shred", err)
	}
	return &s, nil
}

// SlotShreds returns the stored data shreds of a slot in index order.
func (bs *Blockstore) SlotShreds(slot uint64) ([]types.Shred, error) {
	unlock := bs.rlockSlot(slot)
	defer unlock()

	var out []types.Shred
	var decodeErr error
	err := db.IteratePrefix(bs.provider, db.FamilyShreds, slotKey(slot), func(k, v []byte) bool {
		id, err := decodeShredKey(k)
		if err != nil || id.Type != types.ShredTypeData {
			return true
		}
		s, err := types.DecodeShred(v)
		if err != nil {
			decodeErr = err
			return false
		}
		out = append(out, s)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("scan slot shreds", err)
	}
	return out, nil
}

// ErasureMeta returns the descriptor of an erasure set, nil before any coding shred arrived.
func (bs *Blockstore) ErasureMeta(id types.ErasureSetID) (*types.ErasureMeta, error) {
	unlock := bs.rlockSlot(id.Slot)
	defer unlock()
	return bs.readErasureMeta(id)
}

func (bs *Blockstore) readErasureMeta(id types.ErasureSetID) (*types.ErasureMeta, error) {
	v, err := bs.provider.Get(db.FamilyErasureMeta, indexKey(id.Slot, id.FECSetIndex))
	if err != nil {
		return nil, ledgererr.StorageFailure("get erasure meta", err)
	}
	if v == nil {
		return nil, nil
	}
	var em types.ErasureMeta
	if err := jsonx.Unmarshal(v, &em); err != nil {
		return nil, ledgererr.StorageFailure("decode erasure meta", err)
	}
	return &em, nil
}

// ErasureSetShreds returns every stored shred of a set plus its descriptor. Without a
// descriptor only the data shreds tagged with the set are returned.
func (bs *Blockstore) ErasureSetShreds(id types.ErasureSetID) ([]types.Shred, *types.ErasureMeta, error) {
	unlock := bs.rlockSlot(id.Slot)
	defer unlock()

	em, err := bs.readErasureMeta(id)
	if err != nil {
		return nil, nil, err
	}

	var keys [][]byte
	if em != nil {
		lo, hi := em.DataIndexRange()
		for i := lo; i < hi; i++ {
			keys = append(keys, shredKey(id.Slot, i, types.ShredTypeData))
		}
		lo, hi = em.CodingIndexRange()
		for i := lo; i < hi; i++ {
			keys = append(keys, shredKey(id.Slot, i, types.ShredTypeCoding))
		}
	} else {
		limit := uint32(bs.opts.Limits.MaxNumData)
		for i := id.FECSetIndex; i < id.FECSetIndex+limit; i++ {
			keys = append(keys, shredKey(id.Slot, i, types.ShredTypeData))
		}
	}

	stored, err := bs.provider.GetBatch(db.FamilyShreds, keys)
	if err != nil {
		return nil, nil, ledgererr.StorageFailure("read erasure set", err)
	}
	out := make([]types.Shred, 0, len(stored))
	for _, k := range keys {
		raw, ok := stored[string(k)]
		if !ok {
			continue
		}
		s, err := types.DecodeShred(raw)
		if err != nil {
			return nil, nil, ledgererr.StorageFailure("decode shred", err)
		}
		if s.Common.FECSetIndex != id.FECSetIndex {
			continue
		}
		out = append(out, s)
	}
	return out, em, nil
}

// GetSlotEntries returns the assembled entries of a full slot. Incomplete slots answer
// SlotNotFull (or SlotNotFound), quarantined slots their dead reason, purged slots SlotPurged.
func (bs *Blockstore) GetSlotEntries(slot uint64) ([]poh.Entry, error) {
	unlock := bs.rlockSlot(slot)
	defer unlock()

	purged, dead, err := bs.purgedLocked(slot)
	if err != nil {
		return nil, err
	}
	if purged {
		return nil, purgedError(slot)
	}
	if dead != nil {
		return nil, ledgererr.NewError(ledgererr.LedgerErrorCode(dead.Reason), slot, "%s", dead.Detail)
	}

	meta, err := bs.readSlotMeta(slot)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ledgererr.NewError(ledgererr.ErrCodeSlotNotFound, slot, "slot %d is unknown", slot)
	}
	if !meta.IsFull() {
		return nil, ledgererr.NewError(ledgererr.ErrCodeSlotNotFull, slot,
			"slot %d has %d contiguous data shreds", slot, meta.Consumed)
	}

	var entries []poh.Entry
	var decodeErr error
	err = db.IteratePrefix(bs.provider, db.FamilyEntries, slotKey(slot), func(_, v []byte) bool {
		e, _, err := poh.DecodeEntry(v)
		if err != nil {
			decodeErr = err
			return false
		}
		entries = append(entries, e)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("scan entries", err)
	}
	return entries, nil
}

// Slots returns the metas of known slots in [from, to] ascending.
func (bs *Blockstore) Slots(from, to uint64) ([]*types.SlotMeta, error) {
	var end []byte
	if to < ^uint64(0) {
		end = slotKey(to + 1)
	}
	var out []*types.SlotMeta
	var decodeErr error
	err := bs.provider.IterateRange(db.FamilySlotMeta, slotKey(from), end, func(_, v []byte) bool {
		var meta types.SlotMeta
		if err := jsonx.Unmarshal(v, &meta); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, &meta)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("scan slot meta", err)
	}
	return out, nil
}

// LowestSlot returns the lowest slot with a meta record.
func (bs *Blockstore) LowestSlot() (uint64, bool, error) {
	var slot uint64
	found := false
	err := bs.provider.IterateRange(db.FamilySlotMeta, slotKey(bs.LowestCleanupSlot()), nil, func(k, _ []byte) bool {
		s, err := decodeSlotKey(k)
		if err == nil {
			slot, found = s, true
		}
		return false
	})
	if err != nil {
		return 0, false, ledgererr.StorageFailure("scan slot meta", err)
	}
	return slot, found, nil
}

// MissingDataIndexes lists up to max data indexes the slot still needs, for repair.
// The upper bound is the last index when known, else the highest index received.
func (bs *Blockstore) MissingDataIndexes(slot uint64, max int) ([]uint32, error) {
	unlock := bs.rlockSlot(slot)
	defer unlock()

	meta, err := bs.readSlotMeta(slot)
	if err != nil || meta == nil {
		return nil, err
	}
	end := meta.Received
	if meta.LastIndex != nil {
		end = *meta.LastIndex + 1
	}
	if meta.Consumed >= end {
		return nil, nil
	}

	present := make(map[uint32]struct{})
	start := shredKey(slot, uint32(meta.Consumed), types.ShredTypeData)
	stop := slotKey(slot + 1)
	err = bs.provider.IterateRange(db.FamilyShreds, start, stop, func(k, _ []byte) bool {
		if id, err := decodeShredKey(k); err == nil && id.Type == types.ShredTypeData {
			present[id.Index] = struct{}{}
		}
		return true
	})
	if err != nil {
		return nil, ledgererr.StorageFailure("scan slot shreds", err)
	}

	var missing []uint32
	for i := meta.Consumed; i < end && (max <= 0 || len(missing) < max); i++ {
		if _, ok := present[uint32(i)]; !ok {
			missing = append(missing, uint32(i))
		}
	}
	return missing, nil
}

// DuplicateProofs returns the conflict evidence recorded for a slot.
func (bs *Blockstore) DuplicateProofs(slot uint64) ([]types.DuplicateProof, error) {
	var out []types.DuplicateProof
	var decodeErr error
	err := db.IteratePrefix(bs.provider, db.FamilyDuplicateSlots, slotKey(slot), func(_, v []byte) bool {
		var p types.DuplicateProof
		if err := jsonx.Unmarshal(v, &p); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, p)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("scan duplicate proofs", err)
	}
	return out, nil
}

// GetTransactionStatus returns the status of a transaction by raw signature. When the
// transaction landed in several slots, a rooted slot wins, then the highest slot.
func (bs *Blockstore) GetTransactionStatus(sig []byte) (*types.TransactionStatus, error) {
	var candidates []*types.TransactionStatus
	var decodeErr error
	err := db.IteratePrefix(bs.provider, db.FamilyTxStatus, sig, func(k, v []byte) bool {
		if len(k) != len(sig)+8 {
			return true
		}
		var st types.TransactionStatus
		if err := jsonx.Unmarshal(v, &st); err != nil {
			decodeErr = err
			return false
		}
		candidates = append(candidates, &st)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("scan transaction status", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[len(candidates)-1]
	for i := len(candidates) - 1; i >= 0; i-- {
		rooted, err := bs.IsRoot(candidates[i].Slot)
		if err != nil {
			return nil, err
		}
		if rooted {
			best = candidates[i]
			break
		}
	}
	return best, nil
}

// GetTransactionStatusBase58 looks a status up by its base58 signature.
func (bs *Blockstore) GetTransactionStatusBase58(sig string) (*types.TransactionStatus, error) {
	raw, err := base58.Decode(sig)
	if err != nil {
		return nil, err
	}
	return bs.GetTransactionStatus(raw)
}

// WriteTransactionStatus replaces the placeholder written at assembly with the replay
// outcome.
func (bs *Blockstore) WriteTransactionStatus(status *types.TransactionStatus) error {
	sig, err := status.DecodeSignature()
	if err != nil {
		return err
	}
	if len(sig) != poh.TxSignatureSize {
		return ledgererr.NewError(ledgererr.ErrCodeMalformedShred, status.Slot, "signature has %d bytes", len(sig))
	}

	release := bs.holdBound()
	defer release()
	unlock := bs.rlockSlot(status.Slot)
	defer unlock()
	purged, _, err := bs.purgedLocked(status.Slot)
	if err != nil {
		return err
	}
	if purged {
		return purgedError(status.Slot)
	}
	value, err := jsonx.Marshal(status)
	if err != nil {
		return err
	}
	return bs.Put(db.FamilyTxStatus, txStatusKey(sig, status.Slot), value)
}

// AncestryIterator walks the slot tree from root breadth first, children in ascending order.
type AncestryIterator struct {
	bs    *Blockstore
	queue []uint64
	seen  map[uint64]struct{}
}

func (bs *Blockstore) AncestryIterator(root uint64) *AncestryIterator {
	return &AncestryIterator{bs: bs, queue: []uint64{root}, seen: map[uint64]struct{}{root: {}}}
}

// Next returns the next slot meta, nil when the walk is over.
func (it *AncestryIterator) Next() (*types.SlotMeta, error) {
	for len(it.queue) > 0 {
		slot := it.queue[0]
		it.queue = it.queue[1:]

		meta, err := it.bs.SlotMeta(slot)
		if err != nil {
			return nil, err
		}
		if meta == nil || meta.State == types.SlotPurged {
			continue
		}
		children := append([]uint64(nil), meta.NextSlots...)
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
		for _, c := range children {
			if _, ok := it.seen[c]; ok {
				continue
			}
			it.seen[c] = struct{}{}
			it.queue = append(it.queue, c)
		}
		return meta, nil
	}
	return nil, nil
}
