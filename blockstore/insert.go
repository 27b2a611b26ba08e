package blockstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/mezonai/mmn-ledger/utils"
)

type ShredStatus int

const (
	ShredInserted ShredStatus = iota
	ShredDuplicate
	ShredRejected
)

func (s ShredStatus) String() string {
	switch s {
	case ShredInserted:
		return "inserted"
	case ShredDuplicate:
		return "duplicate"
	case ShredRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ShredResult is the outcome for one input shred. Err is set for rejected shreds.
type ShredResult struct {
	ID     types.ShredID
	Status ShredStatus
	Err    error
}

// InsertResult reports what an InsertShreds call changed.
type InsertResult struct {
	// Shreds is aligned with the input slice.
	Shreds []ShredResult
	// FullSlots became Full in this call; their entries are stored unless they are in DeadSlots.
	FullSlots []uint64
	// DeadSlots were quarantined in this call.
	DeadSlots []types.DeadSlot
	// ErasureSets gained at least one shred, ascending.
	ErasureSets []types.ErasureSetID
	// Conflicts holds evidence for every ShredConflict raised.
	Conflicts []types.DuplicateProof
}

// Inserted counts newly stored shreds.
func (r *InsertResult) Inserted() int {
	n := 0
	for _, s := range r.Shreds {
		if s.Status == ShredInserted {
			n++
		}
	}
	return n
}

// slotWrite accumulates the changes to one slot before they are committed in one batch.
// The tracker view is only updated after the batch is written.
type slotWrite struct {
	slot  uint64
	st    *slotState
	meta  *types.SlotMeta
	batch db.DatabaseBatch

	data       map[uint32][]byte
	coding     map[uint32][]byte
	erasure    map[uint32]*types.ErasureMeta
	dead       *types.DeadSlot
	inserted   []int
	wasFull    bool
	wasLinked  bool
	parentLink *parentLink
}

type parentLink struct {
	slot    uint64
	st      *slotState
	meta    *types.SlotMeta
	written bool
	unlock  func()
}

func (w *slotWrite) hasData(index uint32) bool {
	if _, ok := w.data[index]; ok {
		return true
	}
	return w.st.hasData(index)
}

func (w *slotWrite) pendingBytes(id types.ShredID) ([]byte, bool) {
	if id.Type == types.ShredTypeCoding {
		b, ok := w.coding[id.Index]
		return b, ok
	}
	b, ok := w.data[id.Index]
	return b, ok
}

func (w *slotWrite) erasureMeta(fecSetIndex uint32) *types.ErasureMeta {
	if em, ok := w.erasure[fecSetIndex]; ok {
		return em
	}
	return w.st.erasure[fecSetIndex]
}

func (w *slotWrite) dirty() bool {
	return len(w.inserted) > 0 || w.batch.Len() > 0
}

func rejected(id types.ShredID, err error) ShredResult {
	return ShredResult{ID: id, Status: ShredRejected, Err: err}
}

// InsertShreds stores verified shreds. Shreds are grouped by slot and every slot is
// committed in its own atomic batch together with its slot meta, erasure meta, parent link
// and, when the slot becomes Full, its entries and transaction-status placeholders.
// ctx is checked before each slot's batch is committed; shreds of slots not yet committed
// are reported rejected with the context error. Only storage failures and cancellation are
// returned as error; everything else is reported per shred.
func (bs *Blockstore) InsertShreds(ctx context.Context, shreds []types.Shred) (*InsertResult, error) {
	res := &InsertResult{Shreds: make([]ShredResult, len(shreds))}
	if len(shreds) == 0 {
		return res, nil
	}

	bySlot := make(map[uint64][]int)
	for i := range shreds {
		slot := shreds[i].Slot()
		bySlot[slot] = append(bySlot[slot], i)
	}
	slots := make([]uint64, 0, len(bySlot))
	for slot := range bySlot {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	sets := make(map[types.ErasureSetID]struct{})
	for n, slot := range slots {
		propagate, err := bs.insertSlot(ctx, slot, shreds, bySlot[slot], res, sets)
		if err != nil {
			for _, rest := range slots[n:] {
				for _, i := range bySlot[rest] {
					if res.Shreds[i].Status != ShredRejected || res.Shreds[i].Err == nil {
						res.Shreds[i] = rejected(shreds[i].ID(), err)
					}
				}
			}
			res.finish(sets)
			return res, err
		}
		if propagate {
			if err := bs.propagateConnected(slot); err != nil {
				res.finish(sets)
				return res, err
			}
		}
	}

	res.finish(sets)
	return res, nil
}

func (r *InsertResult) finish(sets map[types.ErasureSetID]struct{}) {
	r.ErasureSets = make([]types.ErasureSetID, 0, len(sets))
	for id := range sets {
		r.ErasureSets = append(r.ErasureSets, id)
	}
	sort.Slice(r.ErasureSets, func(i, j int) bool {
		a, b := r.ErasureSets[i], r.ErasureSets[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.FECSetIndex < b.FECSetIndex
	})
}

func (bs *Blockstore) insertSlot(ctx context.Context, slot uint64, shreds []types.Shred, idxs []int, res *InsertResult, sets map[types.ErasureSetID]struct{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	release := bs.holdBound()
	defer release()
	unlock := bs.lockSlot(slot)
	defer unlock()

	st, err := bs.tracker.get(slot)
	if err != nil {
		return false, err
	}
	defer bs.tracker.release(slot, st)

	batch := bs.provider.Batch()
	defer batch.Close()

	w := &slotWrite{
		slot:      slot,
		st:        st,
		meta:      st.meta.Clone(),
		batch:     batch,
		data:      make(map[uint32][]byte),
		coding:    make(map[uint32][]byte),
		erasure:   make(map[uint32]*types.ErasureMeta),
		wasFull:   st.meta.IsFull(),
		wasLinked: st.meta.IsConnected,
	}
	defer func() {
		if w.parentLink != nil {
			bs.tracker.release(w.parentLink.slot, w.parentLink.st)
			w.parentLink.unlock()
		}
	}()

	for _, i := range idxs {
		s := &shreds[i]
		r, err := bs.insertShred(w, s, res)
		if err != nil {
			return false, err
		}
		res.Shreds[i] = r
		if r.Status == ShredInserted {
			w.inserted = append(w.inserted, i)
			sets[s.ErasureSetID()] = struct{}{}
		}
	}

	if !w.dirty() {
		return false, nil
	}

	if len(w.inserted) > 0 && w.meta.State == types.SlotEmpty {
		w.meta.State = types.SlotReceiving
	}

	becameFull := false
	if !w.wasFull && w.meta.IsFull() && w.meta.State == types.SlotReceiving {
		w.meta.State = types.SlotFull
		becameFull = true
		dead, err := bs.assemble(ctx, w)
		if err != nil {
			return false, err
		}
		if dead != nil {
			w.dead = dead
			if err := putJSON(batch, db.FamilyDeadSlots, slotKey(slot), dead); err != nil {
				return false, ledgererr.StorageFailure("encode dead slot", err)
			}
		}
	}

	if err := putJSON(batch, db.FamilySlotMeta, slotKey(slot), w.meta); err != nil {
		return false, ledgererr.StorageFailure("encode slot meta", err)
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := batch.Write(); err != nil {
		bs.tracker.evict(slot)
		if w.parentLink != nil {
			bs.tracker.evict(w.parentLink.slot)
		}
		logx.Error("BLOCKSTORE", fmt.Sprintf("slot=%d batch write failed: %v", slot, err))
		return false, ledgererr.StorageFailure("commit slot batch", err)
	}

	w.apply()

	if becameFull {
		res.FullSlots = append(res.FullSlots, slot)
		logx.Info("BLOCKSTORE", fmt.Sprintf("slot=%d is full, last_index=%d", slot, *w.meta.LastIndex))
	}
	if w.dead != nil {
		res.DeadSlots = append(res.DeadSlots, *w.dead)
		logx.Warn("BLOCKSTORE", fmt.Sprintf("slot=%d marked dead: %s %s", slot, w.dead.Reason, w.dead.Detail))
	}

	nowLinked := w.meta.IsConnected && (!w.wasLinked || becameFull)
	return nowLinked && w.meta.IsFull() && w.st.dead == nil, nil
}

// apply publishes the committed write into the tracker view.
func (w *slotWrite) apply() {
	w.st.meta = w.meta
	w.st.persisted = true
	for idx := range w.data {
		w.st.data[idx] = struct{}{}
	}
	for idx := range w.coding {
		w.st.coding[idx] = struct{}{}
	}
	for fec, em := range w.erasure {
		w.st.erasure[fec] = em
	}
	if w.dead != nil {
		w.st.dead = w.dead
	}
	if w.parentLink != nil && w.parentLink.written {
		w.parentLink.st.meta = w.parentLink.meta
		w.parentLink.st.persisted = true
	}
}

func (bs *Blockstore) insertShred(w *slotWrite, s *types.Shred, res *InsertResult) (ShredResult, error) {
	id := s.ID()

	if s.Slot() < bs.LowestCleanupSlot() {
		return rejected(id, ledgererr.NewShredError(ledgererr.ErrCodeMalformedShred, id.Slot, id.Index,
			"slot below retention bound %d", bs.LowestCleanupSlot())), nil
	}
	if err := s.Sanitize(bs.opts.Limits); err != nil {
		return rejected(id, ledgererr.NewShredError(ledgererr.ErrCodeMalformedShred, id.Slot, id.Index, "%v", err)), nil
	}
	if dead := w.st.dead; dead != nil {
		return rejected(id, deadSlotError(dead)), nil
	}

	raw := s.Encode()
	existing, found := w.pendingBytes(id)
	if !found && w.st.has(id) {
		var err error
		existing, err = bs.provider.Get(db.FamilyShreds, shredIDKey(id))
		if err != nil {
			return ShredResult{}, ledgererr.StorageFailure("get shred", err)
		}
		found = existing != nil
	}
	if found && bytes.Equal(existing, raw) {
		return ShredResult{ID: id, Status: ShredDuplicate}, nil
	}
	// rooted slots take no writes, conflict evidence included
	if w.meta.State == types.SlotRooted {
		return rejected(id, ledgererr.NewShredError(ledgererr.ErrCodeSlotRooted, id.Slot, id.Index,
			"slot %d is rooted", id.Slot)), nil
	}
	if found {
		return bs.conflict(w, s, existing, raw, res, "different shred already stored")
	}

	if s.IsData() {
		return bs.insertDataShred(w, s, raw, res)
	}
	return bs.insertCodingShred(w, s, raw, res)
}

func (bs *Blockstore) insertDataShred(w *slotWrite, s *types.Shred, raw []byte, res *InsertResult) (ShredResult, error) {
	id := s.ID()
	meta := w.meta
	index := uint64(s.Index())

	parent, err := s.ParentSlot()
	if err != nil {
		return rejected(id, ledgererr.NewShredError(ledgererr.ErrCodeMalformedShred, id.Slot, id.Index, "%v", err)), nil
	}
	if p, ok := meta.Parent(); ok && p != parent {
		return bs.conflict(w, s, nil, raw, res, fmt.Sprintf("parent %d disagrees with stored parent %d", parent, p))
	}
	if meta.LastIndex != nil {
		if index > *meta.LastIndex {
			return bs.conflict(w, s, nil, raw, res, fmt.Sprintf("index beyond last index %d", *meta.LastIndex))
		}
		if s.LastInSlot() && index != *meta.LastIndex {
			return bs.conflict(w, s, nil, raw, res, fmt.Sprintf("second last-in-slot shred, stored last index %d", *meta.LastIndex))
		}
	}
	if s.LastInSlot() && meta.Received > index+1 {
		return bs.conflict(w, s, nil, raw, res, fmt.Sprintf("last-in-slot below received %d", meta.Received))
	}

	if meta.ParentSlot == nil {
		meta.SetParent(parent)
		if err := bs.linkParent(w, parent); err != nil {
			return ShredResult{}, err
		}
	}

	w.batch.Put(db.FamilyShreds, shredIDKey(id), raw)
	w.data[s.Index()] = raw

	if meta.FirstShredTimestamp == 0 {
		meta.FirstShredTimestamp = time.Now().UnixMilli()
	}
	meta.ShredsReceived++
	if index+1 > meta.Received {
		meta.Received = index + 1
	}
	if s.LastInSlot() {
		meta.SetLastIndex(index)
	}
	if s.DataComplete() {
		meta.AddCompletedDataIndex(s.Index())
	}
	for meta.Consumed <= uint64(^uint32(0)) && w.hasData(uint32(meta.Consumed)) {
		meta.Consumed++
	}

	return ShredResult{ID: id, Status: ShredInserted}, nil
}

func (bs *Blockstore) insertCodingShred(w *slotWrite, s *types.Shred, raw []byte, res *InsertResult) (ShredResult, error) {
	id := s.ID()
	fec := s.Common.FECSetIndex

	em := w.erasureMeta(fec)
	if em != nil && !em.Consistent(s) {
		existing, err := bs.anyCodingShred(w, em)
		if err != nil {
			return ShredResult{}, err
		}
		return bs.conflict(w, s, existing, raw, res, "coding shred disagrees with erasure set geometry")
	}
	if em == nil {
		em = types.NewErasureMeta(s)
		if err := putJSON(w.batch, db.FamilyErasureMeta, indexKey(w.slot, fec), em); err != nil {
			return ShredResult{}, ledgererr.StorageFailure("encode erasure meta", err)
		}
		w.erasure[fec] = em
	}

	w.batch.Put(db.FamilyShreds, shredIDKey(id), raw)
	w.coding[s.Index()] = raw
	if w.meta.FirstShredTimestamp == 0 {
		w.meta.FirstShredTimestamp = time.Now().UnixMilli()
	}
	w.meta.ShredsReceived++

	return ShredResult{ID: id, Status: ShredInserted}, nil
}

// anyCodingShred returns the bytes of one stored coding shred of the set, for evidence.
func (bs *Blockstore) anyCodingShred(w *slotWrite, em *types.ErasureMeta) ([]byte, error) {
	lo, hi := em.CodingIndexRange()
	for i := lo; i < hi; i++ {
		if b, ok := w.coding[i]; ok {
			return b, nil
		}
		if _, ok := w.st.coding[i]; ok {
			b, err := bs.provider.Get(db.FamilyShreds, shredKey(w.slot, i, types.ShredTypeCoding))
			if err != nil {
				return nil, ledgererr.StorageFailure("get coding shred", err)
			}
			return b, nil
		}
	}
	return nil, nil
}

// conflict records duplicate-slot evidence; the stored data is kept.
func (bs *Blockstore) conflict(w *slotWrite, s *types.Shred, existing, incoming []byte, res *InsertResult, reason string) (ShredResult, error) {
	id := s.ID()
	proof := types.DuplicateProof{
		Slot:     id.Slot,
		Index:    id.Index,
		Type:     id.Type,
		Existing: existing,
		Incoming: incoming,
	}
	if err := putJSON(w.batch, db.FamilyDuplicateSlots, shredIDKey(id), proof); err != nil {
		return ShredResult{}, ledgererr.StorageFailure("encode duplicate proof", err)
	}
	res.Conflicts = append(res.Conflicts, proof)
	logx.Warn("BLOCKSTORE", fmt.Sprintf("shred conflict %s sig=%s: %s", id, utils.ShortBase58(s.Common.Signature[:]), reason))
	return rejected(id, ledgererr.NewShredError(ledgererr.ErrCodeShredConflict, id.Slot, id.Index, "%s", reason)), nil
}

// linkParent adds the slot to its parent's NextSlots inside the same batch and inherits
// connectivity. Parents always have a lower slot, so holding the child lock while taking the
// parent lock keeps a global order.
func (bs *Blockstore) linkParent(w *slotWrite, parent uint64) error {
	if parent == w.slot || parent < bs.LowestCleanupSlot() {
		return nil
	}

	unlock := bs.lockSlot(parent)
	pst, err := bs.tracker.get(parent)
	if err != nil {
		unlock()
		return err
	}
	link := &parentLink{slot: parent, st: pst, meta: pst.meta.Clone(), unlock: unlock}
	w.parentLink = link

	if pst.dead != nil && pst.dead.Reason == string(ledgererr.ErrCodeSlotPurged) {
		// purged parents stay gone
		return nil
	}

	if link.meta.AddChild(w.slot) || !pst.persisted {
		if err := putJSON(w.batch, db.FamilySlotMeta, slotKey(parent), link.meta); err != nil {
			return ledgererr.StorageFailure("encode parent slot meta", err)
		}
		link.written = true
	}

	pm := link.meta
	if pm.State == types.SlotRooted || (pm.IsConnected && pm.IsFull() && pst.dead == nil) {
		w.meta.IsConnected = true
	}
	return nil
}

// propagateConnected marks descendants connected once slot is full and connected.
func (bs *Blockstore) propagateConnected(slot uint64) error {
	queue := []uint64{slot}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		meta, err := bs.readSlotMeta(cur)
		if err != nil {
			return err
		}
		if meta == nil || !meta.IsConnected || !meta.IsFull() {
			continue
		}
		for _, child := range meta.NextSlots {
			next, err := bs.connectChild(cur, child)
			if err != nil {
				return err
			}
			if next {
				queue = append(queue, child)
			}
		}
	}
	return nil
}

// connectChild sets IsConnected on child and reports whether propagation continues past it.
func (bs *Blockstore) connectChild(parent, child uint64) (bool, error) {
	release := bs.holdBound()
	defer release()
	if child < bs.LowestCleanupSlot() {
		return false, nil
	}
	unlock := bs.lockSlot(child)
	defer unlock()

	st, err := bs.tracker.get(child)
	if err != nil {
		return false, err
	}
	defer bs.tracker.release(child, st)
	if !st.persisted || st.meta.IsConnected {
		return false, nil
	}
	if p, ok := st.meta.Parent(); !ok || p != parent {
		return false, nil
	}

	meta := st.meta.Clone()
	meta.IsConnected = true
	batch := bs.provider.Batch()
	defer batch.Close()
	if err := putJSON(batch, db.FamilySlotMeta, slotKey(child), meta); err != nil {
		return false, ledgererr.StorageFailure("encode slot meta", err)
	}
	if err := batch.Write(); err != nil {
		bs.tracker.evict(child)
		return false, ledgererr.StorageFailure("commit slot meta", err)
	}
	st.meta = meta
	return meta.IsFull() && st.dead == nil, nil
}

func deadSlotError(dead *types.DeadSlot) error {
	code := ledgererr.ErrCodeSlotDead
	if dead.Reason == string(ledgererr.ErrCodeSlotPurged) {
		code = ledgererr.ErrCodeSlotPurged
	}
	return ledgererr.NewError(code, dead.Slot, "slot %d is %s: %s", dead.Slot, dead.Reason, dead.Detail)
}

// MarkDead quarantines a slot whose stored shreds turned out to be unusable after they were
// committed, such as an erasure set that only recovers to shreds failing verification. It
// returns the dead record and whether this call created it; a slot already dead keeps its
// first record. Rooted slots cannot be marked dead.
func (bs *Blockstore) MarkDead(slot uint64, code ledgererr.LedgerErrorCode, detail string) (*types.DeadSlot, bool, error) {
	release := bs.holdBound()
	defer release()
	unlock := bs.lockSlot(slot)
	defer unlock()

	if slot < bs.LowestCleanupSlot() {
		return nil, false, purgedError(slot)
	}
	st, err := bs.tracker.get(slot)
	if err != nil {
		return nil, false, err
	}
	defer bs.tracker.release(slot, st)
	if st.dead != nil {
		if st.dead.Reason == string(ledgererr.ErrCodeSlotPurged) {
			return nil, false, deadSlotError(st.dead)
		}
		return st.dead, false, nil
	}
	if st.meta.State == types.SlotRooted {
		return nil, false, ledgererr.NewError(ledgererr.ErrCodeSlotRooted, slot, "slot %d is rooted and cannot be marked dead", slot)
	}

	dead := newDeadSlot(slot, code, detail)
	batch := bs.provider.Batch()
	defer batch.Close()
	if err := putJSON(batch, db.FamilyDeadSlots, slotKey(slot), dead); err != nil {
		return nil, false, ledgererr.StorageFailure("encode dead slot", err)
	}
	if err := batch.Write(); err != nil {
		bs.tracker.evict(slot)
		return nil, false, ledgererr.StorageFailure("commit dead slot", err)
	}
	st.dead = dead

	logx.Warn("BLOCKSTORE", fmt.Sprintf("slot=%d marked dead: %s %s", slot, dead.Reason, dead.Detail))
	return dead, true, nil
}
