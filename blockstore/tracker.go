package blockstore

import (
	"sync"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/jsonx"
	"github.com/mezonai/mmn-ledger/types"
)

// slotState is the in-memory view of one slot being ingested. It is only touched while the
// slot's exclusive lock is held and is rebuilt from storage on demand, so dropping it is
// always safe.
type slotState struct {
	meta      *types.SlotMeta
	persisted bool

	data    map[uint32]struct{}
	coding  map[uint32]struct{}
	erasure map[uint32]*types.ErasureMeta
	dead    *types.DeadSlot
}

func (s *slotState) hasData(index uint32) bool {
	_, ok := s.data[index]
	return ok
}

func (s *slotState) has(id types.ShredID) bool {
	if id.Type == types.ShredTypeCoding {
		_, ok := s.coding[id.Index]
		return ok
	}
	return s.hasData(id.Index)
}

// erasureCounts returns how many data and coding shreds of the set are stored.
func (s *slotState) erasureCounts(em *types.ErasureMeta) (int, int) {
	numData, numCoding := 0, 0
	lo, hi := em.DataIndexRange()
	for i := lo; i < hi; i++ {
		if s.hasData(i) {
			numData++
		}
	}
	lo, hi = em.CodingIndexRange()
	for i := lo; i < hi; i++ {
		if _, ok := s.coding[i]; ok {
			numCoding++
		}
	}
	return numData, numCoding
}

type slotTracker struct {
	bs *Blockstore

	mu    sync.Mutex
	slots map[uint64]*slotState
}

func newSlotTracker(bs *Blockstore) *slotTracker {
	return &slotTracker{bs: bs, slots: make(map[uint64]*slotState)}
}

// get returns the slot view, loading it if needed. Caller holds the slot's exclusive lock.
func (t *slotTracker) get(slot uint64) (*slotState, error) {
	t.mu.Lock()
	st, ok := t.slots[slot]
	t.mu.Unlock()
	if ok {
		return st, nil
	}

	st, err := t.load(slot)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.slots[slot] = st
	t.mu.Unlock()
	return st, nil
}

func (t *slotTracker) evict(slot uint64) {
	t.mu.Lock()
	delete(t.slots, slot)
	t.mu.Unlock()
}

// release drops the view of a slot unless it is still receiving shreds. Full, rooted and
// dead slots change rarely and reload from storage on the next write, and views of slots
// that were never stored are not kept. Caller holds the slot's exclusive lock.
func (t *slotTracker) release(slot uint64, st *slotState) {
	if st.persisted && st.dead == nil && st.meta.State == types.SlotReceiving {
		return
	}
	t.evict(slot)
}

func (t *slotTracker) evictBelow(slot uint64) {
	t.mu.Lock()
	for s := range t.slots {
		if s < slot {
			delete(t.slots, s)
		}
	}
	t.mu.Unlock()
}

func (t *slotTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

func (t *slotTracker) load(slot uint64) (*slotState, error) {
	p := t.bs.provider
	st := &slotState{
		data:    make(map[uint32]struct{}),
		coding:  make(map[uint32]struct{}),
		erasure: make(map[uint32]*types.ErasureMeta),
	}

	meta, err := t.bs.readSlotMeta(slot)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		st.meta = meta
		st.persisted = true
	} else {
		st.meta = types.NewSlotMeta(slot)
	}

	prefix := slotKey(slot)
	var decodeErr error
	err = db.IteratePrefix(p, db.FamilyShreds, prefix, func(k, _ []byte) bool {
		id, err := decodeShredKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		if id.Type == types.ShredTypeCoding {
			st.coding[id.Index] = struct{}{}
		} else {
			st.data[id.Index] = struct{}{}
		}
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("load slot shreds", err)
	}

	err = db.IteratePrefix(p, db.FamilyErasureMeta, prefix, func(_, v []byte) bool {
		var em types.ErasureMeta
		if err := jsonx.Unmarshal(v, &em); err != nil {
			decodeErr = err
			return false
		}
		st.erasure[em.FECSetIndex] = &em
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, ledgererr.StorageFailure("load erasure meta", err)
	}

	if st.dead, err = t.bs.readDeadSlot(slot); err != nil {
		return nil, err
	}
	return st, nil
}

func (bs *Blockstore) readSlotMeta(slot uint64) (*types.SlotMeta, error) {
	v, err := bs.provider.Get(db.FamilySlotMeta, slotKey(slot))
	if err != nil {
		return nil, ledgererr.StorageFailure("get slot meta", err)
	}
	if v == nil {
		return nil, nil
	}
	var meta types.SlotMeta
	if err := jsonx.Unmarshal(v, &meta); err != nil {
		return nil, ledgererr.StorageFailure("decode slot meta", err)
	}
	return &meta, nil
}

func (bs *Blockstore) readDeadSlot(slot uint64) (*types.DeadSlot, error) {
	v, err := bs.provider.Get(db.FamilyDeadSlots, slotKey(slot))
	if err != nil {
		return nil, ledgererr.StorageFailure("get dead slot", err)
	}
	if v == nil {
		return nil, nil
	}
	var dead types.DeadSlot
	if err := jsonx.Unmarshal(v, &dead); err != nil {
		return nil, ledgererr.StorageFailure("decode dead slot", err)
	}
	return &dead, nil
}

func putJSON(batch db.DatabaseBatch, cf db.Family, key []byte, v interface{}) error {
	value, err := jsonx.Marshal(v)
	if err != nil {
		return err
	}
	batch.Put(cf, key, value)
	return nil
}
