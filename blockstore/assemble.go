package blockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
)

// assemble turns the data shreds of a slot that just became Full into entries and writes
// them, plus pending transaction statuses, into the slot's batch. Integrity failures return
// a DeadSlot record instead of an error.
func (bs *Blockstore) assemble(ctx context.Context, w *slotWrite) (*types.DeadSlot, error) {
	start := time.Now()
	defer func() {
		monitoring.RecordSlotAssembleTime(time.Since(start))
	}()

	payloads, err := bs.slotPayloads(w)
	if err != nil {
		return nil, err
	}

	entries, err := decodeBatches(payloads, w.meta.CompletedDataIndexes)
	if err != nil {
		return newDeadSlot(w.slot, ledgererr.ErrCodeCorruptShred, err.Error()), nil
	}

	if err := bs.opts.VerifyEntries(ctx, w.slot, entries); err != nil {
		if ledgererr.CodeOf(err) == ledgererr.ErrCodeChainBreak {
			return newDeadSlot(w.slot, ledgererr.ErrCodeChainBreak, err.Error()), nil
		}
		return nil, err
	}

	for i, e := range entries {
		w.batch.Put(db.FamilyEntries, indexKey(w.slot, uint32(i)), e.Encode())
		for _, tx := range e.Transactions {
			sig, ok := poh.TxSignature(tx)
			if !ok {
				continue
			}
			status := types.NewPendingTxStatus(sig, w.slot, uint32(i))
			if err := putJSON(w.batch, db.FamilyTxStatus, txStatusKey(sig, w.slot), status); err != nil {
				return nil, ledgererr.StorageFailure("encode transaction status", err)
			}
		}
	}
	return nil, nil
}

// slotPayloads returns the payload of every data shred in [0, LastIndex].
func (bs *Blockstore) slotPayloads(w *slotWrite) ([][]byte, error) {
	last := uint32(*w.meta.LastIndex)
	raws := make([][]byte, last+1)

	var missing [][]byte
	for i := uint32(0); i <= last; i++ {
		if b, ok := w.data[i]; ok {
			raws[i] = b
			continue
		}
		missing = append(missing, shredKey(w.slot, i, types.ShredTypeData))
	}
	if len(missing) > 0 {
		stored, err := bs.provider.GetBatch(db.FamilyShreds, missing)
		if err != nil {
			return nil, ledgererr.StorageFailure("read slot shreds", err)
		}
		for _, k := range missing {
			id, _ := decodeShredKey(k)
			b, ok := stored[string(k)]
			if !ok {
				return nil, ledgererr.StorageFailure("read slot shreds",
					fmt.Errorf("data shred %s missing from a full slot", id))
			}
			raws[id.Index] = b
		}
	}

	payloads := make([][]byte, len(raws))
	for i, raw := range raws {
		s, err := types.DecodeShred(raw)
		if err != nil {
			return nil, ledgererr.StorageFailure("decode stored shred", err)
		}
		payloads[i] = s.Payload
	}
	return payloads, nil
}

// decodeBatches splits payloads at the completed-data indexes and decodes each batch.
func decodeBatches(payloads [][]byte, completed []uint32) ([]poh.Entry, error) {
	var entries []poh.Entry
	start := 0
	for _, end := range completed {
		if int(end) < start || int(end) >= len(payloads) {
			return nil, fmt.Errorf("completed data index %d outside [%d, %d)", end, start, len(payloads))
		}
		var buf []byte
		for i := start; i <= int(end); i++ {
			buf = append(buf, payloads[i]...)
		}
		batch, err := poh.DecodeEntries(buf)
		if err != nil {
			return nil, fmt.Errorf("entry batch ending at shred %d: %w", end, err)
		}
		entries = append(entries, batch...)
		if len(entries) > poh.MaxEntriesPerSlot {
			return nil, fmt.Errorf("more than %d entries", poh.MaxEntriesPerSlot)
		}
		start = int(end) + 1
	}
	if start != len(payloads) {
		return nil, fmt.Errorf("data shreds %d..%d are not closed by a batch boundary", start, len(payloads)-1)
	}
	return entries, nil
}

func newDeadSlot(slot uint64, code ledgererr.LedgerErrorCode, detail string) *types.DeadSlot {
	return &types.DeadSlot{
		Slot:      slot,
		Reason:    string(code),
		Detail:    detail,
		Timestamp: time.Now().UnixMilli(),
	}
}
