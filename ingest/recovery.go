package ingest

import (
	"context"
	"fmt"

	"github.com/mezonai/mmn-ledger/blockstore"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/events"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/types"
)

// recoverSet rebuilds missing data shreds of one erasure set once it holds NumData shreds,
// and asks for repair when it does not. Every recovery failure is added to the report. A
// CorruptShred means the stored shreds of the set can never agree, so the slot is marked
// dead; other failures leave the set waiting for more shreds.
func (in *Ingester) recoverSet(ctx context.Context, id types.ErasureSetID, report *Report) error {
	unlock := in.setLocks.Lock(id)
	defer unlock()

	shreds, em, err := in.store.ErasureSetShreds(id)
	if err != nil {
		if ledgererr.CodeOf(err) == ledgererr.ErrCodeSlotPurged {
			return nil
		}
		return err
	}
	if em == nil {
		// no coding shred yet, so the set geometry is unknown
		return nil
	}

	numData, numCoding := 0, 0
	present := make(map[uint32]struct{}, len(shreds))
	for i := range shreds {
		if shreds[i].IsData() {
			numData++
			present[shreds[i].Index()] = struct{}{}
		} else {
			numCoding++
		}
	}

	switch em.Status(numData, numCoding) {
	case types.ErasureDataFull:
		return nil
	case types.ErasureStillNeed:
		in.requestRepair(ctx, em, present)
		return nil
	}

	recovered, err := in.engine.Recover(shreds, em, in.verifier.VerifyShred)
	if err != nil {
		code := ledgererr.CodeOf(err)
		monitoring.RecordRecoveryFailure(string(code))
		in.router.PublishEvent(events.NewRecoveryFailed(id, err))
		logx.Warn("RECOVERY", fmt.Sprintf("erasure set %s recovery failed: %v", id, err))
		if code == ledgererr.ErrCodeStorageFailure {
			return err
		}
		report.RecoveryErrors = append(report.RecoveryErrors, err)
		if code == ledgererr.ErrCodeCorruptShred {
			return in.markDead(id.Slot, code, err, report)
		}
		return nil
	}
	if len(recovered) == 0 {
		return nil
	}

	res, err := in.store.InsertShreds(ctx, recovered)
	if res != nil {
		var stored []uint32
		for _, r := range res.Shreds {
			if r.Status == blockstore.ShredInserted {
				report.Recovered = append(report.Recovered, r.ID)
				stored = append(stored, r.ID.Index)
				monitoring.RecordInsertedShred(r.ID.Type.String())
			} else if r.Status == blockstore.ShredRejected {
				monitoring.RecordRejectedShred(rejectReason(r.Err))
			}
		}
		if len(stored) > 0 {
			monitoring.AddRecoveredShreds(len(stored))
			in.router.PublishEvent(events.NewShredsRecovered(id, stored))
			logx.Info("RECOVERY", fmt.Sprintf("erasure set %s recovered %d data shreds", id, len(stored)))
		}
		in.publish(res)
		report.merge(res)
	}
	return err
}

// markDead quarantines slot after an unrecoverable erasure set. A slot already dead, rooted
// or purged is left as it is.
func (in *Ingester) markDead(slot uint64, code ledgererr.LedgerErrorCode, cause error, report *Report) error {
	dead, created, err := in.store.MarkDead(slot, code, cause.Error())
	if err != nil {
		if ledgererr.IsFatal(err) {
			return err
		}
		logx.Warn("RECOVERY", fmt.Sprintf("slot=%d not marked dead: %v", slot, err))
		return nil
	}
	if !created {
		return nil
	}
	report.DeadSlots = append(report.DeadSlots, *dead)
	monitoring.IncreaseSlotsDead()
	in.router.PublishEvent(events.NewSlotDead(*dead))
	return nil
}

func (in *Ingester) requestRepair(ctx context.Context, em *types.ErasureMeta, present map[uint32]struct{}) {
	if in.repair == nil {
		return
	}
	lo, hi := em.DataIndexRange()
	missing := make([]uint32, 0, hi-lo)
	for i := lo; i < hi; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return
	}
	if err := in.repair.RequestRepair(ctx, em.ID(), missing); err != nil {
		logx.Warn("REPAIR", fmt.Sprintf("repair request for %s failed: %v", em.ID(), err))
	}
}
