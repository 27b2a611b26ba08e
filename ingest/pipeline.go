package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/mezonai/mmn-ledger/blockstore"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/types"
)

// Result is the outcome for one submitted raw shred. ID is zero when the bytes did not decode.
type Result struct {
	ID     types.ShredID
	Peer   string
	Status blockstore.ShredStatus
	Err    error
}

// Report summarises one Ingest call, including the effects of recovery it triggered.
type Report struct {
	// Results is aligned with the input.
	Results []Result
	// Recovered lists data shreds rebuilt from erasure sets and stored.
	Recovered []types.ShredID
	FullSlots []uint64
	DeadSlots []types.DeadSlot
	Conflicts []types.DuplicateProof
	// RecoveryErrors holds the erasure recovery failures, one per failed set.
	RecoveryErrors []error
}

func (r *Report) Inserted() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == blockstore.ShredInserted {
			n++
		}
	}
	return n
}

func (r *Report) merge(res *blockstore.InsertResult) {
	r.FullSlots = append(r.FullSlots, res.FullSlots...)
	r.DeadSlots = append(r.DeadSlots, res.DeadSlots...)
	r.Conflicts = append(r.Conflicts, res.Conflicts...)
}

// Ingest runs raw shreds through decode, sanitize, signature verification, storage and
// erasure recovery. Per-shred problems are reported in the Report; the returned error is
// reserved for cancellation and storage failures.
func (in *Ingester) Ingest(ctx context.Context, raws []types.RawShred) (*Report, error) {
	report := &Report{Results: make([]Result, len(raws))}
	if len(raws) == 0 {
		return report, nil
	}

	limits := in.store.Limits()
	lowest := in.store.LowestCleanupSlot()

	decoded := make([]types.Shred, 0, len(raws))
	pos := make([]int, 0, len(raws))
	for i, raw := range raws {
		report.Results[i].Peer = raw.Peer
		if len(raw.Bytes) > limits.MaxShredSize() {
			monitoring.RecordReceivedShred("unknown")
			in.reject(report, i, types.ShredID{}, monitoring.ShredMalformed,
				ledgererr.NewError(ledgererr.ErrCodeMalformedShred, 0, "shred of %d bytes exceeds %d", len(raw.Bytes), limits.MaxShredSize()))
			continue
		}
		s, err := types.DecodeShred(raw.Bytes)
		if err != nil {
			monitoring.RecordReceivedShred("unknown")
			in.reject(report, i, types.ShredID{}, monitoring.ShredMalformed,
				ledgererr.NewError(ledgererr.ErrCodeMalformedShred, 0, "%v", err))
			continue
		}
		monitoring.RecordReceivedShred(s.Common.Type.String())
		id := s.ID()
		if s.Slot() < lowest {
			in.reject(report, i, id, monitoring.ShredBelowRetention,
				ledgererr.NewShredError(ledgererr.ErrCodeMalformedShred, id.Slot, id.Index, "slot below retention bound %d", lowest))
			continue
		}
		if err := s.Sanitize(limits); err != nil {
			in.reject(report, i, id, monitoring.ShredMalformed,
				ledgererr.NewShredError(ledgererr.ErrCodeMalformedShred, id.Slot, id.Index, "%v", err))
			continue
		}
		decoded = append(decoded, s)
		pos = append(pos, i)
	}

	verdicts, err := in.verifier.VerifyBatch(ctx, decoded)
	if err != nil {
		in.failRemaining(report, pos, decoded, err)
		return report, err
	}

	recoverySets := make(map[types.ErasureSetID]struct{})
	verified := make([]types.Shred, 0, len(decoded))
	verifiedPos := make([]int, 0, len(decoded))
	for j, v := range verdicts {
		if !v.Valid {
			id := decoded[j].ID()
			in.reject(report, pos[j], id, monitoring.ShredInvalidSignature,
				ledgererr.NewShredError(ledgererr.ErrCodeInvalidSignature, id.Slot, id.Index, "signature does not verify for slot leader"))
			recoverySets[decoded[j].ErasureSetID()] = struct{}{}
			continue
		}
		verified = append(verified, decoded[j])
		verifiedPos = append(verifiedPos, pos[j])
	}

	res, err := in.store.InsertShreds(ctx, verified)
	if res != nil {
		for j, r := range res.Shreds {
			in.record(report, verifiedPos[j], r)
		}
		in.publish(res)
		report.merge(res)
		for _, id := range res.ErasureSets {
			recoverySets[id] = struct{}{}
		}
	}
	if err != nil {
		return report, err
	}

	sets := make([]types.ErasureSetID, 0, len(recoverySets))
	for id := range recoverySets {
		sets = append(sets, id)
	}
	sort.Slice(sets, func(i, j int) bool {
		if sets[i].Slot != sets[j].Slot {
			return sets[i].Slot < sets[j].Slot
		}
		return sets[i].FECSetIndex < sets[j].FECSetIndex
	})
	for _, id := range sets {
		if err := in.recoverSet(ctx, id, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (in *Ingester) reject(report *Report, i int, id types.ShredID, reason monitoring.ShredRejectedReason, err error) {
	monitoring.RecordRejectedShred(reason)
	report.Results[i].ID = id
	report.Results[i].Status = blockstore.ShredRejected
	report.Results[i].Err = err
}

func (in *Ingester) failRemaining(report *Report, pos []int, shreds []types.Shred, err error) {
	for j, i := range pos {
		report.Results[i].ID = shreds[j].ID()
		report.Results[i].Status = blockstore.ShredRejected
		report.Results[i].Err = err
	}
}

func (in *Ingester) record(report *Report, i int, r blockstore.ShredResult) {
	report.Results[i].ID = r.ID
	report.Results[i].Status = r.Status
	report.Results[i].Err = r.Err
	switch r.Status {
	case blockstore.ShredInserted:
		monitoring.RecordInsertedShred(r.ID.Type.String())
	case blockstore.ShredDuplicate:
		monitoring.IncreaseDuplicateShredCount()
	case blockstore.ShredRejected:
		monitoring.RecordRejectedShred(rejectReason(r.Err))
	}
}

func rejectReason(err error) monitoring.ShredRejectedReason {
	switch ledgererr.CodeOf(err) {
	case ledgererr.ErrCodeMalformedShred:
		return monitoring.ShredMalformed
	case ledgererr.ErrCodeInvalidSignature:
		return monitoring.ShredInvalidSignature
	case ledgererr.ErrCodeSlotDead:
		return monitoring.ShredSlotDead
	case ledgererr.ErrCodeSlotRooted:
		return monitoring.ShredSlotRooted
	case ledgererr.ErrCodeSlotPurged:
		return monitoring.ShredSlotPurged
	case ledgererr.ErrCodeShredConflict:
		return monitoring.ShredConflicting
	default:
		return monitoring.ShredRejectedUnknown
	}
}

// publish emits events and slot metrics for a committed insert.
func (in *Ingester) publish(res *blockstore.InsertResult) {
	dead := make(map[uint64]struct{}, len(res.DeadSlots))
	for _, d := range res.DeadSlots {
		dead[d.Slot] = struct{}{}
		monitoring.IncreaseSlotsDead()
	}
	for _, slot := range res.FullSlots {
		if _, ok := dead[slot]; !ok {
			monitoring.IncreaseSlotsFull()
			logx.Info("INGEST", fmt.Sprintf("slot=%d full", slot))
		}
	}
	in.router.PublishInsertResult(res, in.lastIndex)
}

func (in *Ingester) lastIndex(slot uint64) uint64 {
	meta, err := in.store.SlotMeta(slot)
	if err != nil || meta == nil || meta.LastIndex == nil {
		return 0
	}
	return *meta.LastIndex
}
