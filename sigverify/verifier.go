package sigverify

import (
	"context"
	"crypto/ed25519"
	"runtime"
	"time"

	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/types"
	"golang.org/x/sync/errgroup"
)

// LeaderLookup resolves the key expected to have signed a slot's shreds.
type LeaderLookup interface {
	SlotLeader(slot uint64) (ed25519.PublicKey, bool)
}

// Result is the verdict for one shred of a batch.
type Result struct {
	ID    types.ShredID
	Valid bool
}

// Verifier checks shred signatures over a bounded pool of goroutines. It holds no state
// between batches.
type Verifier struct {
	leaders LeaderLookup
	workers int
}

// NewVerifier builds a verifier; workers <= 0 uses one goroutine per CPU.
func NewVerifier(leaders LeaderLookup, workers int) *Verifier {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Verifier{leaders: leaders, workers: workers}
}

func (v *Verifier) Workers() int { return v.workers }

// VerifyShred checks one shred against its slot leader. Slots without a leader never verify.
func (v *Verifier) VerifyShred(s *types.Shred) bool {
	pub, ok := v.leaders.SlotLeader(s.Slot())
	if !ok {
		return false
	}
	return s.Verify(pub)
}

// VerifyBatch verifies every shred and returns results in input order, so the outcome does
// not depend on scheduling. The only error is ctx cancellation.
func (v *Verifier) VerifyBatch(ctx context.Context, shreds []types.Shred) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(shreds))
	if len(shreds) == 0 {
		return results, nil
	}

	// resolve each slot leader once per batch
	leaders := make(map[uint64]ed25519.PublicKey)
	for i := range shreds {
		slot := shreds[i].Slot()
		if _, seen := leaders[slot]; seen {
			continue
		}
		pub, _ := v.leaders.SlotLeader(slot)
		leaders[slot] = pub
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(v.workers)

	chunk := (len(shreds) + v.workers - 1) / v.workers
	for lo := 0; lo < len(shreds); lo += chunk {
		hi := lo + chunk
		if hi > len(shreds) {
			hi = len(shreds)
		}
		lo := lo
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				s := &shreds[i]
				pub := leaders[s.Slot()]
				results[i] = Result{ID: s.ID(), Valid: pub != nil && s.Verify(pub)}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	monitoring.RecordVerifyBatch(time.Since(start))
	return results, nil
}
