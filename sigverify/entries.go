package sigverify

import (
	"context"

	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/poh"
	"golang.org/x/sync/errgroup"
)

// minEntriesPerTask keeps tiny slots on one goroutine.
const minEntriesPerTask = 64

// VerifyEntries checks the hash chain of a slot's entries in parallel. Entry 0 is linked to
// nothing; every later entry must extend its predecessor. The first break by position is
// reported as ChainBreak with that position as index.
func (v *Verifier) VerifyEntries(ctx context.Context, slot uint64, entries []poh.Entry) error {
	if len(entries) < 2 {
		return nil
	}

	links := len(entries) - 1
	chunk := (links + v.workers - 1) / v.workers
	if chunk < minEntriesPerTask {
		chunk = minEntriesPerTask
	}

	// first broken position found by each task, -1 for none
	broken := make([]int, (links+chunk-1)/chunk)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(v.workers)
	for t := range broken {
		t := t
		broken[t] = -1
		eg.Go(func() error {
			lo := 1 + t*chunk
			hi := lo + chunk
			if hi > len(entries) {
				hi = len(entries)
			}
			for i := lo; i < hi; i++ {
				if i%minEntriesPerTask == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if !poh.VerifyLink(entries[i-1].Hash, entries[i]) {
					broken[t] = i
					return nil
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, pos := range broken {
		if pos >= 0 {
			return ledgererr.NewShredError(ledgererr.ErrCodeChainBreak, slot, uint32(pos),
				"entry %d does not extend entry %d", pos, pos-1)
		}
	}
	return nil
}
