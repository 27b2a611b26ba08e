package poh

import (
	"crypto/sha256"
	"fmt"

	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
)

// NextHash advances prev by one entry: NumHashes-1 plain hashes, then either a final tick
// hash or a hash mixed with the transactions.
func NextHash(prev [32]byte, numHashes uint64, txs [][]byte) [32]byte {
	cur := prev
	for n := uint64(1); n < numHashes; n++ {
		cur = sha256.Sum256(cur[:])
	}

	if len(txs) == 0 {
		return sha256.Sum256(cur[:])
	}
	mixin := HashTransactions(txs)
	return sha256.Sum256(append(cur[:], mixin[:]...))
}

// VerifyLink checks that e follows an entry whose hash is prev.
func VerifyLink(prev [32]byte, e Entry) bool {
	if e.NumHashes == 0 || e.NumHashes > MaxNumHashes {
		return false
	}
	return NextHash(prev, e.NumHashes, e.Transactions) == e.Hash
}

// VerifyEntries checks the hash chain inside one slot. Entry 0 anchors the chain.
func VerifyEntries(entries []Entry, slot uint64) error {
	if len(entries) == 0 {
		return nil
	}
	logx.Debug("POH", fmt.Sprintf("VerifyEntries: verifying %d entries in slot=%d", len(entries), slot))

	for i := 1; i < len(entries); i++ {
		if !VerifyLink(entries[i-1].Hash, entries[i]) {
			return ledgererr.NewError(ledgererr.ErrCodeChainBreak, slot,
				"PoH mismatch: entry=%d slot=%d hash=%x", i, slot, entries[i].Hash)
		}
	}

	return nil
}
