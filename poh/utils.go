package poh

import (
	"crypto/sha256"
)

func HashTransactions(txs [][]byte) [32]byte {
	hasher := sha256.New()
	for _, tx := range txs {
		hasher.Write(tx)
	}
	var result [32]byte
	hasher.Sum(result[:0])
	return result
}

// NextEntry produces the entry that follows prev.
func NextEntry(prev [32]byte, numHashes uint64, txs [][]byte) Entry {
	if numHashes == 0 {
		numHashes = 1
	}
	hash := NextHash(prev, numHashes, txs)
	if len(txs) == 0 {
		return NewTickEntry(numHashes, hash)
	}
	return NewTxEntry(numHashes, hash, txs)
}

func GenerateTickOnlyEntries(seed [32]byte, numEntries int, hashesPerTick uint64) []Entry {
	if numEntries <= 0 || hashesPerTick == 0 {
		return nil
	}

	entries := make([]Entry, 0, numEntries)
	cur := seed

	for i := 0; i < numEntries; i++ {
		e := NextEntry(cur, hashesPerTick, nil)
		cur = e.Hash
		entries = append(entries, e)
	}

	return entries
}
