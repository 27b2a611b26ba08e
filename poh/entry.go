package poh

import (
	"encoding/binary"
	"fmt"
)

type Entry struct {
	NumHashes    uint64   `json:"num_hashes"`
	Hash         [32]byte `json:"hash"`
	Transactions [][]byte `json:"transactions"` // serialized txs
}

// Entry with no transactions (e.g. tick-only)
func NewTickEntry(numHashes uint64, hash [32]byte) Entry {
	return Entry{
		NumHashes:    numHashes,
		Hash:         hash,
		Transactions: nil,
	}
}

// Entry with txs
func NewTxEntry(numHashes uint64, hash [32]byte, txs [][]byte) Entry {
	return Entry{
		NumHashes:    numHashes,
		Hash:         hash,
		Transactions: txs,
	}
}

// Empty entry check
func (e Entry) IsTickOnly() bool {
	return len(e.Transactions) == 0
}

// TxSignature returns the signature prefix of a serialized transaction.
func TxSignature(tx []byte) ([]byte, bool) {
	if len(tx) < TxSignatureSize {
		return nil, false
	}
	return tx[:TxSignatureSize], true
}

// Encode layout: num_hashes u64 | hash [32] | tx_count u32 | (len u32 | tx)*
func (e Entry) Encode() []byte {
	size := 8 + 32 + 4
	for _, tx := range e.Transactions {
		size += 4 + len(tx)
	}
	buf := make([]byte, 0, size)

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], e.NumHashes)
	buf = append(buf, u64[:]...)
	buf = append(buf, e.Hash[:]...)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(e.Transactions)))
	buf = append(buf, u32[:]...)
	for _, tx := range e.Transactions {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(tx)))
		buf = append(buf, u32[:]...)
		buf = append(buf, tx...)
	}
	return buf
}

// DecodeEntry parses one entry and returns the number of bytes consumed.
func DecodeEntry(b []byte) (Entry, int, error) {
	if len(b) < 44 {
		return Entry{}, 0, fmt.Errorf("entry too short: %d bytes", len(b))
	}
	var e Entry
	off := 0
	e.NumHashes = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(e.Hash[:], b[off:off+32])
	off += 32
	n := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if n > MaxTransactionsPerEntry {
		return Entry{}, 0, fmt.Errorf("entry has %d transactions, max %d", n, MaxTransactionsPerEntry)
	}
	if n > 0 {
		e.Transactions = make([][]byte, 0, n)
	}
	for i := uint32(0); i < n; i++ {
		if len(b)-off < 4 {
			return Entry{}, 0, fmt.Errorf("truncated transaction length at tx %d", i)
		}
		l := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if l > MaxEntrySize || len(b)-off < l {
			return Entry{}, 0, fmt.Errorf("truncated transaction %d (%d bytes)", i, l)
		}
		tx := make([]byte, l)
		copy(tx, b[off:off+l])
		off += l
		e.Transactions = append(e.Transactions, tx)
	}
	return e, off, nil
}

// EncodeEntries packs a batch: count u32 | (len u32 | entry)*
func EncodeEntries(entries []Entry) []byte {
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(entries)))
	buf := append([]byte(nil), u32[:]...)
	for _, e := range entries {
		enc := e.Encode()
		binary.LittleEndian.PutUint32(u32[:], uint32(len(enc)))
		buf = append(buf, u32[:]...)
		buf = append(buf, enc...)
	}
	return buf
}

// DecodeEntries unpacks one batch; the whole buffer must be consumed.
func DecodeEntries(b []byte) ([]Entry, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("entry batch too short: %d bytes", len(b))
	}
	n := binary.LittleEndian.Uint32(b)
	if n > MaxEntriesPerSlot {
		return nil, fmt.Errorf("entry batch has %d entries, max %d", n, MaxEntriesPerSlot)
	}
	off := 4
	entries := make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b)-off < 4 {
			return nil, fmt.Errorf("truncated entry length at entry %d", i)
		}
		l := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if l > MaxEntrySize || len(b)-off < l {
			return nil, fmt.Errorf("truncated entry %d (%d bytes)", i, l)
		}
		e, used, err := DecodeEntry(b[off : off+l])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if used != l {
			return nil, fmt.Errorf("entry %d: %d trailing bytes", i, l-used)
		}
		off += l
		entries = append(entries, e)
	}
	if off != len(b) {
		return nil, fmt.Errorf("entry batch: %d trailing bytes", len(b)-off)
	}
	return entries, nil
}
