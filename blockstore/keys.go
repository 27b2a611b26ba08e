package blockstore

import (
	"encoding/binary"
	"fmt"

	"github.com/mezonai/mmn-ledger/types"
)

// Keys are big-endian so byte order equals numeric order: slot-major, then index.
const (
	slotKeyLen    = 8
	shredKeyLen   = 8 + 4 + 1
	indexKeyLen   = 8 + 4
	txStatusKeyLn = 64 + 8
)

// meta family keys
var (
	metaKeyLowestCleanupSlot = []byte("lowest_cleanup_slot")
	metaKeyHighestRoot       = []byte("highest_root")
)

func slotKey(slot uint64) []byte {
	k := make([]byte, slotKeyLen)
	binary.BigEndian.PutUint64(k, slot)
	return k
}

func decodeSlotKey(k []byte) (uint64, error) {
	if len(k) < slotKeyLen {
		return 0, fmt.Errorf("slot key too short: %d", len(k))
	}
	return binary.BigEndian.Uint64(k), nil
}

// shredKey: slot | index | type
func shredKey(slot uint64, index uint32, t types.ShredType) []byte {
	k := make([]byte, shredKeyLen)
	binary.BigEndian.PutUint64(k, slot)
	binary.BigEndian.PutUint32(k[8:], index)
	k[12] = byte(t)
	return k
}

func shredIDKey(id types.ShredID) []byte {
	return shredKey(id.Slot, id.Index, id.Type)
}

func decodeShredKey(k []byte) (types.ShredID, error) {
	if len(k) != shredKeyLen {
		return types.ShredID{}, fmt.Errorf("shred key has %d bytes", len(k))
	}
	return types.ShredID{
		Slot:  binary.BigEndian.Uint64(k),
		Index: binary.BigEndian.Uint32(k[8:]),
		Type:  types.ShredType(k[12]),
	}, nil
}

// indexKey: slot | u32, used by erasure_meta (fec set index) and entries (entry index)
func indexKey(slot uint64, index uint32) []byte {
	k := make([]byte, indexKeyLen)
	binary.BigEndian.PutUint64(k, slot)
	binary.BigEndian.PutUint32(k[8:], index)
	return k
}

func decodeIndexKey(k []byte) (uint64, uint32, error) {
	if len(k) != indexKeyLen {
		return 0, 0, fmt.Errorf("index key has %d bytes", len(k))
	}
	return binary.BigEndian.Uint64(k), binary.BigEndian.Uint32(k[8:]), nil
}

// txStatusKey: signature | slot. The slot suffix keeps statuses of the same transaction
// on different forks apart.
func txStatusKey(sig []byte, slot uint64) []byte {
	k := make([]byte, 0, len(sig)+8)
	k = append(k, sig...)
	return binary.BigEndian.AppendUint64(k, slot)
}

func encodeU64(v uint64) []byte {
	return slotKey(v)
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid u64 value length: %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
