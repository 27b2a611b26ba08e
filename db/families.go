package db

import "fmt"

// Family identifies a logical column family.
type Family byte

const (
	FamilyMeta Family = iota + 1
	FamilyShreds
	FamilySlotMeta
	FamilyErasureMeta
	FamilyEntries
	FamilyTxStatus
	FamilyRoots
	FamilyDeadSlots
	FamilyDuplicateSlots
)

var familyNames = map[Family]string{
	FamilyMeta:           "meta",
	FamilyShreds:         "shreds",
	FamilySlotMeta:       "slot_meta",
	FamilyErasureMeta:    "erasure_meta",
	FamilyEntries:        "entries",
	FamilyTxStatus:       "transaction_status",
	FamilyRoots:          "roots",
	FamilyDeadSlots:      "dead_slots",
	FamilyDuplicateSlots: "duplicate_slots",
}

// AllFamilies lists every family in declaration order.
func AllFamilies() []Family {
	return []Family{
		FamilyMeta,
		FamilyShreds,
		FamilySlotMeta,
		FamilyErasureMeta,
		FamilyEntries,
		FamilyTxStatus,
		FamilyRoots,
		FamilyDeadSlots,
		FamilyDuplicateSlots,
	}
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("family(%d)", byte(f))
}

// prefixed prepends the family byte for backends that emulate families.
func prefixed(cf Family, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(cf)
	copy(out[1:], key)
	return out
}

// familyBounds converts a per-family [start, end) into a global prefixed range.
func familyBounds(cf Family, start, end []byte) ([]byte, []byte) {
	lo := prefixed(cf, start)
	var hi []byte
	if end == nil {
		hi = []byte{byte(cf) + 1}
	} else {
		hi = prefixed(cf, end)
	}
	return lo, hi
}
