package types

import (
	"sort"
)

// SlotState is the lifecycle of a slot inside the blockstore.
//
//	Empty -> Receiving -> Full -> (Rooted | Purged)
//	Receiving -> Purged
type SlotState uint8

const (
	SlotEmpty SlotState = iota
	SlotReceiving
	SlotFull
	SlotRooted
	SlotPurged
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotReceiving:
		return "receiving"
	case SlotFull:
		return "full"
	case SlotRooted:
		return "rooted"
	case SlotPurged:
		return "purged"
	default:
		return "unknown"
	}
}

// Terminal states never transition again.
func (s SlotState) Terminal() bool {
	return s == SlotRooted || s == SlotPurged
}

// SlotMeta is the persisted completeness record of one slot.
type SlotMeta struct {
	Slot uint64 `json:"slot"`
	// Consumed is the first data index not yet present: [0, Consumed) is contiguous.
	Consumed uint64 `json:"consumed"`
	// Received is one past the highest data index seen.
	Received uint64 `json:"received"`
	// ShredsReceived counts distinct stored shreds of both types.
	ShredsReceived      uint64 `json:"shreds_received"`
	FirstShredTimestamp int64  `json:"first_shred_timestamp"`
	// LastIndex is known once the shred flagged last-in-slot arrives.
	LastIndex *uint64 `json:"last_index,omitempty"`
	// ParentSlot is known once any data shred arrives.
	ParentSlot           *uint64   `json:"parent_slot,omitempty"`
	NextSlots            []uint64  `json:"next_slots"`
	IsConnected          bool      `json:"is_connected"`
	CompletedDataIndexes []uint32  `json:"completed_data_indexes"`
	State                SlotState `json:"state"`
}

func NewSlotMeta(slot uint64) *SlotMeta {
	return &SlotMeta{
		Slot:      slot,
		NextSlots: []uint64{},
		State:     SlotEmpty,
	}
}

// IsFull holds iff every data index in [0, LastIndex] has been stored.
func (m *SlotMeta) IsFull() bool {
	return m.LastIndex != nil && m.Consumed == *m.LastIndex+1
}

// IsOrphan reports a slot whose parent is not yet known.
func (m *SlotMeta) IsOrphan() bool {
	return m.ParentSlot == nil
}

func (m *SlotMeta) Parent() (uint64, bool) {
	if m.ParentSlot == nil {
		return 0, false
	}
	return *m.ParentSlot, true
}

func (m *SlotMeta) SetParent(parent uint64) {
	p := parent
	m.ParentSlot = &p
}

func (m *SlotMeta) SetLastIndex(last uint64) {
	l := last
	m.LastIndex = &l
}

// AddChild records a child slot, keeping NextSlots sorted and unique. It reports whether
// the list changed.
func (m *SlotMeta) AddChild(child uint64) bool {
	i := sort.Search(len(m.NextSlots), func(i int) bool { return m.NextSlots[i] >= child })
	if i < len(m.NextSlots) && m.NextSlots[i] == child {
		return false
	}
	m.NextSlots = append(m.NextSlots, 0)
	copy(m.NextSlots[i+1:], m.NextSlots[i:])
	m.NextSlots[i] = child
	return true
}

// RemoveChild drops a purged child from NextSlots.
func (m *SlotMeta) RemoveChild(child uint64) bool {
	for i, s := range m.NextSlots {
		if s == child {
			m.NextSlots = append(m.NextSlots[:i], m.NextSlots[i+1:]...)
			return true
		}
	}
	return false
}

// AddCompletedDataIndex records the end of an entry batch.
func (m *SlotMeta) AddCompletedDataIndex(index uint32) {
	i := sort.Search(len(m.CompletedDataIndexes), func(i int) bool { return m.CompletedDataIndexes[i] >= index })
	if i < len(m.CompletedDataIndexes) && m.CompletedDataIndexes[i] == index {
		return
	}
	m.CompletedDataIndexes = append(m.CompletedDataIndexes, 0)
	copy(m.CompletedDataIndexes[i+1:], m.CompletedDataIndexes[i:])
	m.CompletedDataIndexes[i] = index
}

func (m *SlotMeta) Clone() *SlotMeta {
	c := *m
	if m.LastIndex != nil {
		c.SetLastIndex(*m.LastIndex)
	}
	if m.ParentSlot != nil {
		c.SetParent(*m.ParentSlot)
	}
	c.NextSlots = append([]uint64{}, m.NextSlots...)
	c.CompletedDataIndexes = append([]uint32(nil), m.CompletedDataIndexes...)
	return &c
}
