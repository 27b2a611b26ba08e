package events

import (
	"time"

	"github.com/mezonai/mmn-ledger/types"
)

// EventType is an enum-like string type for ledger events
type EventType string

const (
	EventSlotFull        EventType = "SlotFull"
	EventSlotDead        EventType = "SlotDead"
	EventShredConflict   EventType = "ShredConflict"
	EventSlotRooted      EventType = "SlotRooted"
	EventSlotPurged      EventType = "SlotPurged"
	EventShredsRecovered EventType = "ShredsRecovered"
	EventRecoveryFailed  EventType = "RecoveryFailed"
)

// LedgerEvent represents any slot lifecycle change of the blockstore
type LedgerEvent interface {
	Type() EventType
	Timestamp() time.Time
	Slot() uint64
}

type slotEvent struct {
	slot      uint64
	timestamp time.Time
}

func newSlotEvent(slot uint64) slotEvent {
	return slotEvent{slot: slot, timestamp: time.Now()}
}

func (e slotEvent) Slot() uint64 {
	return e.slot
}

func (e slotEvent) Timestamp() time.Time {
	return e.timestamp
}

// SlotFull is published once a slot has every data shred and its entries are stored
type SlotFull struct {
	slotEvent
	lastIndex uint64
}

func NewSlotFull(slot, lastIndex uint64) *SlotFull {
	return &SlotFull{slotEvent: newSlotEvent(slot), lastIndex: lastIndex}
}

func (e *SlotFull) Type() EventType {
	return EventSlotFull
}

func (e *SlotFull) LastIndex() uint64 {
	return e.lastIndex
}

// SlotDead is published when a slot is quarantined and will never be assembled
type SlotDead struct {
	slotEvent
	reason string
	detail string
}

func NewSlotDead(dead types.DeadSlot) *SlotDead {
	return &SlotDead{slotEvent: newSlotEvent(dead.Slot), reason: dead.Reason, detail: dead.Detail}
}

func (e *SlotDead) Type() EventType {
	return EventSlotDead
}

func (e *SlotDead) Reason() string {
	return e.reason
}

func (e *SlotDead) Detail() string {
	return e.detail
}

// ShredConflict carries the evidence that a leader signed two different shreds for one identity
type ShredConflict struct {
	slotEvent
	proof types.DuplicateProof
}

func NewShredConflict(proof types.DuplicateProof) *ShredConflict {
	return &ShredConflict{slotEvent: newSlotEvent(proof.Slot), proof: proof}
}

func (e *ShredConflict) Type() EventType {
	return EventShredConflict
}

func (e *ShredConflict) Proof() types.DuplicateProof {
	return e.proof
}

type SlotRooted struct {
	slotEvent
}

func NewSlotRooted(slot uint64) *SlotRooted {
	return &SlotRooted{slotEvent: newSlotEvent(slot)}
}

func (e *SlotRooted) Type() EventType {
	return EventSlotRooted
}

// SlotPurged is published for explicit purges and for every retention cleanup run,
// where Slot is the new lower bound and Count the number of slots removed
type SlotPurged struct {
	slotEvent
	count int
	below bool
}

func NewSlotPurged(slot uint64) *SlotPurged {
	return &SlotPurged{slotEvent: newSlotEvent(slot), count: 1}
}

func NewSlotsPurgedBelow(bound uint64, count int) *SlotPurged {
	return &SlotPurged{slotEvent: newSlotEvent(bound), count: count, below: true}
}

func (e *SlotPurged) Type() EventType {
	return EventSlotPurged
}

func (e *SlotPurged) Count() int {
	return e.count
}

// Below reports a retention cleanup rather than a single-slot purge.
func (e *SlotPurged) Below() bool {
	return e.below
}

// ShredsRecovered is published after erasure recovery restored missing data shreds of a set
type ShredsRecovered struct {
	slotEvent
	set     types.ErasureSetID
	indexes []uint32
}

func NewShredsRecovered(set types.ErasureSetID, indexes []uint32) *ShredsRecovered {
	return &ShredsRecovered{slotEvent: newSlotEvent(set.Slot), set: set, indexes: indexes}
}

func (e *ShredsRecovered) Type() EventType {
	return EventShredsRecovered
}

func (e *ShredsRecovered) ErasureSet() types.ErasureSetID {
	return e.set
}

func (e *ShredsRecovered) Indexes() []uint32 {
	return e.indexes
}

// RecoveryFailed is published when a set had enough shreds but reconstruction did not verify
type RecoveryFailed struct {
	slotEvent
	set types.ErasureSetID
	err error
}

func NewRecoveryFailed(set types.ErasureSetID, err error) *RecoveryFailed {
	return &RecoveryFailed{slotEvent: newSlotEvent(set.Slot), set: set, err: err}
}

func (e *RecoveryFailed) Type() EventType {
	return EventRecoveryFailed
}

func (e *RecoveryFailed) ErasureSet() types.ErasureSetID {
	return e.set
}

func (e *RecoveryFailed) Err() error {
	return e.err
}
