package types

import "time"

// RawShred is what the network collaborator pushes: bytes plus receipt metadata.
// Peer and ReceivedAt belong to the network layer's retransmit/backpressure policy and are
// only logged here.
type RawShred struct {
	Bytes      []byte
	Peer       string
	ReceivedAt time.Time
}

// DeadSlot quarantines a slot that can never be assembled.
type DeadSlot struct {
	Slot      uint64 `json:"slot"`
	Reason    string `json:"reason"` // ledger error code
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}

// DuplicateProof is the evidence kept for a ShredConflict: two different shreds with the
// same identity, both signed for the slot.
type DuplicateProof struct {
	Slot     uint64    `json:"slot"`
	Index    uint32    `json:"index"`
	Type     ShredType `json:"type"`
	Existing []byte    `json:"existing"`
	Incoming []byte    `json:"incoming"`
}
