package types

import (
	"github.com/mr-tron/base58"
)

const (
	TxStatusPending = 0
	TxStatusSuccess = 1
	TxStatusFailed  = 2
)

// TransactionStatus is the outcome of one transaction, keyed by its signature. Assembly
// writes a pending placeholder; replay overwrites it with the execution result.
type TransactionStatus struct {
	Signature     string           `json:"signature"`
	Slot          uint64           `json:"slot"`
	EntryIndex    uint32           `json:"entry_index"`
	Status        int32            `json:"status"`
	ErrorCode     uint32           `json:"error_code,omitempty"`
	Error         string           `json:"error,omitempty"`
	Logs          []string         `json:"logs,omitempty"`
	ComputeUnits  uint64           `json:"compute_units,omitempty"`
	BalanceDeltas map[string]int64 `json:"balance_deltas,omitempty"`
}

func NewPendingTxStatus(sig []byte, slot uint64, entryIndex uint32) *TransactionStatus {
	return &TransactionStatus{
		Signature:  base58.Encode(sig),
		Slot:       slot,
		EntryIndex: entryIndex,
		Status:     TxStatusPending,
	}
}

func (s *TransactionStatus) IsPending() bool {
	return s.Status == TxStatusPending
}

// DecodeSignature returns the raw signature bytes used as the storage key.
func (s *TransactionStatus) DecodeSignature() ([]byte, error) {
	return base58.Decode(s.Signature)
}
