package errors

import (
	"errors"
	"fmt"

	"github.com/mezonai/mmn-ledger/jsonx"
)

// LedgerErrorCode represents standardized error codes for blockstore and ingest operations
type LedgerErrorCode string

const (
	// Rejected before any state change
	ErrCodeMalformedShred   LedgerErrorCode = "malformed_shred"
	ErrCodeInvalidSignature LedgerErrorCode = "invalid_signature"

	// Integrity violations
	ErrCodeShredConflict LedgerErrorCode = "shred_conflict"
	ErrCodeCorruptShred  LedgerErrorCode = "corrupt_shred"
	ErrCodeChainBreak    LedgerErrorCode = "chain_break"

	// Recovery / availability
	ErrCodeInsufficientShreds LedgerErrorCode = "insufficient_shreds"
	ErrCodeSlotNotFull        LedgerErrorCode = "slot_not_full"
	ErrCodeSlotNotFound       LedgerErrorCode = "slot_not_found"
	ErrCodeSlotDead           LedgerErrorCode = "slot_dead"
	ErrCodeSlotRooted         LedgerErrorCode = "slot_rooted"
	ErrCodeSlotPurged         LedgerErrorCode = "slot_purged"

	// Persistence layer
	ErrCodeStorageFailure LedgerErrorCode = "storage_failure"
)

// Error message constants
const (
	ErrMsgMalformedShred     = "Shred is malformed"
	ErrMsgInvalidSignature   = "Shred signature does not verify"
	ErrMsgShredConflict      = "A different shred with the same identity is already stored"
	ErrMsgCorruptShred       = "Recovered shred failed verification"
	ErrMsgChainBreak         = "Entry hash chain is broken"
	ErrMsgInsufficientShreds = "Not enough shreds to recover the erasure set"
	ErrMsgSlotNotFull        = "Slot has not received all data shreds yet"
	ErrMsgSlotNotFound       = "Slot is unknown to the blockstore"
	ErrMsgSlotDead           = "Slot is marked unassemblable"
	ErrMsgSlotRooted         = "Slot is rooted and immutable"
	ErrMsgSlotPurged         = "Slot has been purged"
	ErrMsgStorageFailure     = "Blockstore storage failure"
)

// LedgerError carries a code plus the slot/index the failure refers to.
type LedgerError struct {
	Code    LedgerErrorCode `json:"code"`
	Message string          `json:"message"`
	Slot    uint64          `json:"slot,omitempty"`
	Index   uint32          `json:"index,omitempty"`
	Err     error           `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	out, _ := jsonx.Marshal(struct {
		Code    LedgerErrorCode `json:"code"`
		Message string          `json:"message"`
		Slot    uint64          `json:"slot,omitempty"`
		Index   uint32          `json:"index,omitempty"`
		Cause   string          `json:"cause,omitempty"`
	}{e.Code, e.Message, e.Slot, e.Index, causeString(e.Err)})
	return string(out)
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches any LedgerError carrying the same code, so sentinels work with errors.Is.
func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrMalformedShred     = &LedgerError{Code: ErrCodeMalformedShred, Message: ErrMsgMalformedShred}
	ErrInvalidSignature   = &LedgerError{Code: ErrCodeInvalidSignature, Message: ErrMsgInvalidSignature}
	ErrShredConflict      = &LedgerError{Code: ErrCodeShredConflict, Message: ErrMsgShredConflict}
	ErrCorruptShred       = &LedgerError{Code: ErrCodeCorruptShred, Message: ErrMsgCorruptShred}
	ErrChainBreak         = &LedgerError{Code: ErrCodeChainBreak, Message: ErrMsgChainBreak}
	ErrInsufficientShreds = &LedgerError{Code: ErrCodeInsufficientShreds, Message: ErrMsgInsufficientShreds}
	ErrSlotNotFull        = &LedgerError{Code: ErrCodeSlotNotFull, Message: ErrMsgSlotNotFull}
	ErrSlotNotFound       = &LedgerError{Code: ErrCodeSlotNotFound, Message: ErrMsgSlotNotFound}
	ErrSlotDead           = &LedgerError{Code: ErrCodeSlotDead, Message: ErrMsgSlotDead}
	ErrSlotRooted         = &LedgerError{Code: ErrCodeSlotRooted, Message: ErrMsgSlotRooted}
	ErrSlotPurged         = &LedgerError{Code: ErrCodeSlotPurged, Message: ErrMsgSlotPurged}
	ErrStorageFailure     = &LedgerError{Code: ErrCodeStorageFailure, Message: ErrMsgStorageFailure}
)

// NewError creates a new LedgerError for a slot
func NewError(code LedgerErrorCode, slot uint64, format string, args ...interface{}) error {
	return &LedgerError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Slot:    slot,
	}
}

// NewShredError creates a new LedgerError pointing at one shred index
func NewShredError(code LedgerErrorCode, slot uint64, index uint32, format string, args ...interface{}) error {
	return &LedgerError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Slot:    slot,
		Index:   index,
	}
}

// StorageFailure wraps a backend error. Callers must stop ingest for the affected data.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) && le.Code == ErrCodeStorageFailure {
		return err
	}
	return &LedgerError{
		Code:    ErrCodeStorageFailure,
		Message: op,
		Err:     err,
	}
}

// CodeOf returns the code of the first LedgerError in the chain, or "" if there is none.
func CodeOf(err error) LedgerErrorCode {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsRetryable reports "not yet available": the caller should wait for more shreds.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInsufficientShreds, ErrCodeSlotNotFull, ErrCodeSlotNotFound:
		return true
	}
	return false
}

// IsPermanent reports "permanently unavailable" for the slot in question.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case ErrCodeChainBreak, ErrCodeCorruptShred, ErrCodeSlotDead, ErrCodeSlotPurged:
		return true
	}
	return false
}

// IsFatal reports storage failures, which must propagate to the process boundary.
func IsFatal(err error) bool {
	return CodeOf(err) == ErrCodeStorageFailure
}
