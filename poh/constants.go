package poh

const (
	// This prevents DoS attacks with extremely large NumHashes values
	MaxNumHashes = 1 << 20

	// This prevents memory exhaustion attacks by limiting entries per slot
	MaxEntriesPerSlot = 1 << 16

	// This prevents DoS attacks with extremely large transaction batches
	MaxTransactionsPerEntry = 6000

	// This prevents memory bombs with extremely large entries
	MaxEntrySize = 1024 * 1024

	// A transaction starts with its 64-byte signature
	TxSignatureSize = 64
)
