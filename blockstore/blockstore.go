package blockstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mezonai/mmn-ledger/db"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/mezonai/mmn-ledger/utils"
)

// EntryVerifier checks the hash chain of a full slot. It returns a ChainBreak LedgerError on
// mismatch; any other error aborts assembly without marking the slot dead.
type EntryVerifier func(ctx context.Context, slot uint64, entries []poh.Entry) error

func sequentialEntryVerifier(_ context.Context, slot uint64, entries []poh.Entry) error {
	return poh.VerifyEntries(entries, slot)
}

type Options struct {
	// Limits bounds shreds accepted by InsertShreds.
	Limits types.ShredLimits
	// VerifyEntries replaces the sequential hash-chain check used on Full.
	VerifyEntries EntryVerifier
}

// Blockstore is the durable, column-family organized shred store. Per-slot state changes
// are serialized by a per-slot lock; different slots proceed in parallel. Readers take the
// slot lock shared, so a purge is never observed half done.
type Blockstore struct {
	provider db.DatabaseProvider
	opts     Options

	slotLocks *utils.KeyedRWMutex[uint64]
	tracker   *slotTracker

	lowestCleanupSlot atomic.Uint64
	highestRoot       atomic.Uint64
	hasRoot           atomic.Bool
	rootMu            sync.Mutex
	cleanupMu         sync.Mutex
	// held shared by every slot commit, exclusively while the retention bound rises
	boundMu sync.RWMutex

	closeOnce sync.Once
}

// Open creates the provider described by cfg and wraps it.
func Open(cfg *db.StoreConfig, opts Options) (*Blockstore, error) {
	provider, err := db.CreateProvider(cfg)
	if err != nil {
		return nil, ledgererr.StorageFailure("open provider", err)
	}
	bs, err := New(provider, opts)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return bs, nil
}

// New wraps an existing provider. The blockstore owns it from here on.
func New(provider db.DatabaseProvider, opts Options) (*Blockstore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if opts.Limits.MaxDataPayload <= 0 {
		return nil, fmt.Errorf("shred limits must set a max data payload")
	}
	if opts.VerifyEntries == nil {
		opts.VerifyEntries = sequentialEntryVerifier
	}

	bs := &Blockstore{
		provider:  provider,
		opts:      opts,
		slotLocks: utils.NewKeyedRWMutex[uint64](),
	}
	bs.tracker = newSlotTracker(bs)

	if err := bs.loadMeta(); err != nil {
		return nil, err
	}

	logx.Info("BLOCKSTORE", fmt.Sprintf("Opened blockstore lowest_cleanup_slot=%d highest_root=%d",
		bs.lowestCleanupSlot.Load(), bs.highestRoot.Load()))
	return bs, nil
}

func (bs *Blockstore) loadMeta() error {
	v, err := bs.provider.Get(db.FamilyMeta, metaKeyLowestCleanupSlot)
	if err != nil {
		return ledgererr.StorageFailure("load lowest cleanup slot", err)
	}
	if v != nil {
		slot, err := decodeU64(v)
		if err != nil {
			return ledgererr.StorageFailure("load lowest cleanup slot", err)
		}
		bs.lowestCleanupSlot.Store(slot)
	}

	v, err = bs.provider.Get(db.FamilyMeta, metaKeyHighestRoot)
	if err != nil {
		return ledgererr.StorageFailure("load highest root", err)
	}
	if v != nil {
		slot, err := decodeU64(v)
		if err != nil {
			return ledgererr.StorageFailure("load highest root", err)
		}
		bs.highestRoot.Store(slot)
		bs.hasRoot.Store(true)
	}
	return nil
}

func (bs *Blockstore) Limits() types.ShredLimits { return bs.opts.Limits }

// Close closes the underlying database provider
func (bs *Blockstore) Close() error {
	var err error
	bs.closeOnce.Do(func() {
		err = bs.provider.Close()
		if err != nil {
			logx.Error("BLOCKSTORE", "Failed to close provider: ", err)
		}
	})
	return err
}

// Put stores one value.
func (bs *Blockstore) Put(cf db.Family, key, value []byte) error {
	return ledgererr.StorageFailure("put "+cf.String(), bs.provider.Put(cf, key, value))
}

// Get returns the value or nil when absent.
func (bs *Blockstore) Get(cf db.Family, key []byte) ([]byte, error) {
	v, err := bs.provider.Get(cf, key)
	if err != nil {
		return nil, ledgererr.StorageFailure("get "+cf.String(), err)
	}
	return v, nil
}

// Delete removes one key.
func (bs *Blockstore) Delete(cf db.Family, key []byte) error {
	return ledgererr.StorageFailure("delete "+cf.String(), bs.provider.Delete(cf, key))
}

// RangeScan walks [start, end) of a family in ascending key order; fn returns false to stop.
func (bs *Blockstore) RangeScan(cf db.Family, start, end []byte, fn func(key, value []byte) bool) error {
	return ledgererr.StorageFailure("scan "+cf.String(), bs.provider.IterateRange(cf, start, end, fn))
}

// WriteOp is one operation of an atomic batch.
type WriteOp struct {
	Family db.Family
	Key    []byte
	Value  []byte
	Delete bool
}

// WriteBatch applies ops all or nothing.
func (bs *Blockstore) WriteBatch(ops []WriteOp) error {
	batch := bs.provider.Batch()
	defer batch.Close()
	for _, op := range ops {
		if op.Delete {
			batch.Delete(op.Family, op.Key)
		} else {
			batch.Put(op.Family, op.Key, op.Value)
		}
	}
	return ledgererr.StorageFailure("write batch", batch.Write())
}

// LowestCleanupSlot is the retention bound: slots below it are gone and their shreds rejected.
func (bs *Blockstore) LowestCleanupSlot() uint64 {
	return bs.lowestCleanupSlot.Load()
}

// HighestRoot returns the largest rooted slot, false if nothing was rooted yet.
func (bs *Blockstore) HighestRoot() (uint64, bool) {
	return bs.highestRoot.Load(), bs.hasRoot.Load()
}

// holdBound keeps the retention bound from rising until the returned func is called.
// Take it before any slot lock.
func (bs *Blockstore) holdBound() func() {
	bs.boundMu.RLock()
	return bs.boundMu.RUnlock
}

func (bs *Blockstore) lockSlot(slot uint64) func() {
	return bs.slotLocks.Lock(slot)
}

func (bs *Blockstore) rlockSlot(slot uint64) func() {
	return bs.slotLocks.RLock(slot)
}
