package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mezonai/mmn-ledger/blockstore"
	"github.com/mezonai/mmn-ledger/config"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/events"
	"github.com/mezonai/mmn-ledger/exception"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/shredder"
	"github.com/mezonai/mmn-ledger/sigverify"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/mezonai/mmn-ledger/utils"
)

const maxWorkerBatch = 256

var (
	ErrQueueFull = errors.New("ingest queue is full")
	ErrStopped   = errors.New("ingester is stopped")
)

// RepairRequester asks peers for data shreds of an erasure set that cannot be recovered yet.
type RepairRequester interface {
	RequestRepair(ctx context.Context, set types.ErasureSetID, missing []uint32) error
}

// Ingester is the entry point of the ledger: it verifies raw shreds, stores them, runs
// erasure recovery and publishes slot lifecycle events.
type Ingester struct {
	store    *blockstore.Blockstore
	verifier *sigverify.Verifier
	engine   *shredder.Engine
	router   *events.EventRouter
	repair   RepairRequester

	// recovery of one erasure set is serialized; different sets run in parallel
	setLocks *utils.KeyedRWMutex[types.ErasureSetID]

	cfg    config.IngestConfig
	queue  chan types.RawShred
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	stopped  bool
	fatalErr error
	fatal    chan error
}

// NewIngester wires the pipeline. bus may be nil when nobody listens for events.
func NewIngester(store *blockstore.Blockstore, verifier *sigverify.Verifier, bus *events.EventBus, cfg config.IngestConfig) *Ingester {
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultIngestWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultIngestQueue
	}
	var router *events.EventRouter
	if bus != nil {
		router = events.NewEventRouter(bus)
	}
	return &Ingester{
		store:    store,
		verifier: verifier,
		engine:   shredder.NewEngine(store.Limits()),
		router:   router,
		setLocks: utils.NewKeyedRWMutex[types.ErasureSetID](),
		cfg:      cfg,
		queue:    make(chan types.RawShred, cfg.QueueSize),
		fatal:    make(chan error, 1),
	}
}

// SetRepairRequester installs the repair hook; must be called before Start.
func (in *Ingester) SetRepairRequester(r RepairRequester) {
	in.repair = r
}

func (in *Ingester) Store() *blockstore.Blockstore {
	return in.store
}

// Start applies the configured retention bound and launches the worker pool.
func (in *Ingester) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stopped {
		return ErrStopped
	}
	if in.started {
		return fmt.Errorf("ingester already started")
	}

	if in.cfg.LowestSlot > in.store.LowestCleanupSlot() {
		if _, err := in.PurgeSlotsBelow(in.cfg.LowestSlot); err != nil {
			return err
		}
	}

	in.ctx, in.cancel = context.WithCancel(ctx)
	for i := 0; i < in.cfg.Workers; i++ {
		name := fmt.Sprintf("ingest-worker-%d", i)
		exception.SafeGoWG(&in.wg, name, in.worker)
	}
	in.started = true
	logx.Info("INGEST", fmt.Sprintf("Started %d ingest workers, queue=%d", in.cfg.Workers, in.cfg.QueueSize))
	return nil
}

// Stop closes the queue, waits for workers to drain what was already accepted, then
// cancels in-flight work that is still blocked.
func (in *Ingester) Stop() {
	in.mu.Lock()
	if in.stopped {
		in.mu.Unlock()
		return
	}
	in.stopped = true
	close(in.queue)
	started := in.started
	in.mu.Unlock()

	if started {
		in.wg.Wait()
		in.cancel()
	}
	logx.Info("INGEST", "Ingester stopped")
}

// Submit queues one raw shred without blocking. A full queue is reported to the caller,
// which owns the backpressure policy. After a storage failure halted the workers every
// call returns that failure.
func (in *Ingester) Submit(raw types.RawShred) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.stopped {
		return ErrStopped
	}
	if in.fatalErr != nil {
		return in.fatalErr
	}
	select {
	case in.queue <- raw:
		monitoring.SetIngestQueueSize(len(in.queue))
		return nil
	default:
		monitoring.RecordRejectedShred(monitoring.ShredRejectedUnknown)
		return ErrQueueFull
	}
}

// Err returns the storage failure that halted the workers, nil while they are healthy.
func (in *Ingester) Err() error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.fatalErr
}

// Fatal delivers the storage failure that halted the workers. It fires at most once.
func (in *Ingester) Fatal() <-chan error {
	return in.fatal
}

// fail records the first fatal error, refuses further submissions and cancels in-flight work.
func (in *Ingester) fail(err error) {
	in.mu.Lock()
	if in.fatalErr != nil {
		in.mu.Unlock()
		return
	}
	in.fatalErr = err
	in.mu.Unlock()

	in.cancel()
	in.fatal <- err
	logx.Error("INGEST", fmt.Sprintf("Ingest halted by storage failure: %v", err))
}

// QueueLen is the number of submitted shreds not yet picked up by a worker.
func (in *Ingester) QueueLen() int {
	return len(in.queue)
}

func (in *Ingester) worker() {
	for {
		raw, ok := <-in.queue
		if !ok || in.Err() != nil {
			return
		}
		batch := []types.RawShred{raw}
	fill:
		for len(batch) < maxWorkerBatch {
			select {
			case next, ok := <-in.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		monitoring.SetIngestQueueSize(len(in.queue))

		start := time.Now()
		report, err := in.Ingest(in.ctx, batch)
		if err != nil {
			if ledgererr.IsFatal(err) {
				in.fail(err)
				return
			}
			logx.Error("INGEST", fmt.Sprintf("batch of %d shreds failed: %v", len(batch), err))
			continue
		}
		logx.Debug("INGEST", fmt.Sprintf("batch=%d inserted=%d recovered=%d full=%v took=%s",
			len(batch), report.Inserted(), len(report.Recovered), report.FullSlots, time.Since(start)))
	}
}
