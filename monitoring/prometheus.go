package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/mezonai/mmn-ledger/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ShredRejectedReason string

var (
	ShredMalformed        ShredRejectedReason = "malformed"
	ShredBelowRetention   ShredRejectedReason = "below_retention"
	ShredInvalidSignature ShredRejectedReason = "invalid_signature"
	ShredSlotDead         ShredRejectedReason = "slot_dead"
	ShredSlotRooted       ShredRejectedReason = "slot_rooted"
	ShredSlotPurged       ShredRejectedReason = "slot_purged"
	ShredConflicting      ShredRejectedReason = "conflict"
	ShredRejectedUnknown  ShredRejectedReason = "other"
)

type ledgerPromMetrics struct {
	nodeUpUnixSeconds  prometheus.Gauge
	receivedShreds     *prometheus.CounterVec
	insertedShreds     *prometheus.CounterVec
	duplicateShreds    prometheus.Counter
	rejectedShreds     *prometheus.CounterVec
	recoveredShreds    prometheus.Counter
	recoveryFailures   *prometheus.CounterVec
	slotsFull          prometheus.Counter
	slotsDead          prometheus.Counter
	roots              prometheus.Counter
	purgedSlots        prometheus.Counter
	highestRoot        prometheus.Gauge
	verifyBatchLatency prometheus.Histogram
	slotAssembleTime   prometheus.Histogram
	ingestQueueSize    prometheus.Gauge
	panicCount         prometheus.Counter
}

func newLedgerPromMetrics() *ledgerPromMetrics {
	return &ledgerPromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_ledger_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the ledger process start",
			},
		),
		receivedShreds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmn_ledger_received_shreds_total",
				Help: "The total number of shreds handed to ingest",
			},
			[]string{"type"},
		),
		insertedShreds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmn_ledger_inserted_shreds_total",
				Help: "The total number of shreds durably written to the blockstore",
			},
			[]string{"type"},
		),
		duplicateShreds: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_duplicate_shreds_total",
				Help: "Byte-identical shreds that were already stored",
			},
		),
		rejectedShreds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmn_ledger_rejected_shreds_total",
				Help: "The total number of rejected shreds",
			},
			[]string{"reason"},
		),
		recoveredShreds: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_recovered_shreds_total",
				Help: "Shreds reconstructed by erasure recovery and re-verified",
			},
		),
		recoveryFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmn_ledger_recovery_failures_total",
				Help: "Failed erasure recoveries",
			},
			[]string{"code"},
		),
		slotsFull: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_slots_full_total",
				Help: "Slots that received every data shred",
			},
		),
		slotsDead: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_slots_dead_total",
				Help: "Slots marked unassemblable",
			},
		),
		roots: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_roots_total",
				Help: "Slots marked as roots",
			},
		),
		purgedSlots: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_purged_slots_total",
				Help: "Slots removed from the blockstore",
			},
		),
		highestRoot: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_ledger_highest_root",
				Help: "The highest rooted slot",
			},
		),
		verifyBatchLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mmn_ledger_verify_batch_seconds",
				Help:    "Duration of one shred signature verification batch",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
		),
		slotAssembleTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "mmn_ledger_slot_assemble_seconds",
				Help: "Duration between the first shred of a slot and its entries being stored",
			},
		),
		ingestQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mmn_ledger_ingest_queue_size",
				Help: "Raw shreds waiting for an ingest worker",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mmn_ledger_panic_count",
				Help: "Recovered panics in background goroutines",
			},
		),
	}
}

var (
	ledgerMetrics *ledgerPromMetrics
	initOnce      sync.Once
)

// InitMetrics registers the ledger metrics. Until it is called every recorder is a no-op,
// which keeps library users and tests free of global registration.
func InitMetrics() {
	initOnce.Do(func() {
		ledgerMetrics = newLedgerPromMetrics()
		ledgerMetrics.nodeUpUnixSeconds.SetToCurrentTime()
	})
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func RecordReceivedShred(shredType string) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.receivedShreds.With(prometheus.Labels{"type": shredType}).Inc()
}

func RecordInsertedShred(shredType string) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.insertedShreds.With(prometheus.Labels{"type": shredType}).Inc()
}

func IncreaseDuplicateShredCount() {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.duplicateShreds.Inc()
}

func RecordRejectedShred(reason ShredRejectedReason) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.rejectedShreds.With(prometheus.Labels{"reason": string(reason)}).Inc()
}

func AddRecoveredShreds(n int) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.recoveredShreds.Add(float64(n))
}

func RecordRecoveryFailure(code string) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.recoveryFailures.With(prometheus.Labels{"code": code}).Inc()
}

func IncreaseSlotsFull() {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.slotsFull.Inc()
}

func IncreaseSlotsDead() {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.slotsDead.Inc()
}

func RecordRoot(slot uint64) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.roots.Inc()
	ledgerMetrics.highestRoot.Set(float64(slot))
}

func IncreasePurgedSlots(n int) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.purgedSlots.Add(float64(n))
}

func RecordVerifyBatch(duration time.Duration) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.verifyBatchLatency.Observe(duration.Seconds())
}

func RecordSlotAssembleTime(duration time.Duration) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.slotAssembleTime.Observe(duration.Seconds())
}

func SetIngestQueueSize(size int) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.ingestQueueSize.Set(float64(size))
}

func IncreasePanicCount() {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.panicCount.Inc()
}
