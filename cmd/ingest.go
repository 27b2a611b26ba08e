package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mezonai/mmn-ledger/events"
	"github.com/mezonai/mmn-ledger/ingest"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/types"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a file of length-prefixed shreds",
	Long: `Reads shreds written by make-shreds (or captured off the wire) and runs them through
the verify, insert and recovery pipeline.
Examples:
  ledger ingest -c config/ledger.yml slot-10.shreds
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestFile(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func ingestFile(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	records, err := readShredRecords(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	store, verifier, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewEventBus()
	_, sub := bus.Subscribe(events.EventSlotFull, events.EventSlotDead, events.EventShredConflict)
	in := ingest.NewIngester(store, verifier, bus, cfg.Ingest)

	now := time.Now()
	raws := make([]types.RawShred, len(records))
	for i, rec := range records {
		raws[i] = types.RawShred{Bytes: rec, Peer: "file:" + path, ReceivedAt: now}
	}
	report, err := in.Ingest(ctx, raws)
	if err != nil {
		return err
	}

	rejected := 0
	for _, r := range report.Results {
		if r.Err != nil {
			rejected++
			logx.Debug("INGEST CLI", fmt.Sprintf("shred %v rejected: %v", r.ID, r.Err))
		}
	}
	logx.Info("INGEST CLI", fmt.Sprintf("read=%d inserted=%d rejected=%d recovered=%d full=%v dead=%d conflicts=%d",
		len(records), report.Inserted(), rejected, len(report.Recovered), report.FullSlots,
		len(report.DeadSlots), len(report.Conflicts)))

	for {
		select {
		case ev := <-sub:
			fmt.Printf("%s slot=%d\n", ev.Type(), ev.Slot())
		default:
			return nil
		}
	}
}
