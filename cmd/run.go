package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/mmn-ledger/config"
	"github.com/mezonai/mmn-ledger/events"
	"github.com/mezonai/mmn-ledger/exception"
	"github.com/mezonai/mmn-ledger/ingest"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/monitoring"
	"github.com/mezonai/mmn-ledger/p2p"
	"github.com/spf13/cobra"
)

var metricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ledger node",
	Long: `Opens the blockstore, starts the ingest workers and, when network.listen_addr is set,
joins the shred gossip topics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLedger()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9100", "prometheus listen address, empty to disable")
}

func runLedger() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	monitoring.InitMetrics()
	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		monitoring.RegisterMetrics(mux)
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		exception.SafeGo("MetricsServer", func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Error("MONITORING", "Metrics server error:", err)
			}
		})
	}

	store, verifier, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewEventBus()
	subID, sub := bus.Subscribe()
	defer bus.Unsubscribe(subID)
	exception.SafeGo("LedgerEventLogger", func() {
		for ev := range sub {
			logx.Info("LEDGER EVENT", fmt.Sprintf("%s slot=%d", ev.Type(), ev.Slot()))
		}
	})

	in := ingest.NewIngester(store, verifier, bus, cfg.Ingest)

	var network *p2p.Network
	if cfg.Network.ListenAddr != "" {
		network, err = startNetwork(cfg.Network, in)
		if err != nil {
			return err
		}
		defer network.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	var fatalErr error
	select {
	case <-sig:
		logx.Info("NODE", "Shutting down ledger node...")
	case fatalErr = <-in.Fatal():
		logx.Error("NODE", "Storage failure, shutting down ledger node:", fatalErr)
	}

	// stop feeding the queue before draining it
	if network != nil {
		_ = network.Close()
	}
	in.Stop()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		done()
	}
	return fatalErr
}

func startNetwork(cfg config.NetworkConfig, in *ingest.Ingester) (*p2p.Network, error) {
	if cfg.PrivKeyPath == "" {
		return nil, fmt.Errorf("network.privkey_path is required when listen_addr is set")
	}
	priv, err := config.LoadEd25519PrivKey(cfg.PrivKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load network key: %w", err)
	}
	network, err := p2p.NewNetwork(priv, cfg.ListenAddr, cfg.BootstrapPeers, in)
	if err != nil {
		return nil, err
	}
	if err := network.Start(); err != nil {
		_ = network.Close()
		return nil, err
	}
	return network, nil
}
