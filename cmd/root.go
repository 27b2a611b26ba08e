package cmd

import (
	"fmt"
	"os"

	"github.com/mezonai/mmn-ledger/blockstore"
	"github.com/mezonai/mmn-ledger/config"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/sigverify"
	"github.com/spf13/cobra"
)

var (
	configPath string
	storeDir   string
)

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "MMN shred ledger CLI",
	Long:  "Command line interface for running and inspecting an MMN shred ledger.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to ledger.yml (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&storeDir, "store-dir", "d", "", "override store.directory from the config")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.LedgerConfig, error) {
	cfg := config.DefaultLedgerConfig()
	if configPath != "" {
		loaded, err := config.LoadLedgerConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if storeDir != "" {
		cfg.Store.Directory = storeDir
	}
	return cfg, cfg.Validate()
}

// openLedger opens the configured blockstore with entry verification bound to the leader
// schedule of the config.
func openLedger(cfg *config.LedgerConfig) (*blockstore.Blockstore, *sigverify.Verifier, error) {
	schedule, err := config.ConvertLeaderSchedule(cfg.LeaderSchedule)
	if err != nil {
		return nil, nil, fmt.Errorf("leader schedule: %w", err)
	}
	verifier := sigverify.NewVerifier(schedule, cfg.Ingest.VerifyWorkers)

	store, err := blockstore.Open(&cfg.Store, blockstore.Options{
		Limits:        cfg.ShredderConfig().Limits(),
		VerifyEntries: verifier.VerifyEntries,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, verifier, nil
}
