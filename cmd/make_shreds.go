package cmd

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/mezonai/mmn-ledger/config"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/shredder"
	"github.com/spf13/cobra"
)

type MakeShredsConfig struct {
	Slot          uint64
	Parent        uint64
	PrivKeyPath   string
	NumEntries    int
	BatchSize     int
	HashesPerTick uint64
	OutFile       string
	DropData      []uint
}

var makeShredsConfig MakeShredsConfig

var makeShredsCmd = &cobra.Command{
	Use:   "make-shreds [flags]",
	Short: "Shred a tick-only slot into a file",
	Long: `Builds a chain of tick entries for one slot, shreds and signs it with the given leader
key and writes data and coding shreds to a length-prefixed file.
Examples:
  # slot 10 chained to 9, dropping data shred 3 so ingest has to recover it
  ledger make-shreds -s 10 -p 9 -k ./leader/privkey.txt -o slot-10.shreds --drop 3
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return makeShreds(makeShredsConfig)
	},
}

func init() {
	rootCmd.AddCommand(makeShredsCmd)
	makeShredsCmd.Flags().Uint64VarP(&makeShredsConfig.Slot, "slot", "s", 1, "slot to produce")
	makeShredsCmd.Flags().Uint64VarP(&makeShredsConfig.Parent, "parent", "p", 0, "parent slot")
	makeShredsCmd.Flags().StringVarP(&makeShredsConfig.PrivKeyPath, "key", "k", "privkey.txt", "hex ed25519 leader key")
	makeShredsCmd.Flags().IntVarP(&makeShredsConfig.NumEntries, "entries", "n", 64, "number of tick entries")
	makeShredsCmd.Flags().IntVar(&makeShredsConfig.BatchSize, "batch-size", 16, "entries per batch")
	makeShredsCmd.Flags().Uint64Var(&makeShredsConfig.HashesPerTick, "hashes-per-tick", 8, "hashes per tick entry")
	makeShredsCmd.Flags().StringVarP(&makeShredsConfig.OutFile, "out", "o", "slot.shreds", "output file")
	makeShredsCmd.Flags().UintSliceVar(&makeShredsConfig.DropData, "drop", nil, "data shred indexes to leave out")
}

func makeShreds(c MakeShredsConfig) error {
	if c.Parent >= c.Slot && c.Slot != 0 {
		return fmt.Errorf("parent %d must be below slot %d", c.Parent, c.Slot)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	priv, err := config.LoadEd25519PrivKey(c.PrivKeyPath)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	sh, err := shredder.New(cfg.ShredderConfig())
	if err != nil {
		return err
	}

	var slotBytes [8]byte
	binary.LittleEndian.PutUint64(slotBytes[:], c.Slot)
	entries := poh.GenerateTickOnlyEntries(sha256.Sum256(slotBytes[:]), c.NumEntries, c.HashesPerTick)

	var batches [][]poh.Entry
	for lo := 0; lo < len(entries); lo += c.BatchSize {
		hi := lo + c.BatchSize
		if hi > len(entries) {
			hi = len(entries)
		}
		batches = append(batches, entries[lo:hi])
	}

	data, coding, err := sh.MakeShreds(c.Slot, c.Parent, batches, priv)
	if err != nil {
		return err
	}

	drop := make(map[uint32]bool, len(c.DropData))
	for _, idx := range c.DropData {
		drop[uint32(idx)] = true
	}
	records := make([][]byte, 0, len(data)+len(coding))
	for i := range data {
		if drop[data[i].Index()] {
			continue
		}
		records = append(records, data[i].Encode())
	}
	for i := range coding {
		records = append(records, coding[i].Encode())
	}

	f, err := os.Create(c.OutFile)
	if err != nil {
		return err
	}
	if err := writeShredRecords(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logx.Info("MAKE SHREDS", fmt.Sprintf("slot=%d parent=%d data=%d coding=%d dropped=%d -> %s",
		c.Slot, c.Parent, len(data), len(coding), len(data)+len(coding)-len(records), c.OutFile))
	return nil
}
