package cmd

import (
	"fmt"
	"strconv"

	"github.com/mezonai/mmn-ledger/blockstore"
	"github.com/mezonai/mmn-ledger/jsonx"
	"github.com/spf13/cobra"
)

var (
	rootsFrom uint64
	rootsTo   uint64
)

var slotMetaCmd = &cobra.Command{
	Use:   "slot-meta <slot>",
	Short: "Print the metadata of a slot",
	Args:  cobra.ExactArgs(1),
	RunE: withSlot(func(bs *blockstore.Blockstore, slot uint64) error {
		meta, err := bs.SlotMeta(slot)
		if err != nil {
			return err
		}
		if meta == nil {
			return fmt.Errorf("slot %d not found", slot)
		}
		dead, err := bs.DeadSlot(slot)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"meta": meta, "dead": dead})
	}),
}

var entriesCmd = &cobra.Command{
	Use:   "entries <slot>",
	Short: "Print the assembled entries of a full slot",
	Args:  cobra.ExactArgs(1),
	RunE: withSlot(func(bs *blockstore.Blockstore, slot uint64) error {
		entries, err := bs.GetSlotEntries(slot)
		if err != nil {
			return err
		}
		return printJSON(entries)
	}),
}

var missingCmd = &cobra.Command{
	Use:   "missing <slot>",
	Short: "List data shred indexes a slot still needs",
	Args:  cobra.ExactArgs(1),
	RunE: withSlot(func(bs *blockstore.Blockstore, slot uint64) error {
		missing, err := bs.MissingDataIndexes(slot, 0)
		if err != nil {
			return err
		}
		return printJSON(missing)
	}),
}

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List rooted slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(bs *blockstore.Blockstore) error {
			to := rootsTo
			if to == 0 {
				if highest, ok := bs.HighestRoot(); ok {
					to = highest
				}
			}
			roots, err := bs.Roots(rootsFrom, to)
			if err != nil {
				return err
			}
			return printJSON(roots)
		})
	},
}

var txStatusCmd = &cobra.Command{
	Use:   "tx-status <base58 signature>",
	Short: "Look up the status of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(bs *blockstore.Blockstore) error {
			status, err := bs.GetTransactionStatusBase58(args[0])
			if err != nil {
				return err
			}
			if status == nil {
				return fmt.Errorf("transaction %s not found", args[0])
			}
			return printJSON(status)
		})
	},
}

func init() {
	rootCmd.AddCommand(slotMetaCmd, entriesCmd, missingCmd, rootsCmd, txStatusCmd)
	rootsCmd.Flags().Uint64Var(&rootsFrom, "from", 0, "first slot")
	rootsCmd.Flags().Uint64Var(&rootsTo, "to", 0, "last slot (highest root when 0)")
}

func withStore(fn func(bs *blockstore.Blockstore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bs, _, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer bs.Close()
	return fn(bs)
}

func withSlot(fn func(bs *blockstore.Blockstore, slot uint64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid slot %q: %w", args[0], err)
		}
		return withStore(func(bs *blockstore.Blockstore) error {
			return fn(bs, slot)
		})
	}
}

func printJSON(v interface{}) error {
	out, err := jsonx.MarshalIndent(v)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
