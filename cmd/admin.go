package cmd

import (
	"fmt"

	"github.com/mezonai/mmn-ledger/blockstore"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/spf13/cobra"
)

var markRootCmd = &cobra.Command{
	Use:   "mark-root <slot>",
	Short: "Mark a full slot as rooted",
	Args:  cobra.ExactArgs(1),
	RunE: withSlot(func(bs *blockstore.Blockstore, slot uint64) error {
		if err := bs.MarkRoot(slot); err != nil {
			return err
		}
		logx.Info("ADMIN", fmt.Sprintf("Slot %d rooted", slot))
		return nil
	}),
}

var purgeCmd = &cobra.Command{
	Use:   "purge <slot>",
	Short: "Delete every record of an unrooted slot",
	Args:  cobra.ExactArgs(1),
	RunE: withSlot(func(bs *blockstore.Blockstore, slot uint64) error {
		if err := bs.PurgeSlot(slot); err != nil {
			return err
		}
		logx.Info("ADMIN", fmt.Sprintf("Slot %d purged", slot))
		return nil
	}),
}

var purgeBelowCmd = &cobra.Command{
	Use:   "purge-below <slot>",
	Short: "Raise the retention bound, deleting every slot below it",
	Args:  cobra.ExactArgs(1),
	RunE: withSlot(func(bs *blockstore.Blockstore, slot uint64) error {
		n, err := bs.PurgeSlotsBelow(slot)
		if err != nil {
			return err
		}
		logx.Info("ADMIN", fmt.Sprintf("Purged %d slots below %d", n, slot))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(markRootCmd, purgeCmd, purgeBelowCmd)
}
