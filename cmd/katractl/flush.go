package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:     "flush",
	Short:   "Force a Tier-1 durability barrier",
	GroupID: groupMaintenance,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := eng.Flush(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "flushed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}
