package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var archiveDays int

var archiveCmd = &cobra.Command{
	Use:     "archive <ci-id>",
	Short:   "Archive eligible Tier-1 records into a Tier-2 digest",
	GroupID: groupMaintenance,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ciID := args[0]
		if err := eng.ArchiveOlderThan(cmd.Context(), ciID, archiveDays); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived %s older than %d days\n", ciID, archiveDays)
		return nil
	},
}

func init() {
	archiveCmd.Flags().IntVar(&archiveDays, "days", 7, "Archive records older than this many days")
	rootCmd.AddCommand(archiveCmd)
}
