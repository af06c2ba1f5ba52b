package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Report Tier-1 fill pressure",
	GroupID: groupMaintenance,
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := eng.Health(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			data, err := json.Marshal(h)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nrecords: %d\nfill: %.1f%%\n", h.Status, h.RecordCount, h.FillPercent*100)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
