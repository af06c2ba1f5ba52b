package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:     "tick",
	Short:   "Run one maintenance cycle synchronously",
	GroupID: groupMaintenance,
	RunE: func(cmd *cobra.Command, _ []string) error {
		result, err := eng.Tick(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			errStrings := make([]string, len(result.Errors))
			for i, e := range result.Errors {
				errStrings[i] = e.Error()
			}
			data, err := json.Marshal(map[string]any{
				"health":          result.Health,
				"archived_agents": result.ArchivedAgents,
				"budget_actions":  result.BudgetActions,
				"errors":          errStrings,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "health: %s\narchived agents: %d\nbudget actions: %d\nerrors: %d\n",
			result.Health.Status, result.ArchivedAgents, result.BudgetActions, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %v\n", e)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tickCmd)
}
