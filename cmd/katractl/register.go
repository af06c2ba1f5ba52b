package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registerRole string

var registerCmd = &cobra.Command{
	Use:     "register <ci-id> <name>",
	Short:   "Register an agent with the message bus",
	GroupID: groupMeeting,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ciID, name := args[0], args[1]
		if err := eng.Bus().Register(cmd.Context(), ciID, name, registerRole); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s as %s\n", ciID, name)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerRole, "role", "member", "Agent role")
	rootCmd.AddCommand(registerCmd)
}
