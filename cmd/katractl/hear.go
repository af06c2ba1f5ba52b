package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ckoons/katra/internal/messagebus"
)

var hearAll bool

var hearCmd = &cobra.Command{
	Use:     "hear <recipient-name>",
	Short:   "Pop the oldest pending message(s) for an agent",
	GroupID: groupMeeting,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipientName := args[0]
		bus := eng.Bus()

		if hearAll {
			entries, more, err := bus.HearAll(cmd.Context(), recipientName, 0)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", e.CreatedAt.Format("15:04:05"), e.SenderName, e.Content)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "(%d remaining)\n", more)
			return nil
		}

		entry, more, err := bus.Hear(cmd.Context(), recipientName)
		if err != nil {
			if errors.Is(err, messagebus.ErrNoNewMessages) {
				fmt.Fprintln(cmd.OutOrStdout(), "NO_NEW_MESSAGES")
				return nil
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", entry.CreatedAt.Format("15:04:05"), entry.SenderName, entry.Content)
		fmt.Fprintf(cmd.OutOrStdout(), "(%d remaining)\n", more)
		return nil
	},
}

func init() {
	hearCmd.Flags().BoolVar(&hearAll, "all", false, "Pop up to 100 pending messages, oldest first, instead of just the oldest")
	rootCmd.AddCommand(hearCmd)
}
