package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sayTo string

var sayCmd = &cobra.Command{
	Use:     "say <sender-name> <content>",
	Short:   "Send a message over the message bus",
	GroupID: groupMeeting,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		senderName, content := args[0], args[1]
		messageID, err := eng.Bus().Say(cmd.Context(), senderName, content, sayTo)
		if err != nil {
			return err
		}
		if messageID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "broadcast %s\n", messageID)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
		}
		return nil
	},
}

func init() {
	sayCmd.Flags().StringVar(&sayTo, "to", "", "Comma-separated recipient names; empty or \"broadcast\" fans out to everyone")
	rootCmd.AddCommand(sayCmd)
}
