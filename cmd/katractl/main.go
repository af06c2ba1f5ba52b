// Command katractl is a thin operator CLI over internal/engine, grounded
// on the teacher cmd/bd's root-command/subcommand layout (cobra.Command
// tree, viper-backed config) with none of its issue-tracker verbs kept —
// only the command-tree shape, per spec.md §10's supplemented-features
// list.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
