package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/engine"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a katra data directory",
	GroupID: groupMaintenance,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.DataDir = dataDir

		e, err := engine.Open(cmd.Context(), dataDir, cfg)
		if err != nil {
			return fmt.Errorf("initialize %s: %w", dataDir, err)
		}
		defer e.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "initialized katra data directory at %s\n", dataDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
