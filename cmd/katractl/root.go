package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/engine"
)

var (
	dataDir    string
	configFile string
	jsonOutput bool

	eng *engine.Engine
)

const (
	groupMemory      = "memory"
	groupMeeting     = "meeting"
	groupMaintenance = "maintenance"
)

var rootCmd = &cobra.Command{
	Use:   "katractl",
	Short: "Operate a katra persistent-memory store",
	Long: `katractl is an operator CLI over a katra memory engine: initialize a
data directory, inspect its health, run maintenance cycles, and exercise
the message bus by hand.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		return openEngine(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "init" || eng == nil {
			return nil
		}
		err := eng.Close()
		eng = nil
		return err
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupMemory, Title: "Memory:"},
		&cobra.Group{ID: groupMeeting, Title: "Message Bus:"},
		&cobra.Group{ID: groupMaintenance, Title: "Maintenance:"},
	)

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".katra")

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir, "Katra data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (TOML or YAML); defaults applied if empty")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func openEngine(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.DataDir = dataDir

	e, err := engine.Open(ctx, dataDir, cfg)
	if err != nil {
		return fmt.Errorf("open engine at %s: %w", dataDir, err)
	}
	eng = e
	return nil
}
