package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/progresswatch/internal/common"
)

var (
	// Multiple --config flags supported, later files override earlier ones
	configFiles []string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:               "progresswatch",
	Short:             "Durable progress records for batch jobs, and a runtime that observes them",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration (defaults -> files -> env) and
// initializes the logger. Command flags are applied by each command.
func loadConfig(cmd *cobra.Command, args []string) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("progresswatch.toml"); err == nil {
			configFiles = append(configFiles, "progresswatch.toml")
		} else if _, err := os.Stat("deployments/local/progresswatch.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/progresswatch.toml")
		}
	}

	cfg, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	config = cfg
	logger = common.InitLogger(config)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
