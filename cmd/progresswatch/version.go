package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/progresswatch/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// no config needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ProgressWatch version %s\n", common.GetFullVersion())
	},
}
