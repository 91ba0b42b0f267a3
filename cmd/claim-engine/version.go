package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of claim-engine",
	// No config, store, or model is needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("claim-engine %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
