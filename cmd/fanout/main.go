// Package main is the entry point for the fanout CLI.
//
// fanout runs a batch of HTTP requests described in YAML through a single
// event loop with a cap on how many are in flight at once.
//
// Usage:
//
//	fanout run -c batch.yaml      # Run the batch
//	fanout validate -c batch.yaml # Validate a batch file
//	fanout version                # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Run batches of HTTP requests with bounded concurrency",
	Long: `fanout runs many HTTP requests from one event loop, admitting at most
a configured number at a time and reporting each result as it completes.

Quick start:
  1. Create a batch file (batch.yaml)
  2. Run: fanout run -c batch.yaml

Example batch:
  concurrency: 8
  timeout: 10s
  requests:
    - name: GitHub API
      url: https://api.github.com
      status: json:status`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this fanout binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "fanout %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
