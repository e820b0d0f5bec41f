package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/fanout/config"
)

// validateCmd checks a batch file without sending any request.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a batch file",
	Long: `Validate a fanout batch file without sending any request.

This command parses the YAML, expands environment variables, expands grids
and validates every field. It is useful in CI before a batch is run.

Exit codes:
  0 - Batch is valid
  1 - Batch is invalid (error details printed to stderr)

Example:
  fanout validate -c batch.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to batch file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// building the jobs catches template and duplicate-name errors
	jobs, err := config.BuildJobs(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	direct := len(cfg.Requests)
	periodic := 0
	for _, j := range jobs {
		if j.Interval > 0 {
			periodic++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Concurrency:   %d\n", cfg.Concurrency)
	fmt.Fprintf(out, "  Timeout:       %s\n", cfg.Timeout.Duration())
	fmt.Fprintf(out, "  Requests:      %d direct + %d from grids = %d total\n",
		direct, len(jobs)-direct, len(jobs))
	if periodic > 0 {
		fmt.Fprintf(out, "  Repeating:     %d\n", periodic)
	}
	return nil
}
