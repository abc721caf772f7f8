package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hirewire/hirewire/cmd/hirewire/commands"
	"github.com/hirewire/hirewire/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hirewire",
	Short: "Hirewire - background job orchestration daemon",
	Long: `Hirewire - background job orchestration for the job board.

Hirewire provides:
  - Durable prioritized job queue backed by SQLite
  - Background processor with retries, backoff, and stale-job reaping
  - Per-source scrape scheduling under rolling rate windows
  - Live status over websocket for connected dashboards

Available commands:
  serve    - Start the orchestration daemon
  jobs     - Inspect and manage job records
  sources  - Manage scrape sources

Examples:
  hirewire serve                          # Start the daemon
  hirewire jobs stats                     # Show queue counts
  hirewire jobs schedule scrape-source    # Enqueue a job
  hirewire sources ls                     # List scrape sources`,
}

func init() {
	// Human-readable output until serve re-initializes per config.
	if err := logger.Initialize(false); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logger: %v\n", err)
	}

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.SourcesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
