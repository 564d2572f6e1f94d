package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsed/cmd/pulsed/commands"
	"github.com/teranos/pulsed/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pulsed",
	Short: "pulsed - durable pulse queue and execution daemon",
	Long: `pulsed - a durable task queue driving an agent CLI.

Producers enqueue pulses (prompts with a schedule, priority, and retry
budget); the daemon claims due pulses one at a time, runs each through
the agent subprocess, and retries failures with exponential backoff.

Available commands:
  start   - Run the daemon (ticker + HTTP API)
  enqueue - Enqueue a pulse from the command line
  ls      - List pulses
  show    - Show one pulse in full
  cancel  - Cancel a pending pulse
  db      - Database operations (migrate, stats)
  version - Show build information

Examples:
  pulsed start                          # Run the daemon in foreground
  pulsed enqueue "summarize the inbox"  # Enqueue an immediate pulse
  pulsed ls --status pending            # List pending pulses
  pulsed cancel 42                      # Cancel pulse 42`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.ShowCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
