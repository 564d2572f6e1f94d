package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsed/pulse"
)

var (
	lsStatus string
	lsLimit  int
)

// LsCmd lists pulses
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pulses",
	Long: `List pulses by status filter.

Filters: pending, failed, completed, overdue, all (default: all).
Pending pulses print in dispatch order; overdue shows pending pulses
whose scheduled time has already passed.

Examples:
  pulsed ls
  pulsed ls --status pending
  pulsed ls --status overdue --limit 10`,
	RunE: runLs,
}

func init() {
	LsCmd.Flags().StringVar(&lsStatus, "status", "", "Status filter: pending, failed, completed, overdue, all")
	LsCmd.Flags().IntVar(&lsLimit, "limit", 50, "Maximum number of pulses to show")
}

func runLs(cmd *cobra.Command, args []string) error {
	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	filter, err := pulse.ParseFilter(lsStatus)
	if err != nil {
		return err
	}

	pulses, err := store.Query(filter, lsLimit)
	if err != nil {
		return err
	}

	if len(pulses) == 0 {
		fmt.Println("No pulses found")
		return nil
	}

	fmt.Printf("%-6s %-10s %-8s %-20s %-7s %s\n", "ID", "STATUS", "PRIORITY", "SCHEDULED", "RETRIES", "PROMPT")
	fmt.Printf("%-6s %-10s %-8s %-20s %-7s %s\n", "--", "------", "--------", "---------", "-------", "------")

	for _, p := range pulses {
		fmt.Printf("%-6d %-10s %-8s %-20s %d/%-5d %s\n",
			p.ID,
			p.Status,
			p.Priority,
			p.ScheduledAt.Local().Format("2006-01-02 15:04:05"),
			p.RetryCount, p.MaxRetries,
			truncate(p.Prompt, 40))
	}

	fmt.Printf("\nTotal: %d pulse(s)\n", len(pulses))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
