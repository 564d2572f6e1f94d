package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the pulsed database",
	Long: `Manage pulsed database operations.

Examples:
  pulsed db migrate    # Apply pending schema migrations
  pulsed db stats      # Show pulse counts by status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Database schema is up to date")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pulse counts by status",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := store.GetStats()
	if err != nil {
		return err
	}

	fmt.Println("Pulse counts:")
	fmt.Printf("  Pending:   %d\n", stats.Pending)
	fmt.Printf("  Running:   %d\n", stats.Running)
	fmt.Printf("  Completed: %d\n", stats.Completed)
	fmt.Printf("  Failed:    %d\n", stats.Failed)
	fmt.Printf("  Cancelled: %d\n", stats.Cancelled)
	fmt.Printf("  Total:     %d\n", stats.Total)
	return nil
}
