package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsed/errors"
)

var showJSON bool

// ShowCmd shows one pulse in full
var ShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one pulse in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	ShowCmd.Flags().BoolVarP(&showJSON, "json", "j", false, "Output as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return errors.Newf("pulse id must be a positive integer, got %q", args[0])
	}

	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	p, err := store.Get(id)
	if err != nil {
		return err
	}

	if showJSON {
		output, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format pulse")
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Pulse %d\n", p.ID)
	fmt.Printf("  Status:      %s\n", p.Status)
	fmt.Printf("  Priority:    %s\n", p.Priority)
	fmt.Printf("  Created by:  %s\n", p.CreatedBy)
	fmt.Printf("  Created at:  %s\n", p.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Scheduled:   %s\n", p.ScheduledAt.Local().Format(time.RFC3339))
	if p.ExecutedAt != nil {
		fmt.Printf("  Executed:    %s\n", p.ExecutedAt.Local().Format(time.RFC3339))
	}
	if p.ExecutionDurationMs != nil {
		fmt.Printf("  Duration:    %dms\n", *p.ExecutionDurationMs)
	}
	fmt.Printf("  Retries:     %d/%d\n", p.RetryCount, p.MaxRetries)
	if p.SessionID != "" {
		fmt.Printf("  Session:     %s\n", p.SessionID)
	}
	if len(p.Tags) > 0 {
		fmt.Printf("  Tags:        %s\n", strings.Join(p.Tags, ", "))
	}
	if p.ErrorMessage != "" {
		fmt.Printf("  Error:       %s\n", p.ErrorMessage)
	}
	fmt.Printf("\n%s\n", p.Prompt)
	if p.StickyNotes != "" {
		fmt.Printf("\nSticky notes:\n%s\n", p.StickyNotes)
	}
	return nil
}
