package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/pulse"
)

var (
	enqueueAt         string
	enqueuePriority   string
	enqueueTags       []string
	enqueueSessionID  string
	enqueueNotes      string
	enqueueMaxRetries int
)

// EnqueueCmd enqueues a pulse from the command line
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue PROMPT",
	Short: "Enqueue a pulse",
	Long: `Enqueue a pulse for execution.

Without --at the pulse is due immediately and the daemon picks it up on
the next tick. Priorities: low, normal, high, urgent.

Examples:
  pulsed enqueue "summarize the inbox"
  pulsed enqueue "rotate the logs" --at 2026-09-01T03:00:00Z --priority low
  pulsed enqueue "continue the review" --session abc123 --tags review,ci`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	EnqueueCmd.Flags().StringVar(&enqueueAt, "at", "", "Scheduled time (RFC3339, default: now)")
	EnqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "", "Priority: low, normal, high, urgent (default: normal)")
	EnqueueCmd.Flags().StringSliceVar(&enqueueTags, "tags", nil, "Tags attached to the pulse")
	EnqueueCmd.Flags().StringVar(&enqueueSessionID, "session", "", "Agent session to resume")
	EnqueueCmd.Flags().StringVar(&enqueueNotes, "notes", "", "Sticky notes carried into the execution context")
	EnqueueCmd.Flags().IntVar(&enqueueMaxRetries, "max-retries", -1, "Retry budget (default: from config)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ingestor := pulse.NewIngestor(store, cfg.Retry.DefaultMax)

	req := pulse.ScheduleRequest{
		Prompt:      args[0],
		ScheduledAt: enqueueAt,
		Priority:    enqueuePriority,
		Source:      pulse.SourceCLI,
		Tags:        enqueueTags,
		SessionID:   enqueueSessionID,
		StickyNotes: enqueueNotes,
	}
	if enqueueMaxRetries >= 0 {
		req.MaxRetries = &enqueueMaxRetries
	}

	id, err := ingestor.Schedule(req)
	if err != nil {
		return err
	}

	p, err := ingestor.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued pulse %d\n", p.ID)
	fmt.Printf("  Priority:  %s\n", p.Priority)
	fmt.Printf("  Scheduled: %s\n", p.ScheduledAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}
