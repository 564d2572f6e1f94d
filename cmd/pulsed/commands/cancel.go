package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teranos/pulsed/errors"
)

// CancelCmd cancels a pending pulse
var CancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a pending pulse",
	Long: `Cancel a pending pulse.

Only pending pulses can be cancelled. A running pulse finishes its
current attempt; completed, failed and cancelled pulses are frozen.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return errors.Newf("pulse id must be a positive integer, got %q", args[0])
	}

	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Cancel(id); err != nil {
		return err
	}

	fmt.Printf("Cancelled pulse %d\n", id)
	return nil
}
