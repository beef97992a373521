package cmd

import (
	"context"
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running node",
	Long: `Stop the running node gracefully.

This command sends SIGTERM to the process named in the PID file. The node
stops its loops, drains the inboxes, verifies the packet pool and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newPIDFileController(pidFile), cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, ctl ProcessController, out io.Writer) error {
	if err := ctl.Signal(ctx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Stop signal sent")
	return nil
}
