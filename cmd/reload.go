package cmd

import (
	"context"
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Send SIGHUP to the running node. Log settings are applied in place;
changes to destination, distribution, pool, stack or metrics are reported
and need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), newPIDFileController(pidFile), cmd.OutOrStdout())
	},
}

func runReload(ctx context.Context, ctl ProcessController, out io.Writer) error {
	if err := ctl.Signal(ctx, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Reload signal sent")
	return nil
}
