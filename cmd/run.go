package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/telenode/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the telemetry node in foreground",
	Long: `Run the telemetry node in foreground.

The node will:
  1. Load configuration from the config file
  2. Initialize logging, metrics and record sinks
  3. Build the packet pool, dispatch registry and network stack
  4. Start the scheduler loops, the stats aggregator and the receiver
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runNode(); err != nil {
			exitWithError("node failed", err)
		}
	},
}

func runNode() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start node: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
