package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/telenode/internal/broadcast"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
)

var (
	broadcastNodes    int
	broadcastDuration time.Duration
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Run the radio broadcast demo",
	Long: `Put several simulated radio nodes on one medium. Each node sends a raw
link-layer broadcast greeting once per broadcast interval and prints every
greeting it hears as a radio_rx record.

Examples:
  telenode broadcast --nodes 3 --duration 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runBroadcast(ctx, configFile, broadcastNodes, broadcastDuration, cmd.OutOrStdout())
	},
}

func init() {
	broadcastCmd.Flags().IntVarP(&broadcastNodes, "nodes", "n", 3, "number of radio nodes")
	broadcastCmd.Flags().DurationVarP(&broadcastDuration, "duration", "d", 10*time.Second,
		"how long to run (0 runs until interrupted)")
}

func runBroadcast(ctx context.Context, path string, nodes int, duration time.Duration, out io.Writer) error {
	cfg, err := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = config.Load(path)
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return statErr
	}
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	records := sink.NewMulti(sink.NewConsole(out))
	defer records.Close()

	results, err := broadcast.RunDemo(ctx, broadcast.DemoOptionsFrom(cfg, nodes), records)
	if err != nil {
		return fmt.Errorf("broadcast demo: %w", err)
	}
	for _, r := range results {
		records.Emit(record.Info("%s %s sent %d failed %d received %d",
			r.Name, record.L2Addr(r.L2Addr), r.Sent, r.Failed, r.Received))
	}
	return nil
}
