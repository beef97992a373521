package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/telenode/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the node.

Examples:
  telenode validate -c /etc/telenode/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "VALID: node %q, %s to [%s]:%s, %d byte readings, %s stack\n",
		cfg.Node.Name,
		cfg.Distribution.Mode,
		cfg.Destination.Address,
		cfg.Destination.Port,
		cfg.Distribution.PacketSize,
		cfg.Stack.Type,
	)
	return nil
}
