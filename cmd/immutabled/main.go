// Command immutabled is the privileged broker daemon. It owns the retention
// ledger and performs writes, deletes and syncs on behalf of unprivileged
// clients connected to its unix socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "immutabled",
		Short:         "Privileged broker for immutable files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/immutabled/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newConfigCmd(&configPath),
		newLedgerCmd(&configPath),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
