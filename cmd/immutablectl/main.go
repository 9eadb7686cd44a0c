// Command immutablectl sends requests to a running immutabled broker.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/immutabled/pkg/adapter/socket"
	"github.com/marmos91/immutabled/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag values fall back to IMMUTABLED_SOCKET, IMMUTABLED_TOKEN and
// IMMUTABLED_TOKEN_FILE.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("IMMUTABLED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "immutablectl",
		Short:         "Client for the immutabled broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("socket", socket.DefaultPath, "Broker socket path")
	flags.String("token", "", "Shared secret")
	flags.String("token-file", "", "File holding the shared secret")
	flags.Duration("timeout", client.DefaultTimeout, "Request timeout")
	_ = v.BindPFlags(flags)

	newClient := func() (*client.Client, error) {
		token := v.GetString("token")
		if file := v.GetString("token-file"); file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("read token file: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}
		if token == "" {
			return nil, fmt.Errorf("no token: use --token, --token-file or IMMUTABLED_TOKEN")
		}
		return client.New(v.GetString("socket"), token, client.WithTimeout(v.GetDuration("timeout"))), nil
	}

	rootCmd.AddCommand(
		newWriteCmd(newClient),
		newDeleteCmd(newClient),
		newSyncCmd(newClient),
		newSetRetentionCmd(newClient),
		newGetRetentionCmd(newClient),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

