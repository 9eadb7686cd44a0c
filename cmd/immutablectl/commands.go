package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/client"
	"github.com/marmos91/immutabled/pkg/protocol"
	"github.com/spf13/cobra"
)

type clientFactory func() (*client.Client, error)

// report prints the broker's response line. A FAIL response is returned as
// an error so the process exits non-zero.
func report(cmd *cobra.Command, resp *broker.Response, err error) error {
	if resp != nil {
		_, _ = cmd.OutOrStdout().Write(protocol.EncodeResponse(resp))
	}
	return err
}

func newWriteCmd(newClient clientFactory) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:     "write <path> [content]",
		Aliases: []string{"modify"},
		Short:   "Write content to a file through the broker",
		Long: "Write replaces the file at <path>. Content comes from the argument,\n" +
			"from --from-file, or from stdin when --from-file is \"-\".",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			switch {
			case len(args) == 2 && fromFile != "":
				return fmt.Errorf("give either content or --from-file, not both")
			case len(args) == 2:
				data = []byte(args[1])
			case fromFile == "-":
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				data = b
			case fromFile != "":
				b, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				data = b
			default:
				return fmt.Errorf("write needs content or --from-file")
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Write(cmd.Context(), args[0], data)
			return report(cmd, resp, err)
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Read content from this file (\"-\" for stdin)")
	return cmd
}

func newDeleteCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a file or directory unless its retention is active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Delete(cmd.Context(), args[0])
			return report(cmd, resp, err)
		},
	}
}

func newSyncCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:     "sync <src> <dst>",
		Aliases: []string{"rsync"},
		Short:   "Copy src onto dst through the broker's sync tool",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Sync(cmd.Context(), args[0], args[1])
			return report(cmd, resp, err)
		},
	}
}

func newSetRetentionCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:     "set-retention <path> <seconds>",
		Aliases: []string{"setretention"},
		Short:   "Protect an existing path from deletion for a number of seconds",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid seconds %q: %w", args[1], err)
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.SetRetention(cmd.Context(), args[0], seconds)
			return report(cmd, resp, err)
		},
	}
}

func newGetRetentionCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:     "get-retention <path>",
		Aliases: []string{"getretention"},
		Short:   "Print the seconds of retention left on a path",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			remaining, err := c.GetRetention(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d seconds of retention remaining\n", args[0], remaining)
			return nil
		},
	}
}
