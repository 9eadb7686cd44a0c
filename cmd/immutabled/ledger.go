package main

import (
	"fmt"
	"time"

	"github.com/marmos91/immutabled/pkg/config"
	"github.com/spf13/cobra"
)

func newLedgerCmd(configPath *string) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the retention ledger",
		Args:  cobra.NoArgs,
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every ledger record in append order (path|created|duration)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			store, err := config.CreateLedgerStore(cmd.Context(), &cfg.Ledger, nil)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); err == nil {
					err = cerr
				}
			}()

			return store.Export(cmd.Context(), cmd.OutOrStdout())
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query <path>",
		Short: "Show the retention record in force for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			store, err := config.CreateLedgerStore(cmd.Context(), &cfg.Ledger, nil)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); err == nil {
					err = cerr
				}
			}()

			rec, found, err := store.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !found {
				fmt.Fprintf(out, "%s: no retention recorded\n", args[0])
				return nil
			}

			now := time.Now().Unix()
			fmt.Fprintf(out, "%s: created %s, duration %ds, expires %s, remaining %ds\n",
				rec.Path,
				time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339),
				rec.Duration,
				time.Unix(rec.ExpiresAt(), 0).UTC().Format(time.RFC3339),
				rec.Remaining(now))
			return nil
		},
	}

	ledgerCmd.AddCommand(dumpCmd, queryCmd)
	return ledgerCmd
}
