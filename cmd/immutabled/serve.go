package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/auth"
	"github.com/marmos91/immutabled/pkg/config"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/marmos91/immutabled/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = runServer(ctx, cfg)
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func configureLogging(cfg *config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}

// runServer wires every component from cfg and blocks until ctx is done.
func runServer(ctx context.Context, cfg *config.Config) error {
	if err := configureLogging(&cfg.Logging); err != nil {
		return err
	}

	logger.Info("immutabled %s starting", version)
	logger.Info("Log level: %s, format: %s, output: %s", cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)

	m := config.InitializeMetrics(cfg)

	authenticator, err := config.CreateAuthenticator(&cfg.Auth)
	if err != nil {
		return err
	}

	store, err := config.CreateLedgerStore(ctx, &cfg.Ledger, m.BrokerMetrics)
	if err != nil {
		return err
	}

	srv, err := server.New(store, server.WithStopTimeout(cfg.Server.ShutdownTimeout))
	if err != nil {
		_ = store.Close()
		return err
	}

	if err := wireServer(ctx, cfg, srv, store, authenticator, m); err != nil {
		_ = store.Close()
		return err
	}

	return srv.Serve(ctx)
}

func wireServer(ctx context.Context, cfg *config.Config, srv *server.Server, store ledger.Store, authenticator *auth.Authenticator, m *config.MetricsResult) error {
	exec, err := config.CreateExecutor(cfg, store, m.BrokerMetrics)
	if err != nil {
		return err
	}

	adapters, err := config.CreateAdapters(cfg, exec, authenticator, m.BrokerMetrics)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	if m.Server != nil {
		if err := srv.AddService(server.Service{Name: "metrics", Run: m.Server.Start}); err != nil {
			return err
		}
		logger.Info("Metrics enabled on port %d", m.Server.Port())
	}

	archiver, err := config.CreateArchiver(ctx, &cfg.Archive, store, m.BrokerMetrics)
	if err != nil {
		return fmt.Errorf("failed to create ledger archiver: %w", err)
	}
	if archiver != nil {
		if err := srv.AddService(server.Service{Name: "archive", Run: archiver.Run}); err != nil {
			return err
		}
	}

	return nil
}
