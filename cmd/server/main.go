package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"payments-gateway/internal/config"
	"payments-gateway/internal/server"
)

func main() {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := newRootCommand(logger).Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	serve := newServeCommand(logger)
	cmd := &cobra.Command{
		Use:          "payments-gateway",
		Short:        "Mobile money and smart invoice integration service",
		SilenceUsage: true,
		// Running without a subcommand serves the API
		RunE: serve.RunE,
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newMigrateCommand(logger))
	cmd.AddCommand(newSeedProvidersCommand(logger))
	return cmd
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Start the HTTP API and the status poller",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration
			cfg := config.Load()

			serverInstance, err := server.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize server: %w", err)
			}
			port, err := serverInstance.Start(cfg.ServerPort)
			if err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			logger.Info("Server started successfully", "port", port)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			// Create context with timeout for shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := serverInstance.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")
	return cmd
}

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Apply database migrations and exit",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.UsesMemoryStore() {
				return fmt.Errorf("migrate needs STORAGE_DRIVER=postgres")
			}
			_, db, err := server.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func newSeedProvidersCommand(logger *slog.Logger) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:          "seed-providers",
		Short:        "Load provider configuration from a YAML file into the database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if file == "" {
				file = cfg.ProvidersFile
			}
			if file == "" {
				return fmt.Errorf("no providers file: pass --file or set PROVIDERS_FILE")
			}

			store, db, err := server.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			count, err := server.SeedProviders(cmd.Context(), store, file, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d providers\n", count)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "providers YAML file (defaults to PROVIDERS_FILE)")
	return cmd
}
