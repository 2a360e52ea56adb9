package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offlinekit/internal/config"
	"offlinekit/internal/database"
	"offlinekit/internal/migrations"
	"offlinekit/internal/models"
	"offlinekit/internal/privacy"
	"offlinekit/internal/service"
	"offlinekit/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "offlinekit",
		Short:         "offlinekit - offline first companion daemon for the Trebol Pools site",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var configPath string
	var verbose bool
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (includes form contents)")

	rootCmd.AddCommand(serveCmd(&configPath, &verbose))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(outboxCmd(&configPath, &verbose))
	rootCmd.AddCommand(insightsCmd(&configPath, &verbose))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func serveCmd(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the interception proxy, window hub and outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, *configPath, *verbose, os.Stdout)
		},
	}
}

func run(ctx context.Context, configPath string, verbose bool, out io.Writer) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg, verbose, out)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting offlinekit")

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.ConfigFromModel(cfg.Tracing, Version), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	app, err := newApplication(cfg, db, http.DefaultTransport, logger)
	if err != nil {
		return err
	}

	if configPath != "" {
		watcher := config.NewConfigWatcher(configPath, logger)
		watcher.OnConfigChange(func(c *models.Config) {
			if verbose {
				return
			}
			if err := config.ApplyLogLevel(logger, c.LogLevel); err != nil {
				logger.WithError(err).Warn("Ignoring invalid log level from reloaded configuration")
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server := NewServer(cfg.Server, app, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	app.start(service.WithVerboseLogging(ctx, verbose))

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		app.stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	app.stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the local store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromConfig(cmd.Context(), *configPath, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()

			current, err := store.db.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			latest, err := migrations.Latest()
			if err != nil {
				return fmt.Errorf("failed to load migrations: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Store %s is at schema version %d (latest %d)\n", store.db.Path(), current, latest)
			return nil
		},
	}
}

func outboxCmd(configPath *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay queued contact forms",
	}

	// outbox list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued contact forms in delivery order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromConfig(cmd.Context(), *configPath, *verbose, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()

			pending, err := store.db.ListPendingMessages(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list pending messages: %w", err)
			}

			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No queued messages.")
				return nil
			}

			for _, msg := range pending {
				fields := privacy.MaskFormFields(msg.Fields)
				if *verbose {
					fields = map[string]interface{}{}
					for k, v := range msg.Fields {
						fields[k] = v
					}
				}
				out, _ := json.Marshal(fields)
				fmt.Fprintf(cmd.OutOrStdout(), "  %d  %s  (queued %s)  %s\n", msg.ID, msg.ClientID, msg.CreatedAt, out)
			}
			return nil
		},
	}

	// outbox drain
	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Send every queued contact form now",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromConfig(cmd.Context(), *configPath, *verbose, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := newOutbox(store.cfg, store.db, nil, store.logger).Drain(cmd.Context())
			if err != nil {
				return fmt.Errorf("drain failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.AddCommand(listCmd, drainCmd)
	return cmd
}

func insightsCmd(configPath *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Manage the mirrored insights",
	}

	// insights refresh
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the latest insights, falling back to the local copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFromConfig(cmd.Context(), *configPath, *verbose, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()

			fetcher := newInsightsFetcher(store.cfg, store.db, store.logger)
			return printJSON(cmd.OutOrStdout(), fetcher.Refresh(cmd.Context()))
		},
	}

	cmd.AddCommand(refreshCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "offlinekit %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}
}

// setupLogger builds the JSON logger. --verbose forces debug; otherwise the
// configured level applies, falling back to info.
func setupLogger(cfg *models.Config, verbose bool, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(out)

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - form contents will be logged")
		return logger
	}

	logger.SetLevel(logrus.InfoLevel)
	if err := config.ApplyLogLevel(logger, cfg.LogLevel); err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
	}
	return logger
}

// cliStore is an open local store for the one-shot subcommands
type cliStore struct {
	db     *database.Database
	cfg    *models.Config
	logger *logrus.Logger
}

func (c *cliStore) Close() {
	if err := c.db.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close local store")
	}
}

func storeFromConfig(ctx context.Context, configPath string, verbose bool, logOut io.Writer) (*cliStore, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg, verbose, logOut)
	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &cliStore{db: db, cfg: cfg, logger: logger}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
