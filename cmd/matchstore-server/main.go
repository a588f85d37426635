package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/spf13/cobra"

	"github.com/pendergraft/matchstore/internal/config"
	"github.com/pendergraft/matchstore/internal/observability/metrics"
	"github.com/pendergraft/matchstore/internal/server"
	"github.com/pendergraft/matchstore/internal/storage"
	"github.com/pendergraft/matchstore/internal/verification/domain"
	verificationTransport "github.com/pendergraft/matchstore/internal/verification/transport"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "matchstore-server",
		Short:         "matchstore - verified contract match storage",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (TOML or YAML)")

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(configPath)
	}

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newMigrateCmd(&configPath))
	rootCmd.AddCommand(newStoreCmd(&configPath))
	rootCmd.AddCommand(newCheckCmd(&configPath))

	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare every configured backend (schema, directories, buckets)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath)
		},
	}
}

func newStoreCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "store <export.json>...",
		Short: "Store verification exports through the configured backends",
		Long: `Store one or more verification exports, as produced by a verifier,
through the configured storage routing.

Each file holds a single JSON export. Files are stored in order; a file
that is rejected does not stop the remaining ones.

EXAMPLES:
  matchstore-server store ./exports/counter.json
  matchstore-server --config matchstore.toml store exports/*.json
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(cmd.Context(), *configPath, args, cmd.OutOrStdout())
		},
	}
}

func newCheckCmd(configPath *string) *cobra.Command {
	var chainID, address string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show the stored matches of an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), *configPath, chainID, address, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&chainID, "chain-id", "", "chain ID (required)")
	cmd.Flags().StringVar(&address, "address", "", "contract address (required)")
	_ = cmd.MarkFlagRequired("chain-id")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

// app holds the backends and the router built from a configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends map[storage.BackendID]storage.Backend
	pool     pond.Pool
	svc      verificationTransport.Service
}

func newApp(ctx context.Context, configPath string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logger == nil {
		logger = setupLogger(cfg)
	}

	backends, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	pool := pond.NewPool(cfg.Storage.FanOutWorkers)
	svc, err := domain.NewService(backends, domain.RoutingFromConfig(cfg.Storage), pool, logger)
	if err != nil {
		pool.StopAndWait()
		return nil, errors.Join(fmt.Errorf("building storage router: %w", err), storage.CloseAll(backends))
	}

	return &app{cfg: cfg, logger: logger, backends: backends, pool: pool, svc: svc}, nil
}

func (a *app) migrate(ctx context.Context) error {
	for _, id := range a.cfg.Storage.Backends() {
		if err := a.backends[storage.BackendID(id)].Migrate(ctx); err != nil {
			return fmt.Errorf("migrating %s: %w", id, err)
		}
		a.logger.Info("backend ready", "backend", id)
	}
	return nil
}

func (a *app) close() {
	a.pool.StopAndWait()
	if err := storage.CloseAll(a.backends); err != nil {
		a.logger.Error("closing backends", "error", err)
	}
}

// Server command

func runServe(configPath string) error {
	ctx := context.Background()

	a, err := newApp(ctx, configPath, nil)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, logger := a.cfg, a.logger
	logger.Info("starting matchstore-server", "version", version, "read", cfg.Storage.Read,
		"write_or_err", cfg.Storage.WriteOrErr, "write_or_warn", cfg.Storage.WriteOrWarn)

	metrics.Init(cfg.Metrics.Enabled)

	if err := a.migrate(ctx); err != nil {
		return err
	}

	svc := domain.LoggingMiddleware(logger)(a.svc)
	srv := server.New(cfg, svc, logger)

	// Create HTTP server with configurable timeouts
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMigrate(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath, nil)
	if err != nil {
		return err
	}
	defer a.close()

	return a.migrate(ctx)
}

func runStore(ctx context.Context, configPath string, files []string, out io.Writer) error {
	a, err := newApp(ctx, configPath, cliLogger())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	failed := 0
	for _, path := range files {
		result, err := storeFile(ctx, a.svc, path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s: %s on chain %s (runtime: %s, creation: %s)\n",
			path, result.Address, result.ChainID, result.Status.RuntimeMatch, result.Status.CreationMatch)
		for _, backend := range result.Warnings {
			fmt.Fprintf(out, "  ⚠ %s did not store the match\n", backend)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d exports failed", failed, len(files))
	}
	return nil
}

func storeFile(ctx context.Context, svc verificationTransport.Service, path string) (*domain.StoreResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var export domain.VerificationExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("decoding export: %w", err)
	}
	return svc.StoreVerification(ctx, &export)
}

func runCheck(ctx context.Context, configPath, chainID, address string, out io.Writer) error {
	a, err := newApp(ctx, configPath, cliLogger())
	if err != nil {
		return err
	}
	defer a.close()

	matches, err := a.svc.CheckAllByChainAndAddress(ctx, chainID, address)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintf(out, "%s is not verified on chain %s\n", address, chainID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MATCH ID\tMATCH\tRUNTIME\tCREATION\tVERIFIED AT")
	for _, m := range matches {
		verifiedAt := "-"
		if m.VerifiedAt != nil {
			verifiedAt = m.VerifiedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.MatchID, m.Match, m.RuntimeMatch, m.CreationMatch, verifiedAt)
	}
	return w.Flush()
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// cliLogger keeps one-shot commands quiet except for warnings.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
