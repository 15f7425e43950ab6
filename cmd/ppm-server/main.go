package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ppmcore/internal/ai"
	"ppmcore/internal/audit"
	"ppmcore/internal/authz"
	"ppmcore/internal/cache"
	"ppmcore/internal/config"
	"ppmcore/internal/finance"
	"ppmcore/internal/helpchat"
	"ppmcore/internal/httpapi"
	"ppmcore/internal/importer"
	"ppmcore/internal/logging"
	"ppmcore/internal/schedule"
	"ppmcore/internal/store"
	"ppmcore/internal/variance"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ppm-server",
	Short: "Project portfolio management core server",
	Long: `ppm-server hosts the portfolio management core: bulk financial
imports, variance and alerting, schedules and WBS, budget reporting,
role-based authorization and the AI query layer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Initialize or update the database schema and default roles",
	RunE:  runMigrate,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store row counts per table",
	RunE:  runStats,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, migrateCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadAndOpen() (*config.Config, *store.PPMStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := logging.Initialize(cfg.Logging.DataDir, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize file logging: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, st, err := loadAndOpen()
	if err != nil {
		return err
	}
	defer st.Close()

	// Open already ran the schema migration; seed the built-in roles too.
	c := cache.New(cfg.Cache.MaxEntries, nil)
	az := authz.New(st, c, cfg.GetPermissionTTL())
	if err := az.EnsureDefaultRoles(cmd.Context()); err != nil {
		return fmt.Errorf("failed to seed default roles: %w", err)
	}

	logger.Info("migration complete", zap.String("database", cfg.Database.Path))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	_, st, err := loadAndOpen()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GetStats()
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(stats))
	for t := range stats {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Printf("%-24s %d\n", t, stats[t])
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, st, err := loadAndOpen()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()

	c := cache.New(cfg.Cache.MaxEntries, nil)
	az := authz.New(st, c, cfg.GetPermissionTTL())
	if err := az.EnsureDefaultRoles(ctx); err != nil {
		return fmt.Errorf("failed to seed default roles: %w", err)
	}

	varianceEngine := variance.New(st)
	if err := varianceEngine.InitializeDefaultRules(ctx, "default"); err != nil {
		logger.Warn("failed to seed default threshold rules", zap.Error(err))
	}

	engine, err := ai.NewEmbeddingEngine(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to build embedding engine: %w", err)
	}
	chat, err := ai.NewChatClient(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to build chat client: %w", err)
	}

	minTTL, maxTTL := cfg.GetRAGTTLBounds()
	svc := httpapi.Services{
		Store:    st,
		Importer: importer.New(st, cfg),
		Variance: varianceEngine,
		Authz:    az,
		RAG:      ai.NewRAGService(st, engine, chat, c, minTTL, maxTTL),
		Feedback: ai.NewFeedbackService(st),
		ABTests:  ai.NewABTestService(st),
		Schedule: schedule.New(st),
		Finance:  finance.New(st),
		Audit:    audit.New(st),
		Help:     helpchat.New(st, engine, chat, c, nil, minTTL, maxTTL),
	}

	api := httpapi.New(cfg, svc, c, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context cancelled"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
