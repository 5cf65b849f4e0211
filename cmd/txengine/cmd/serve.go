package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payments-engine/api"
	"github.com/warp/payments-engine/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind an HTTP API",
	Long: `Start an HTTP server holding one live engine. Transactions are
submitted as JSON or CSV and balances are read back at any time.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Write a final journal checkpoint
  4. Close the journal

Examples:
  txengine serve --port 8080
  txengine serve --journal sqlite --db audit.db --checkpoint 1m`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	servePort       int
	serveJournal    string
	serveDB         string
	serveCheckpoint time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP server port")
	serveCmd.Flags().StringVar(&serveJournal, "journal", "", "journal type: none, memory or sqlite")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite journal path")
	serveCmd.Flags().DurationVar(&serveCheckpoint, "checkpoint", 5*time.Minute, "journal checkpoint interval (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal, closeJournal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	handler := api.NewHandler(api.Options{
		EngineOptions: cfg.EngineOptions(logger),
		Journal:       journal,
		Logger:        logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	scheduler := api.NewCheckpointScheduler(handler, logger)
	scheduler.Interval = serveCheckpoint
	scheduler.Enabled = journal != nil
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("journal", cfg.Journal.Type))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	scheduler.Stop()

	logger.Info("server stopped")
	return nil
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("journal") {
		cfg.Journal.Type = serveJournal
	}
	if flags.Changed("db") {
		cfg.Journal.DBPath = serveDB
	}
}
