package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payments-engine/config"
	"github.com/warp/payments-engine/logging"
)

// errMissingFile is returned when no input file is given.
var errMissingFile = errors.New("missing file name to process")

var rootCmd = &cobra.Command{
	Use:   "txengine [transactions.csv]",
	Short: "Replays deposits, withdrawals and disputes into client balances",
	Long: `txengine reads a CSV of financial transactions, applies them in order
to per-client accounts and prints the final balances as CSV.

  txengine transactions.csv > accounts.csv

Rejected transactions (insufficient funds, locked accounts, ...) are logged
to stderr and skipped. Subcommands run the same engine behind an HTTP API
and manage configuration files.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errMissingFile
		}
		return runProcess(cmd, args)
	},
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")

	addProcessFlags(rootCmd)
}

// loadConfig reads --config (or the defaults) and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log)
}
