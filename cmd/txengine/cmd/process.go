package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payments-engine/config"
	"github.com/warp/payments-engine/csvio"
	"github.com/warp/payments-engine/payment"
	"github.com/warp/payments-engine/payment/store"
	"github.com/warp/payments-engine/processor"
	"github.com/warp/payments-engine/store/sqlite"
)

var processCmd = &cobra.Command{
	Use:   "process <transactions.csv>",
	Short: "Apply a transactions CSV and print balances",
	Long: `Read transactions (type,client,tx,amount) from a CSV file, apply them
in order and write one balance row per client (client,available,held,
total,locked) to stdout or --output.

Examples:
  txengine process transactions.csv
  txengine process transactions.csv --shards 8 --output accounts.csv
  txengine process transactions.csv --journal sqlite --db audit.db`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errMissingFile
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runProcess,
}

var (
	processOutput     string
	processJournal    string
	processDB         string
	processShards     int
	processDuplicates string
)

func init() {
	rootCmd.AddCommand(processCmd)
	addProcessFlags(processCmd)
}

func addProcessFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&processOutput, "output", "o", "", "write balances to this file instead of stdout")
	cmd.Flags().StringVar(&processJournal, "journal", "", "journal type: none, memory or sqlite")
	cmd.Flags().StringVar(&processDB, "db", "", "SQLite journal path")
	cmd.Flags().IntVar(&processShards, "shards", 0, "process clients in parallel across this many engines")
	cmd.Flags().StringVar(&processDuplicates, "duplicates", "", "duplicate tx id policy: reject or overwrite")
}

func runProcess(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyProcessFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	out := cmd.OutOrStdout()
	if cfg.Output.Path != "" {
		f, cerr := os.Create(cfg.Output.Path)
		if cerr != nil {
			return fmt.Errorf("create output: %w", cerr)
		}
		defer closeOutput(f, &err)
		out = f
	}

	_, err = processFile(cmd.Context(), cfg, args[0], out, logger)
	return err
}

// closeOutput closes c, reporting its error through err unless err is
// already set.
func closeOutput(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close output: %w", cerr)
	}
}

func applyProcessFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output.Path = processOutput
	}
	if flags.Changed("journal") {
		cfg.Journal.Type = processJournal
	}
	if flags.Changed("db") {
		cfg.Journal.DBPath = processDB
	}
	if flags.Changed("shards") {
		cfg.Engine.Shards = processShards
	}
	if flags.Changed("duplicates") {
		cfg.Engine.DuplicatePolicy = processDuplicates
	}
}

// processFile runs the CSV at path through the engine and writes the
// balances CSV to out.
func processFile(ctx context.Context, cfg *config.Config, path string, out io.Writer, logger *zap.Logger) (processor.Report, error) {
	reader, err := csvio.Open(path)
	if err != nil {
		return processor.Report{}, fmt.Errorf("open transactions: %w", err)
	}
	defer reader.Close()

	reader.OnError = func(err *csvio.RowError) {
		logger.Warn("malformed row skipped", zap.String("file", path), zap.Int("line", err.Line), zap.Error(err.Err))
	}

	journal, closeJournal, err := openJournal(cfg)
	if err != nil {
		return processor.Report{}, err
	}
	defer closeJournal()

	report, balances, err := processor.RunSharded(ctx, reader, cfg.Engine.Shards, processor.Options{
		Logger:     logger,
		Journal:    journal,
		SourceName: path,
	}, cfg.EngineOptions(logger)...)
	if err != nil {
		return report, err
	}

	if err := csvio.WriteBalances(out, balances); err != nil {
		return report, fmt.Errorf("write balances: %w", err)
	}
	return report, nil
}

// openJournal returns the journal selected by cfg and a func releasing it.
// The journal is nil for type "none".
func openJournal(cfg *config.Config) (payment.Journal, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Journal.Type {
	case config.JournalMemory:
		return store.NewMemory(), noop, nil
	case config.JournalSQLite:
		db, err := sqlite.New(cfg.Journal.DBPath)
		if err != nil {
			return nil, noop, fmt.Errorf("open journal: %w", err)
		}
		return db, db.Close, nil
	default:
		return nil, noop, nil
	}
}
