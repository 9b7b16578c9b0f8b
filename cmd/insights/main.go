package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"sales-insight/internal/config"
	"sales-insight/internal/observability"
)

var version = "dev"

var (
	configPath   string
	historyLimit int
)

var rootCmd = &cobra.Command{
	Use:   "insights",
	Short: "Periodic e-commerce sales analysis with written summaries",
	Long: `insights analyzes a rolling window of sales transactions on a fixed
interval, asks a text-generation service for a short written summary, and
publishes the result as a single JSON snapshot for dashboards to read.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the dashboard HTTP server until interrupted",
	RunE:  runServe,
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Perform a single analysis run and exit",
	Long: `Performs one run against the configured window. Exits non-zero when the
run fails; a missing narrative is not a failure.`,
	RunE: runOnce,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the current snapshot document",
	RunE:  printSnapshot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (environment variables override it)")
	snapshotCmd.Flags().IntVar(&historyLimit, "history", 0, "Print the N most recent history entries instead")

	rootCmd.AddCommand(serveCmd, runOnceCmd, snapshotCmd)
}

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return nil, nil, err
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func printSnapshot(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	return writeSnapshot(cmd.OutOrStdout(), cfg, historyLimit, logger)
}

func versionString() string {
	return fmt.Sprintf("sales-insight %s", version)
}
