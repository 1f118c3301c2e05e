package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stonecat/internal/app"
	"github.com/JonMunkholm/stonecat/internal/config"
	"github.com/JonMunkholm/stonecat/internal/logging"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "stonecat",
	Short: "Bulk import and export for the stone catalog",
	Long: `stonecat loads catalog entities from CSV files and exports them back out.

Every import and export is recorded in the operation log shared with the
HTTP server. Settings come from the environment (or a .env file), the same
variables the server reads.

Examples:
  stonecat template products -o products.csv
  stonecat validate products products.csv
  stonecat import hierarchy stones.csv --hierarchy-mode strict
  stonecat export variants --format json -o variants.json
  stonecat logs list --operation import`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(logsCmd)
}

// openApp loads configuration and wires the service. Logs go to stderr so
// command output stays clean.
func openApp(ctx context.Context) (*app.App, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.Setup(os.Stderr, level, cfg.Logging.Format)
	return app.Open(ctx, cfg, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
