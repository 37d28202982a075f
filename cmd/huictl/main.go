package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/viralforge/hui-ledger/internal/app/bootstrap"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "huictl",
	Short:         "Operate a hui pool ledger",
	Long:          "huictl migrates, audits and inspects a hui pool ledger deployment.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/default.yaml", "path to the service configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log runtime wiring")
	rootCmd.AddCommand(migrateCmd, auditCmd, poolCmd, historyCmd, unitsCmd, tokenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func cliLogger() *slog.Logger {
	level := pterm.LogLevelWarn
	if verbose {
		level = pterm.LogLevelInfo
	}
	return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(level)))
}

// openRuntime builds the same runtime the services use, logging through
// pterm instead of JSON.
func openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := cliLogger()
	slog.SetDefault(logger)
	if cfg.StorageDriver == bootstrap.StorageMemory {
		pterm.Warning.Println("memory storage: this process sees a fresh pool, not a running server's")
	}
	return bootstrap.Build(ctx, cfg, logger)
}
