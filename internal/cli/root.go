package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	projectDir string
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "espflow",
	Short: "A stage-gated workflow for ESP-IDF projects",
	Long: `espflow moves an ESP-IDF project through dependent stages
(init, config, build, flash, monitor), runs each stage's idf.py command and
gates completion on checkers.

All state is stored in <project>/.espflow/ (JSON for stage outputs and
history, plus a SQLite or PostgreSQL run ledger). "espflow serve" exposes the
same workflow to agents as MCP tools.`,
	SilenceUsage: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", "", "ESP-IDF project root (default: $ESPFLOW_PROJECT_ROOT or current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "path to an espflow.yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(skipCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dashboardCmd)
}
