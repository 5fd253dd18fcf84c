package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the run ledger",
	Long: `Query the run ledger: every stage run, checker report and workflow
event, mirrored into SQLite (default, <state_dir>/ledger.db) or PostgreSQL
(ledger.driver: postgres). The JSON state directory stays authoritative.`,
}

// openLedgerApp is newApp for ledger commands, where a missing ledger is
// an error rather than a warning.
func openLedgerApp(cmd *cobra.Command) (*app, func(), error) {
	a, cleanup, err := newApp(cmd)
	if err != nil {
		return nil, nil, err
	}
	if a.ledger == nil {
		cleanup()
		return nil, nil, fmt.Errorf("run ledger unavailable (driver %q)", a.cfg.Ledger.Driver)
	}
	return a, cleanup, nil
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}

var ledgerRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded stage runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openLedgerApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stageName, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := a.ledger.ListRuns(cmd.Context(), stageName, limit)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			printJSON(cmd.OutOrStdout(), runs)
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-10s %-7s %-5s %-9s %s\n", "RUN", "STAGE", "OK", "EXIT", "DURATION", "TIMESTAMP")
		for _, r := range runs {
			fmt.Fprintf(w, "%-36s %-10s %-7t %-5d %-9s %s\n",
				r.RunID, r.Stage, r.Success, r.ExitCode, fmt.Sprintf("%.1fs", r.DurationSeconds), r.Timestamp)
		}
		return nil
	},
}

var ledgerChecksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List recorded checker reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openLedgerApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stageName, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")
		rows, err := a.ledger.ListChecks(cmd.Context(), stageName, limit)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			printJSON(cmd.OutOrStdout(), rows)
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-10s %-20s %-8s %-28s %s\n", "STAGE", "CHECKER", "RESULT", "TIMESTAMP", "MESSAGE")
		for _, c := range rows {
			fmt.Fprintf(w, "%-10s %-20s %-8s %-28s %s\n", c.Stage, c.Checker, c.Result, c.Timestamp, c.Message)
		}
		return nil
	},
}

var ledgerEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded workflow events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openLedgerApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stageName, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := a.ledger.ListEvents(cmd.Context(), stageName, limit)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			printJSON(cmd.OutOrStdout(), events)
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-28s %-10s %-10s %s\n", "TIMESTAMP", "EVENT", "STAGE", "DETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%-28s %-10s %-10s %s\n", e.Timestamp, e.Event, e.Stage, e.Detail)
		}
		return nil
	},
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise runs, failures and average duration per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openLedgerApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := a.ledger.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			printJSON(cmd.OutOrStdout(), stats)
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-10s %-6s %-9s %s\n", "STAGE", "RUNS", "FAILURES", "AVG")
		for _, s := range stats {
			fmt.Fprintf(w, "%-10s %-6d %-9d %.1fs\n", s.Stage, s.Runs, s.Failures, s.AvgDuration)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ledgerRunsCmd, ledgerChecksCmd, ledgerEventsCmd} {
		c.Flags().String("stage", "", "only this stage")
		c.Flags().Int("limit", 20, "maximum rows (0 for all)")
	}
	for _, c := range []*cobra.Command{ledgerRunsCmd, ledgerChecksCmd, ledgerEventsCmd, ledgerStatsCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
		ledgerCmd.AddCommand(c)
	}
}
