package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent stage executions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		limit, _ := cmd.Flags().GetInt("limit")
		entries := a.store.History(cmd.Context())
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(entries, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(w, "No stage executions recorded yet.")
			return nil
		}
		fmt.Fprintf(w, "%-30s %-10s %-8s %-5s %s\n", "TIMESTAMP", "STAGE", "RESULT", "EXIT", "DURATION")
		for _, e := range entries {
			result := "ok"
			if !e.Success {
				result = "FAILED"
			}
			fmt.Fprintf(w, "%-30s %-10s %-8s %-5d %.1fs\n", e.Timestamp, e.Stage, result, e.ExitCode, e.Duration)
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log [stage]",
	Short: "Print the transcript of a stage's last run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		text, err := a.engine.Transcript(args[0])
		if err != nil {
			return fmt.Errorf("no transcript for %s: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum entries to show (0 for all)")
	historyCmd.Flags().String("format", "text", "Output format: text or json")
}
