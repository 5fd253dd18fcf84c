package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/espflow/internal/web"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the local web dashboard",
	Long: `Start a read-only browser dashboard on localhost showing stage status,
recent executions and the run ledger.

The page reloads when any process records a stage result in the state
directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		var runs web.RunLister
		if a.ledger != nil {
			runs = a.ledger
		}
		fmt.Fprintf(cmd.OutOrStdout(), "espflow dashboard at http://localhost:%d\n", port)
		return web.NewServer(a.engine, runs, fmt.Sprintf(":%d", port), a.logger).Start(cmd.Context())
	},
}

func init() {
	dashboardCmd.Flags().Int("port", 8080, "Port to listen on")
}
