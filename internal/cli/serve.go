package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/espflow/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow as MCP tools over stdio",
	Long: `Serve the workflow to an MCP client (an AI agent) over stdin/stdout.

The server keeps one engine for the whole session and watches the state
directory, so stages run from the espflow CLI in another terminal show up
immediately. Diagnostics go to stderr and to <state_dir>/logs/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		srv := mcpserver.New(a.engine, a.executor,
			mcpserver.WithLogger(a.logger),
			mcpserver.WithVersion(version),
		)
		return srv.ServeStdio(cmd.Context())
	},
}
