package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/espflow/internal/checks"
)

var checkCmd = &cobra.Command{
	Use:   "check [checker]",
	Short: "Run a single checker against the project",
	Long: `Run one checker by name without changing any stage status. With no
arguments, list the registered checkers and the stages they are bound to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		reg := a.engine.Registry()
		w := cmd.OutOrStdout()
		if len(args) == 0 {
			for _, name := range reg.Names() {
				c, _ := reg.Get(name)
				fmt.Fprintf(w, "%-20s %s\n", name, c.Stage())
			}
			return nil
		}

		rep := reg.Run(cmd.Context(), args[0], a.cfg.ProjectRoot)
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(w, string(data))
		} else {
			printReports(cmd, []checks.Report{rep})
		}
		if rep.IsFail() {
			return fmt.Errorf("check %q failed", args[0])
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().String("format", "text", "Output format: text or json")
}
