package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/workflow"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	statusDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	statusSkipped  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	statusColWidth = 13
)

func statusStyle(s stage.Status) lipgloss.Style {
	switch s {
	case stage.StatusCompleted:
		return statusDone
	case stage.StatusFailed:
		return statusFailed
	case stage.StatusInProgress:
		return statusRunning
	case stage.StatusSkipped:
		return statusSkipped
	default:
		return statusPending
	}
}

// statusReport is the JSON shape of "espflow status --format json".
type statusReport struct {
	ProjectRoot string               `json:"project_root"`
	Progress    workflow.Progress    `json:"progress"`
	Next        string               `json:"next,omitempty"`
	Stages      []workflow.StageView `json:"stages"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflow progress and per-stage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		rep := statusReport{
			ProjectRoot: a.cfg.ProjectRoot,
			Progress:    a.engine.Progress(),
			Stages:      a.engine.Stages(),
		}
		if next, ok := a.engine.Next(); ok {
			rep.Next = next.Name
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		renderStatus(cmd.OutOrStdout(), rep)
		return nil
	},
}

func renderStatus(w io.Writer, rep statusReport) {
	p := rep.Progress
	fmt.Fprintln(w, headerStyle.Render("ESP-IDF Workflow Status"))
	fmt.Fprintln(w, detailStyle.Render(rep.ProjectRoot))
	fmt.Fprintf(w, "Progress: %.1f%% (%d/%d completed", p.Percent, p.Completed, p.Total)
	if p.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", p.Failed)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-*s %-10s %s\n", statusColWidth, "STATUS", "STAGE", "DESCRIPTION")
	fmt.Fprintf(w, "%s %s %s\n", strings.Repeat("-", statusColWidth), strings.Repeat("-", 10), strings.Repeat("-", 11))
	for _, s := range rep.Stages {
		label := fmt.Sprintf("%-*s", statusColWidth, s.Status)
		fmt.Fprintf(w, "%s %-10s %s\n", statusStyle(s.Status).Render(label), s.Name, s.Description)
	}
	if rep.Next != "" {
		fmt.Fprintf(w, "\nNext: %s\n", rep.Next)
	}
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
