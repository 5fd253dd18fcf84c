package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lucasnoah/espflow/internal/workflow"
)

const (
	ToolStatus   = "esp_workflow_status"
	ToolList     = "esp_workflow_list"
	ToolNext     = "esp_workflow_next"
	ToolStart    = "esp_workflow_start"
	ToolRun      = "esp_workflow_run"
	ToolValidate = "esp_workflow_validate"
	ToolComplete = "esp_workflow_complete"
	ToolSkip     = "esp_workflow_skip"
	ToolHistory  = "esp_workflow_history"
	ToolLog      = "esp_workflow_log"
	ToolCheck    = "esp_check"
	ToolGuide    = "esp_workflow_guide"
)

const defaultHistoryLimit = 10

func stageArg() mcp.ToolOption {
	return mcp.WithString("stage",
		mcp.Required(),
		mcp.Description(`Stage name, e.g. "init", "config", "build"`),
	)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Show workflow progress: completed stages, current stage and completion percentage."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool(ToolList,
		mcp.WithDescription("List all workflow stages in dependency order with tasks, dependencies and checkers."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool(ToolNext,
		mcp.WithDescription("Get the next pending stage whose dependencies are all completed."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleNext)

	s.mcp.AddTool(mcp.NewTool(ToolStart,
		mcp.WithDescription("Mark a stage in progress. Fails if its dependencies are not completed."),
		stageArg(),
	), s.handleStart)

	s.mcp.AddTool(mcp.NewTool(ToolRun,
		mcp.WithDescription("Start a stage, run its idf.py command, record the output and validate it."),
		stageArg(),
	), s.handleRun)

	s.mcp.AddTool(mcp.NewTool(ToolValidate,
		mcp.WithDescription("Run the checkers bound to a stage. Any failing checker marks the stage failed."),
		stageArg(),
	), s.handleValidate)

	s.mcp.AddTool(mcp.NewTool(ToolComplete,
		mcp.WithDescription("Force-mark a stage completed without running checkers."),
		stageArg(),
	), s.handleComplete)

	s.mcp.AddTool(mcp.NewTool(ToolSkip,
		mcp.WithDescription("Mark a stage skipped. Skipped stages do not satisfy dependencies."),
		stageArg(),
	), s.handleSkip)

	s.mcp.AddTool(mcp.NewTool(ToolHistory,
		mcp.WithDescription("Show recent stage executions, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return"), mcp.DefaultNumber(defaultHistoryLimit)),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleHistory)

	s.mcp.AddTool(mcp.NewTool(ToolLog,
		mcp.WithDescription("Show the recorded command transcript of a stage's last run."),
		stageArg(),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleLog)

	s.mcp.AddTool(mcp.NewTool(ToolCheck,
		mcp.WithDescription("Run a single checker by name, e.g. project_structure, target_config, build_artifacts."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Checker name")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleCheck)

	s.mcp.AddTool(mcp.NewTool(ToolGuide,
		mcp.WithDescription("Usage guide for the workflow tools."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGuide)
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mcp.NewToolResultText(formatStatus(s.engine.Progress(), s.engine.Stages())), nil
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mcp.NewToolResultText(formatList(s.engine.Stages())), nil
}

func (s *Server) handleNext(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.engine.Next()
	if !ok {
		if s.engine.Progress().Completed == s.engine.Catalog().Len() {
			return mcp.NewToolResultText("All stages completed! Workflow finished."), nil
		}
		return mcp.NewToolResultText(formatBlocked(s.engine.State())), nil
	}
	return mcp.NewToolResultText(formatNext(next)), nil
}

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return outcomeResult(name, s.engine.Start(ctx, name)), nil
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.engine.Run(ctx, name, s.runner)
	if err != nil {
		s.logger.Error("run stage", "stage", name, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Outcome.Err != nil {
		return outcomeResult(name, res.Outcome), nil
	}
	text := formatRun(name, res)
	if !res.Outcome.OK {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	gate, out := s.engine.Validate(ctx, name)
	if out.Err != nil {
		return outcomeResult(name, out), nil
	}
	if st, _ := s.engine.Catalog().Get(name); len(st.Command) == 0 {
		if _, err := s.engine.RecordValidation(ctx, name, gate); err != nil {
			s.logger.Error("record validation", "stage", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if len(gate.Reports) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No checkers found for stage '%s'. Stage marked completed.", name)), nil
	}
	return mcp.NewToolResultText(formatValidation(name, gate)), nil
}

func (s *Server) handleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return outcomeResult(name, s.engine.Complete(ctx, name)), nil
}

func (s *Server) handleSkip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return outcomeResult(name, s.engine.Skip(ctx, name)), nil
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultHistoryLimit)
	s.mu.Lock()
	defer s.mu.Unlock()
	return mcp.NewToolResultText(formatHistory(s.engine.Store().History(ctx), limit)), nil
}

func (s *Server) handleLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := s.engine.Transcript(name)
	if err != nil {
		if errors.Is(err, workflow.ErrStageNotFound) {
			return mcp.NewToolResultError(notFoundGuidance(name, s.engine.Catalog().Names())), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("No output recorded for stage '%s'. Run it with %s first.", name, ToolRun)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.engine.Registry().Run(ctx, name, s.engine.Store().ProjectRoot())
	text := formatReport(rep)
	if rep.IsFail() {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleGuide(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mcp.NewToolResultText(guide(s.engine.Stages())), nil
}

// outcomeResult turns a refused transition into a tool error that tells
// the agent what to do next.
func outcomeResult(name string, out workflow.Outcome) *mcp.CallToolResult {
	switch {
	case out.OK:
		return mcp.NewToolResultText(out.Message)
	case errors.Is(out.Err, workflow.ErrDependenciesUnsatisfied):
		steps := make([]string, len(out.Missing))
		for i, m := range out.Missing {
			steps[i] = fmt.Sprintf("run stage %s before %s", m, name)
		}
		return mcp.NewToolResultError(out.Message + ". Next: " + strings.Join(steps, "; ") + ".")
	case errors.Is(out.Err, workflow.ErrStageNotFound):
		return mcp.NewToolResultError(out.Message + ". Call " + ToolList + " to see the available stages.")
	case errors.Is(out.Err, workflow.ErrAlreadyCompleted):
		return mcp.NewToolResultError(out.Message + ". Call " + ToolNext + " for the next stage.")
	default:
		return mcp.NewToolResultError(out.Message)
	}
}

func notFoundGuidance(name string, names []string) string {
	return fmt.Sprintf("stage %q not found. Available stages: %s", name, strings.Join(names, ", "))
}
