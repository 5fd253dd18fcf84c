package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lucasnoah/espflow/internal/db"
	"github.com/lucasnoah/espflow/internal/state"
	"github.com/lucasnoah/espflow/internal/workflow"
)

// DashboardView is the data behind the dashboard page.
type DashboardView struct {
	ProjectRoot string
	Progress    workflow.Progress
	Stages      []workflow.StageView
	Next        string
	History     []state.HistoryEntry
	Runs        []db.StageRun
}

// snapshot reconciles the engine with disk and captures what the
// dashboard shows.
func (s *Server) snapshot(r *http.Request, historyLimit int) DashboardView {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	s.engine.Reconcile(ctx)
	v := DashboardView{
		ProjectRoot: s.engine.Store().ProjectRoot(),
		Progress:    s.engine.Progress(),
		Stages:      s.engine.Stages(),
		History:     newestFirst(s.engine.Store().History(ctx), historyLimit),
	}
	if next, ok := s.engine.Next(); ok {
		v.Next = next.Name
	}
	if s.runs != nil {
		runs, err := s.runs.ListRuns(ctx, "", historyLimit)
		if err != nil {
			s.logger.Warn("dashboard: list ledger runs", "error", err)
		}
		v.Runs = runs
	}
	return v
}

func newestFirst(entries []state.HistoryEntry, limit int) []state.HistoryEntry {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]state.HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	v := s.snapshot(r, 20)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.dashboardTmpl.ExecuteTemplate(w, "dashboard", v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v := s.snapshot(r, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"project_root": v.ProjectRoot,
		"progress":     v.Progress,
		"stages":       v.Stages,
		"next":         v.Next,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	v := s.snapshot(r, limit)
	writeJSON(w, http.StatusOK, v.History)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.engine.Catalog().Get(name); !ok {
		http.Error(w, fmt.Sprintf("stage %q not found", name), http.StatusNotFound)
		return
	}
	ctx := r.Context()
	s.engine.Refresh(ctx, name)
	status, _ := s.engine.Status(name)
	resp := map[string]any{"stage": name, "status": status}
	if out, found := s.engine.Output(ctx, name); found {
		resp["output"] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	text, err := s.engine.Transcript(name)
	s.mu.Unlock()

	switch {
	case errors.Is(err, workflow.ErrStageNotFound):
		http.Error(w, fmt.Sprintf("stage %q not found", name), http.StatusNotFound)
	case err != nil:
		http.Error(w, fmt.Sprintf("no transcript recorded for %s", name), http.StatusNotFound)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, text)
	}
}
