// Package web serves a read-only browser dashboard of the workflow state
// directory, with live updates when any process records a stage result.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucasnoah/espflow/internal/db"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/workflow"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(status stage.Status) string {
		return "badge badge-" + strings.ReplaceAll(string(status), "_", "-")
	},
	"passClass": func(passed bool) string {
		if passed {
			return "result-pass"
		}
		return "result-fail"
	},
	"relTime": relTime,
	"join":    strings.Join,
}

// RunLister is the part of the run ledger the dashboard shows.
type RunLister interface {
	ListRuns(ctx context.Context, stage string, limit int) ([]db.StageRun, error)
}

// Server is the read-only web UI server. The engine is reconciled with the
// state directory before every read, so the page reflects writes from the
// CLI and the MCP server.
type Server struct {
	mu     sync.Mutex
	engine *workflow.Engine
	runs   RunLister
	addr   string
	logger *slog.Logger

	dashboardTmpl *template.Template

	subMu sync.Mutex
	subs  map[chan string]struct{}
}

// NewServer creates a Server with parsed templates. runs may be nil.
func NewServer(engine *workflow.Engine, runs RunLister, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:        engine,
		runs:          runs,
		addr:          addr,
		logger:        logger,
		dashboardTmpl: mustParseTmpl("dashboard.html"),
		subs:          make(map[chan string]struct{}),
	}
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/stages/{name}", s.handleStage)
	mux.HandleFunc("GET /api/stages/{name}/log", s.handleLog)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// Start serves until ctx is cancelled, watching the state directory for
// changes to push to connected browsers.
func (s *Server) Start(ctx context.Context) error {
	watcher, err := workflow.NewWatcher(
		filepath.Join(s.engine.Store().BaseDir(), "stages"), s.publish, s.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()
	go watcher.Run(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", "url", fmt.Sprintf("http://localhost%s", s.addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// publish fans a changed stage name out to every /events subscriber. Slow
// subscribers miss notifications rather than block the watcher.
func (s *Server) publish(stage string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- stage:
		default:
		}
	}
}

func (s *Server) subscribe() chan string {
	ch := make(chan string, 8)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan string) {
	s.subMu.Lock()
	delete(s.subs, ch)
	s.subMu.Unlock()
}

func relTime(ts string) string {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
