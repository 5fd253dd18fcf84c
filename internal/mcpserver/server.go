// Package mcpserver exposes the workflow engine as MCP tools over stdio.
package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/lucasnoah/espflow/internal/workflow"
)

const serverName = "espflow"

// Server serialises every engine call behind one mutex. Stage commands
// run while the lock is held, so a long build blocks status queries
// until it finishes.
type Server struct {
	mu      sync.Mutex
	engine  *workflow.Engine
	runner  workflow.StageRunner
	logger  *slog.Logger
	version string

	mcp *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New builds the server and registers its tools.
func New(engine *workflow.Engine, runner workflow.StageRunner, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		runner:  runner,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = server.NewMCPServer(serverName, s.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("ESP-IDF workflow state engine. Call esp_workflow_guide first."),
	)
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Refresh re-reads one stage from disk.
func (s *Server) Refresh(ctx context.Context, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Refresh(ctx, stage)
}

// Watch refreshes the engine whenever another process writes a stage
// status file. It returns when ctx is cancelled.
func (s *Server) Watch(ctx context.Context) error {
	dir := filepath.Join(s.engine.Store().BaseDir(), "stages")
	w, err := workflow.NewWatcher(dir, func(stage string) {
		s.logger.Debug("stage changed on disk", "stage", stage)
		s.Refresh(ctx, stage)
	}, s.logger)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)
}

// ServeStdio serves MCP over stdin/stdout, watching the state directory
// in the background.
func (s *Server) ServeStdio(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := s.Watch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("state watcher stopped", "error", err)
		}
	}()
	s.logger.Info("mcp server starting", "project_root", s.engine.Store().ProjectRoot())
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}
