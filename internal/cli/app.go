package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/espflow/internal/checks"
	"github.com/lucasnoah/espflow/internal/config"
	"github.com/lucasnoah/espflow/internal/db"
	"github.com/lucasnoah/espflow/internal/db/postgres"
	"github.com/lucasnoah/espflow/internal/executor"
	"github.com/lucasnoah/espflow/internal/stage"
	"github.com/lucasnoah/espflow/internal/state"
	"github.com/lucasnoah/espflow/internal/workflow"
)

// ledger is the queryable run ledger behind the "ledger" commands.
type ledger interface {
	workflow.Recorder
	ListRuns(ctx context.Context, stage string, limit int) ([]db.StageRun, error)
	ListChecks(ctx context.Context, stage string, limit int) ([]db.CheckRun, error)
	ListEvents(ctx context.Context, stage string, limit int) ([]db.WorkflowEvent, error)
	Stats(ctx context.Context) ([]db.StageStats, error)
	Close() error
}

type pgLedger struct{ *postgres.Store }

func (l pgLedger) Close() error {
	l.Store.Close()
	return nil
}

// app is everything a workflow command needs, built from the resolved
// configuration.
type app struct {
	cfg      *config.Config
	store    *state.Store
	engine   *workflow.Engine
	executor *executor.Executor
	ledger   ledger
	logger   *slog.Logger
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault(projectDir)
}

// diagLogger writes diagnostics to stderr; stdout stays clean for command
// output and the MCP protocol.
func diagLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger, error) {
	switch cfg.Ledger.Driver {
	case "none":
		return nil, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Ledger.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return pgLedger{s}, nil
	default:
		d, err := db.Open(cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		if err := d.Migrate(); err != nil {
			d.Close()
			return nil, err
		}
		return d, nil
	}
}

// newApp loads config, reconciles the engine with the state directory
// and opens the ledger. A ledger that cannot be opened is logged and
// skipped; the state directory alone is enough to run the workflow.
func newApp(cmd *cobra.Command) (*app, func(), error) {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration: %s (run 'espflow config validate')", errs[0])
	}
	catalog, err := stage.FromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("stage catalog: %w", err)
	}

	logger := diagLogger(cmd.ErrOrStderr())
	store := state.NewStore(cfg.StateDir, cfg.ProjectRoot)
	store.SetLogger(logger)

	registry := checks.DefaultRegistry().RegisterFileChecks(cfg.Checks)
	exec := executor.New(nil, cfg)
	exec.SetProgress(cmd.ErrOrStderr())

	opts := []workflow.Option{
		workflow.WithLogger(slog.New(state.NewLogHandler(store, slog.LevelInfo))),
		workflow.WithProgress(cmd.ErrOrStderr()),
	}
	l, err := openLedger(ctx, cfg, logger)
	if err != nil {
		logger.Warn("run ledger unavailable", "driver", cfg.Ledger.Driver, "error", err)
		l = nil
	}
	if l != nil {
		opts = append(opts, workflow.WithRecorder(l))
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		engine:   workflow.New(ctx, catalog, registry, store, opts...),
		executor: exec,
		ledger:   l,
		logger:   logger,
	}
	cleanup := func() {
		if a.ledger != nil {
			a.ledger.Close()
		}
	}
	return a, cleanup, nil
}
