package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/lucasnoah/espflow/internal/fsstore"
)

// Level names as they appear in workflow.log.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// LoggerName is the "logger" field of structured log entries.
const LoggerName = "workflow"

// Log appends message to logs/workflow.log and a structured entry carrying
// fields to logs/structured/workflow.jsonl. Reserved keys in fields are
// ignored.
func (s *Store) Log(ctx context.Context, level, message string, fields map[string]any) error {
	now := s.now()
	line := fmt.Sprintf("[%s] [%s] %s\n", now.Format("2006-01-02 15:04:05"), level, message)
	if err := fsstore.AppendLockedWith(ctx, filepath.Join(s.logsDir(), "workflow.log"), []byte(line), s.lockOpts); err != nil {
		return err
	}

	entry := make(map[string]any, len(fields)+5)
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = now.Format(time.RFC3339Nano)
	entry["level"] = level
	entry["message"] = message
	entry["logger"] = LoggerName
	entry["project_root"] = s.projectRoot

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')
	return fsstore.AppendLockedWith(ctx, filepath.Join(s.logsDir(), "structured", "workflow.jsonl"), data, s.lockOpts)
}

// LogHandler is an slog.Handler that writes records through Store.Log.
type LogHandler struct {
	store  *Store
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewLogHandler returns a handler logging records at or above level.
func NewLogHandler(store *Store, level slog.Leveler) *LogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{store: store, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(fields, "", a)
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, prefix, a)
		return true
	})
	return h.store.Log(ctx, levelName(r.Level), r.Message, fields)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = slices.Clone(h.attrs)
	prefix := groupPrefix(h.groups)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(slices.Clone(h.groups), name)
	return &h2
}

func groupPrefix(groups []string) string {
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}

func addAttr(fields map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(fields, p, ga)
		}
		return
	}
	switch x := v.Any().(type) {
	case error:
		fields[prefix+a.Key] = x.Error()
	case time.Duration:
		fields[prefix+a.Key] = x.String()
	default:
		fields[prefix+a.Key] = x
	}
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarning
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}
