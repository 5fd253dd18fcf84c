package state

import (
	"encoding/json"
	"fmt"
	"math"
)

// StageOutput is the durable record of one execution attempt of a stage.
type StageOutput struct {
	Stage           string         `json:"stage"`
	Timestamp       string         `json:"timestamp"`
	Success         bool           `json:"success"`
	Command         string         `json:"command"`
	Stdout          string         `json:"stdout"`
	Stderr          string         `json:"stderr"`
	ExitCode        int            `json:"exit_code"`
	DurationSeconds float64        `json:"duration_seconds"`
	Artifacts       []string       `json:"artifacts"`
	Metadata        map[string]any `json:"metadata"`
}

// ToMap returns the output as a generic map keyed by its JSON field names.
// Slices and the metadata map are copied; metadata values are kept as is.
func (o StageOutput) ToMap() map[string]any {
	return map[string]any{
		"stage":            o.Stage,
		"timestamp":        o.Timestamp,
		"success":          o.Success,
		"command":          o.Command,
		"stdout":           o.Stdout,
		"stderr":           o.Stderr,
		"exit_code":        o.ExitCode,
		"duration_seconds": o.DurationSeconds,
		"artifacts":        cloneStrings(o.Artifacts),
		"metadata":         cloneMetadata(o.Metadata),
	}
}

// StageOutputFromMap is the inverse of ToMap. It also accepts maps decoded
// from JSON, where numbers are float64 or json.Number and lists are []any.
// Missing keys leave the zero value; a value of the wrong type is an error.
func StageOutputFromMap(m map[string]any) (StageOutput, error) {
	var o StageOutput
	var err error
	if o.Stage, err = mapString(m, "stage"); err != nil {
		return StageOutput{}, err
	}
	if o.Timestamp, err = mapString(m, "timestamp"); err != nil {
		return StageOutput{}, err
	}
	if o.Command, err = mapString(m, "command"); err != nil {
		return StageOutput{}, err
	}
	if o.Stdout, err = mapString(m, "stdout"); err != nil {
		return StageOutput{}, err
	}
	if o.Stderr, err = mapString(m, "stderr"); err != nil {
		return StageOutput{}, err
	}
	if v, ok := m["success"]; ok && v != nil {
		b, isBool := v.(bool)
		if !isBool {
			return StageOutput{}, fmt.Errorf("decode stage output: success: want bool, got %T", v)
		}
		o.Success = b
	}
	if o.ExitCode, err = mapInt(m, "exit_code"); err != nil {
		return StageOutput{}, err
	}
	if o.DurationSeconds, err = mapFloat(m, "duration_seconds"); err != nil {
		return StageOutput{}, err
	}
	if o.Artifacts, err = mapStrings(m, "artifacts"); err != nil {
		return StageOutput{}, err
	}
	switch v := m["metadata"].(type) {
	case nil:
	case map[string]any:
		o.Metadata = cloneMetadata(v)
	default:
		return StageOutput{}, fmt.Errorf("decode stage output: metadata: want map, got %T", v)
	}
	return o, nil
}

func mapString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("decode stage output: %s: want string, got %T", key, v)
	}
	return s, nil
}

func mapInt(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("decode stage output: %s: %v is not an integer", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("decode stage output: %s: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("decode stage output: %s: want number, got %T", key, v)
	}
}

func mapFloat(m map[string]any, key string) (float64, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("decode stage output: %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("decode stage output: %s: want number, got %T", key, v)
	}
}

func mapStrings(m map[string]any, key string) ([]string, error) {
	switch v := m[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return cloneStrings(v), nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("decode stage output: %s[%d]: want string, got %T", key, i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode stage output: %s: want list, got %T", key, v)
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HistoryEntry is one row of workflow/history.json.
type HistoryEntry struct {
	RunID     string  `json:"run_id"`
	Stage     string  `json:"stage"`
	Timestamp string  `json:"timestamp"`
	Success   bool    `json:"success"`
	ExitCode  int     `json:"exit_code"`
	Duration  float64 `json:"duration"`
}

// Summary is workflow/state.json: an audit trail, not the source of truth
// for stage status.
type Summary struct {
	ProjectRoot     string `json:"project_root"`
	CreatedAt       string `json:"created_at"`
	LastStage       string `json:"last_stage,omitempty"`
	LastUpdate      string `json:"last_update,omitempty"`
	StagesCompleted int    `json:"stages_completed"`
}
