package config

import "time"

// Config is the top-level configuration parsed from espflow.yaml.
type Config struct {
	ProjectRoot string               `yaml:"project_root"`
	StateDir    string               `yaml:"state_dir"`
	IDFPy       string               `yaml:"idf_py"`
	Target      string               `yaml:"target"`
	Port        string               `yaml:"port"`
	Baud        int                  `yaml:"baud"`
	Timeouts    map[string]string    `yaml:"timeouts"`
	Ledger      Ledger               `yaml:"ledger"`
	Stages      []StageDef           `yaml:"stages"`
	Checks      map[string]FileCheck `yaml:"checks"`
}

// Ledger selects where run records are mirrored. The JSON files under the
// state dir stay the source of truth either way.
type Ledger struct {
	Driver string `yaml:"driver"` // sqlite, postgres or none
	DSN    string `yaml:"dsn"`
}

// StageDef defines a single workflow stage. An empty stage list means the
// built-in ESP-IDF workflow.
type StageDef struct {
	Name      string         `yaml:"name"`
	Desc      string         `yaml:"desc"`
	Task      []string       `yaml:"task"`
	Checkers  []string       `yaml:"checkers"`
	DependsOn []string       `yaml:"depends_on"`
	Command   []string       `yaml:"command"`
	Timeout   string         `yaml:"timeout"`
	Capture   string         `yaml:"capture"` // run for this long, then stop; e.g. a serial monitor
	Metadata  map[string]any `yaml:"metadata"`
}

// FileCheck is a declarative checker that inspects one file in the project.
type FileCheck struct {
	Stage     string   `yaml:"stage"`
	Path      string   `yaml:"path"`
	Glob      string   `yaml:"glob"`
	Contains  []string `yaml:"contains"`
	OnMissing string   `yaml:"on_missing"` // fail (default) or warning
}

// defaultTimeouts are per-stage command limits in the absence of config.
var defaultTimeouts = map[string]time.Duration{
	"config":  60 * time.Second,
	"build":   600 * time.Second,
	"flash":   600 * time.Second,
	"monitor": 1200 * time.Second,
	"clean":   60 * time.Second,
	"size":    30 * time.Second,
	"default": 60 * time.Second,
}

// Timeout returns the command limit for stage: the configured value, then
// the built-in one, then the default.
func (c *Config) Timeout(stage string) time.Duration {
	for _, key := range []string{stage, "default"} {
		if raw, ok := c.Timeouts[key]; ok {
			if d, err := time.ParseDuration(raw); err == nil && d > 0 {
				return d
			}
		}
		if d, ok := defaultTimeouts[key]; ok {
			return d
		}
	}
	return defaultTimeouts["default"]
}
