package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the per-project config file looked up by LoadDefault.
const FileName = "espflow.yaml"

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills in defaults for anything left unset; a missing
// project_root means the directory holding the file.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = filepath.Dir(path)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default(projectRoot string) *Config {
	cfg := &Config{ProjectRoot: projectRoot}
	applyDefaults(cfg)
	return cfg
}

// LoadDefault resolves the configuration for projectRoot. Search order:
// <root>/espflow.yaml, ~/.espflow/config.yaml, then built-in defaults.
// A .env file in the root is loaded first (without overriding variables
// already set) and ESPFLOW_* variables are applied last.
func LoadDefault(projectRoot string) (*Config, error) {
	if projectRoot == "" {
		projectRoot = os.Getenv("ESPFLOW_PROJECT_ROOT")
	}
	if projectRoot == "" {
		projectRoot = "."
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	envFile := filepath.Join(root, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	candidates := []string{filepath.Join(root, FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".espflow", "config.yaml"))
	}

	cfg := &Config{}
	for i, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err = parse(path)
		if err != nil {
			return nil, err
		}
		// A home-level file holds defaults, not a project location.
		if i > 0 {
			cfg.ProjectRoot = ""
			cfg.StateDir = ""
		}
		break
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = root
	} else if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(root, cfg.ProjectRoot)
	}
	applyDefaults(cfg)

	applyEnv(cfg)
	return cfg, nil
}

// applyDefaults fills unset fields and resolves state_dir against the
// project root.
func applyDefaults(cfg *Config) {
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = "."
	}
	if abs, err := filepath.Abs(cfg.ProjectRoot); err == nil {
		cfg.ProjectRoot = abs
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".espflow"
	}
	if !filepath.IsAbs(cfg.StateDir) {
		cfg.StateDir = filepath.Join(cfg.ProjectRoot, cfg.StateDir)
	}
	if cfg.IDFPy == "" {
		cfg.IDFPy = "idf.py"
	}
	if cfg.Target == "" {
		cfg.Target = "esp32"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = "sqlite"
	}
	if cfg.Ledger.Driver == "sqlite" && cfg.Ledger.DSN == "" {
		cfg.Ledger.DSN = filepath.Join(cfg.StateDir, "ledger.db")
	}
}

// applyEnv overrides file values with ESPFLOW_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ESPFLOW_PROJECT_ROOT"); v != "" {
		if abs, err := filepath.Abs(v); err == nil {
			cfg.ProjectRoot = abs
		}
	}
	if v := os.Getenv("ESPFLOW_STATE_DIR"); v != "" {
		if !filepath.IsAbs(v) {
			v = filepath.Join(cfg.ProjectRoot, v)
		}
		if cfg.Ledger.DSN == filepath.Join(cfg.StateDir, "ledger.db") {
			cfg.Ledger.DSN = filepath.Join(v, "ledger.db")
		}
		cfg.StateDir = v
	}
	if v := os.Getenv("ESPFLOW_IDF_PY"); v != "" {
		cfg.IDFPy = v
	}
	if v := os.Getenv("ESPFLOW_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := os.Getenv("ESPFLOW_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("ESPFLOW_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Baud = n
		}
	}
	if v := os.Getenv("ESPFLOW_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("ESPFLOW_LEDGER_DSN"); v != "" {
		cfg.Ledger.DSN = v
	}
}
