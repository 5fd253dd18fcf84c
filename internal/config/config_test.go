package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
target: esp32s3
port: /dev/ttyUSB0
baud: 921600
timeouts:
  build: 15m
  default: 90s
ledger:
  driver: none
stages:
  - name: init
    desc: Project initialization and validation
    task:
      - Check project structure
    checkers: [project_structure]
  - name: config
    depends_on: [init]
    checkers: [target_config]
    command: ["{idf_py}", "set-target", "{target}"]
  - name: partitions
    depends_on: [config]
    checkers: [partition_table]
    command: ["{idf_py}", "partition-table"]
    timeout: 2m
checks:
  partition_table:
    stage: partitions
    path: partitions.csv
    contains: [nvs]
    on_missing: warning
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Target != "esp32s3" {
		t.Errorf("Target = %q, want %q", cfg.Target, "esp32s3")
	}
	if cfg.Baud != 921600 {
		t.Errorf("Baud = %d, want 921600", cfg.Baud)
	}
	if len(cfg.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(cfg.Stages))
	}
	if got := cfg.Stages[2].Command; len(got) != 2 || got[1] != "partition-table" {
		t.Errorf("partitions command = %v", got)
	}
	chk := cfg.Checks["partition_table"]
	if chk.Path != "partitions.csv" || chk.OnMissing != "warning" {
		t.Errorf("partition_table = %+v", chk)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected no validation errors, got %v", errs)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "port: /dev/ttyACM0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	root := filepath.Dir(path)
	if cfg.ProjectRoot != root {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, root)
	}
	if want := filepath.Join(root, ".espflow"); cfg.StateDir != want {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, want)
	}
	if cfg.IDFPy != "idf.py" {
		t.Errorf("IDFPy = %q, want idf.py", cfg.IDFPy)
	}
	if cfg.Ledger.Driver != "sqlite" {
		t.Errorf("Ledger.Driver = %q, want sqlite", cfg.Ledger.Driver)
	}
	if want := filepath.Join(root, ".espflow", "ledger.db"); cfg.Ledger.DSN != want {
		t.Errorf("Ledger.DSN = %q, want %q", cfg.Ledger.DSN, want)
	}
}

func TestTimeout(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	tests := []struct {
		stage string
		want  time.Duration
	}{
		{"build", 15 * time.Minute},
		{"flash", 600 * time.Second},
		{"monitor", 1200 * time.Second},
		{"init", 90 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Timeout(tt.stage); got != tt.want {
			t.Errorf("Timeout(%q) = %s, want %s", tt.stage, got, tt.want)
		}
	}

	if got := Default(t.TempDir()).Timeout("partitions"); got != time.Minute {
		t.Errorf("default Timeout = %s, want 1m", got)
	}
}

func TestValidateDuplicateStageNames(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, `
stages:
  - name: init
  - name: init
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	if !hasField(errs, "stages[1].name") {
		t.Errorf("expected duplicate name error, got %v", errs)
	}
}

func TestValidateUnknownReferences(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, `
stages:
  - name: build
    depends_on: [config]
    checkers: [lint]
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	if !hasField(errs, "stages[0].depends_on") {
		t.Error("expected error for undefined dependency")
	}
	if !hasField(errs, "stages[0].checkers") {
		t.Error("expected error for undefined checker")
	}
}

func TestValidateLedgerAndTimeouts(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, `
timeouts:
  build: soon
ledger:
  driver: mysql
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	if !hasField(errs, "ledger.driver") {
		t.Error("expected error for unrecognized ledger driver")
	}
	if !hasField(errs, "timeouts.build") {
		t.Error("expected error for bad duration")
	}

	cfg.Stages = []StageDef{{Name: "logs", Capture: "-5s"}}
	if !hasField(Validate(cfg), "stages[0].capture") {
		t.Errorf("expected error for negative capture, got %v", Validate(cfg))
	}

	cfg.Ledger.Driver = "postgres"
	cfg.Ledger.DSN = ""
	if !hasField(Validate(cfg), "ledger.dsn") {
		t.Error("expected error for postgres without dsn")
	}
}

func TestValidateFileChecks(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, `
checks:
  project_structure:
    path: CMakeLists.txt
  empty:
    on_missing: ignore
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	errs := Validate(cfg)
	for _, field := range []string{"checks.project_structure", "checks.empty", "checks.empty.on_missing"} {
		if !hasField(errs, field) {
			t.Errorf("expected validation error for %s, got %v", field, errs)
		}
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "not: [valid: yaml: !!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/espflow.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadDefaultWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ESPFLOW_PROJECT_ROOT", "")
	dir := t.TempDir()

	cfg, err := LoadDefault(dir)
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.ProjectRoot != dir {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, dir)
	}
	if len(cfg.Stages) != 0 {
		t.Errorf("expected no stages, got %d", len(cfg.Stages))
	}
}

func TestLoadDefaultEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := filepath.Dir(writeTestConfig(t, validConfig))
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ESPFLOW_PORT=/dev/ttyS9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ESPFLOW_PROJECT_ROOT", "")
	t.Setenv("ESPFLOW_TARGET", "esp32c3")
	t.Setenv("ESPFLOW_STATE_DIR", "state")
	// godotenv sets ESPFLOW_PORT process-wide; restore it after the test.
	t.Setenv("ESPFLOW_PORT", "")
	os.Unsetenv("ESPFLOW_PORT")

	cfg, err := LoadDefault(dir)
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Target != "esp32c3" {
		t.Errorf("Target = %q, want esp32c3 from env", cfg.Target)
	}
	if cfg.Port != "/dev/ttyS9" {
		t.Errorf("Port = %q, want /dev/ttyS9 from .env", cfg.Port)
	}
	if want := filepath.Join(dir, "state"); cfg.StateDir != want {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, want)
	}
}

func TestDetectProject(t *testing.T) {
	dir := t.TempDir()
	info := DetectProject(dir)
	if info.Valid {
		t.Fatal("empty dir should not be a valid project")
	}
	if !strings.Contains(info.Message, "CMakeLists.txt not found") {
		t.Errorf("Message = %q", info.Message)
	}

	os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte("add_executable(foo)\n"), 0644)
	info = DetectProject(dir)
	if info.Valid || len(info.Suggestions) == 0 {
		t.Errorf("non-IDF CMakeLists should be invalid with suggestions, got %+v", info)
	}

	os.WriteFile(filepath.Join(dir, "CMakeLists.txt"), []byte(
		"cmake_minimum_required(VERSION 3.16)\ninclude($ENV{IDF_PATH}/tools/cmake/project.cmake)\nproject(blink)\n"), 0644)
	info = DetectProject(dir)
	if !info.Valid {
		t.Errorf("expected valid project, got %q", info.Message)
	}
}

func TestDetectProjectSuggestsParent(t *testing.T) {
	parent := t.TempDir()
	os.WriteFile(filepath.Join(parent, "CMakeLists.txt"), []byte("cmake_minimum_required(VERSION 3.16)\n"), 0644)
	child := filepath.Join(parent, "main")
	os.Mkdir(child, 0755)

	info := DetectProject(child)
	found := false
	for _, s := range info.Suggestions {
		if strings.Contains(s, "cd "+parent) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected parent suggestion, got %v", info.Suggestions)
	}
}
