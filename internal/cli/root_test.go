package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag to its default so one test's flags do
// not leak into the next execution of the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// newProject creates an ESP-IDF project skeleton and isolates the test
// from any user-level config.
func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ESPFLOW_PROJECT_ROOT", "")
	t.Setenv("ESPFLOW_STATE_DIR", "")
	t.Setenv("ESPFLOW_LEDGER_DRIVER", "")
	t.Setenv("ESPFLOW_LEDGER_DSN", "")

	dir := t.TempDir()
	files := map[string]string{
		"CMakeLists.txt": "cmake_minimum_required(VERSION 3.16)\ninclude($ENV{IDF_PATH}/tools/cmake/project.cmake)\nproject(blink)\n",
		"sdkconfig":      "CONFIG_IDF_TARGET=\"esp32\"\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func statusJSON(t *testing.T, dir string) statusReport {
	t.Helper()
	out, err := executeCommand("status", "-C", dir, "--format", "json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var rep statusReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	return rep
}

func stageStatus(rep statusReport, name string) string {
	for _, s := range rep.Stages {
		if s.Name == name {
			return string(s.Status)
		}
	}
	return ""
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"status", "list", "next", "start", "run", "validate", "complete",
		"skip", "reset", "history", "log", "check", "config", "ledger",
		"serve", "dashboard", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestLedgerSubcommands(t *testing.T) {
	for _, sub := range []string{"runs", "checks", "events", "stats"} {
		out, err := executeCommand("ledger", sub, "--help")
		if err != nil {
			t.Errorf("ledger %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("ledger %s --help produced no output", sub)
		}
	}
}

func TestConfigSubcommands(t *testing.T) {
	for _, sub := range []string{"show", "validate", "detect"} {
		out, err := executeCommand("config", sub, "--help")
		if err != nil {
			t.Errorf("config %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("config %s --help produced no output", sub)
		}
	}
}

func TestFreshProjectStatus(t *testing.T) {
	dir := newProject(t)
	rep := statusJSON(t, dir)
	if rep.Progress.Total != 5 || rep.Progress.Completed != 0 {
		t.Errorf("progress = %+v", rep.Progress)
	}
	if rep.Next != "init" {
		t.Errorf("next = %q, want init", rep.Next)
	}

	out, err := executeCommand("status", "-C", dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "ESP-IDF Workflow Status") || !strings.Contains(out, "monitor") {
		t.Errorf("text status = %s", out)
	}
}

func TestStartRefusedBeforeDependencies(t *testing.T) {
	dir := newProject(t)
	_, err := executeCommand("start", "build", "-C", dir)
	if err == nil {
		t.Fatal("expected error starting build on a fresh project")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("error = %q, should name config", err)
	}

	_, err = executeCommand("start", "deploy", "-C", dir)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("start deploy err = %v", err)
	}
}

func TestWorkflowAcrossInvocations(t *testing.T) {
	dir := newProject(t)

	// init has no command: run validates it and saves the verdict.
	out, err := executeCommand("run", "init", "-C", dir)
	if err != nil {
		t.Fatalf("run init: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[PASS] project_structure") {
		t.Errorf("run init output = %s", out)
	}

	out, err = executeCommand("complete", "config", "-C", dir, "--reason", "set by hand")
	if err != nil {
		t.Fatalf("complete config: %v\n%s", err, out)
	}
	rep := statusJSON(t, dir)
	if got := stageStatus(rep, "config"); got != "completed" {
		t.Errorf("config after complete = %q, want completed", got)
	}

	out, err = executeCommand("validate", "build", "-C", dir)
	if err == nil {
		t.Fatal("validate build should fail without build/")
	}
	if !strings.Contains(out, "[FAIL] build_artifacts") {
		t.Errorf("validate output = %s", out)
	}

	out, err = executeCommand("history", "-C", dir)
	if err != nil || !strings.Contains(out, "config") {
		t.Errorf("history = %s, %v", out, err)
	}

	out, err = executeCommand("log", "config", "-C", dir)
	if err != nil || !strings.Contains(out, "Command: espflow complete") {
		t.Errorf("log config = %s, %v", out, err)
	}

	out, err = executeCommand("ledger", "runs", "-C", dir, "--format", "json")
	if err != nil {
		t.Fatalf("ledger runs: %v\n%s", err, out)
	}
	var runs []struct {
		Stage   string `json:"stage"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out)
	}
	if len(runs) != 2 || runs[0].Stage != "config" || runs[1].Stage != "init" || !runs[0].Success {
		t.Errorf("ledger runs = %+v", runs)
	}

	out, err = executeCommand("ledger", "checks", "-C", dir, "--stage", "build")
	if err != nil || !strings.Contains(out, "build_artifacts") {
		t.Errorf("ledger checks = %s, %v", out, err)
	}

	if _, err := executeCommand("reset", "config", "-C", dir); err != nil {
		t.Fatalf("reset: %v", err)
	}
	rep = statusJSON(t, dir)
	if got := stageStatus(rep, "config"); got != "pending" {
		t.Errorf("config after reset = %q, want pending", got)
	}
}

func TestRunInitThenConfig(t *testing.T) {
	dir := newProject(t)
	t.Setenv("ESPFLOW_IDF_PY", "true")
	t.Setenv("ESPFLOW_TARGET", "esp32")

	if out, err := executeCommand("run", "init", "-C", dir); err != nil {
		t.Fatalf("run init: %v\n%s", err, out)
	}
	if got := stageStatus(statusJSON(t, dir), "init"); got != "completed" {
		t.Fatalf("init after run = %q, want completed", got)
	}

	out, err := executeCommand("run", "config", "-C", dir)
	if err != nil {
		t.Fatalf("run config: %v\n%s", err, out)
	}
	if !strings.Contains(out, "true set-target esp32: exit 0") || !strings.Contains(out, "[PASS] target_config") {
		t.Errorf("run config output = %s", out)
	}
	rep := statusJSON(t, dir)
	if got := stageStatus(rep, "config"); got != "completed" {
		t.Errorf("config after run = %q, want completed", got)
	}
	if rep.Next != "build" {
		t.Errorf("next = %q, want build", rep.Next)
	}

	out, err = executeCommand("log", "init", "-C", dir)
	if err != nil || !strings.Contains(out, "Command: validate") {
		t.Errorf("log init = %s, %v", out, err)
	}
}

func TestValidateSavesVerdictForStageWithoutCommand(t *testing.T) {
	dir := newProject(t)
	if err := os.Remove(filepath.Join(dir, "CMakeLists.txt")); err != nil {
		t.Fatal(err)
	}

	if _, err := executeCommand("validate", "init", "-C", dir); err == nil {
		t.Fatal("validate init should fail without CMakeLists.txt")
	}
	if got := stageStatus(statusJSON(t, dir), "init"); got != "failed" {
		t.Errorf("init after failed validate = %q, want failed", got)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := newProject(t)

	out, err := executeCommand("check", "target_config", "-C", dir)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[PASS] target_config") {
		t.Errorf("check output = %s", out)
	}

	out, err = executeCommand("check", "-C", dir)
	if err != nil || !strings.Contains(out, "build_artifacts") {
		t.Errorf("check list = %s, %v", out, err)
	}

	if _, err := executeCommand("check", "nope", "-C", dir); err == nil {
		t.Error("unknown checker should fail")
	}
}

func TestConfigValidateRejectsCycle(t *testing.T) {
	dir := newProject(t)
	yaml := `stages:
  - name: a
    depends_on: [b]
  - name: b
    depends_on: [a]
`
	if err := os.WriteFile(filepath.Join(dir, "espflow.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := executeCommand("config", "validate", "-C", dir)
	if err == nil || !strings.Contains(err.Error(), "stage graph") {
		t.Errorf("config validate err = %v, want stage graph error", err)
	}

	if _, err := executeCommand("status", "-C", dir); err == nil {
		t.Error("status should refuse a cyclic catalog")
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	dir := newProject(t)
	yaml := `baud: -1
ledger:
  driver: mongo
`
	if err := os.WriteFile(filepath.Join(dir, "espflow.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("config", "validate", "-C", dir)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "baud") || !strings.Contains(out, "ledger.driver") {
		t.Errorf("validate output = %s", out)
	}
}
