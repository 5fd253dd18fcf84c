package checks

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRegistry returns a registry holding the built-in ESP-IDF checkers.
func DefaultRegistry() *Registry {
	return NewRegistry().
		Register(ProjectStructure{}).
		Register(TargetConfig{}).
		Register(BuildArtifacts{})
}

// ProjectStructure checks for an ESP-IDF CMakeLists.txt.
type ProjectStructure struct{}

func (ProjectStructure) Name() string  { return "project_structure" }
func (ProjectStructure) Stage() string { return "init" }

func (c ProjectStructure) Check(_ context.Context, root string) Report {
	path := filepath.Join(root, "CMakeLists.txt")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return failReport(c.Name(), "CMakeLists.txt not found", "Looked in: "+root,
			"Ensure you are in an ESP-IDF project directory",
			"Check parent directory for CMakeLists.txt")
	}
	if err != nil {
		return failReport(c.Name(), "Failed to read CMakeLists.txt", err.Error())
	}

	content := string(data)
	if !strings.Contains(strings.ToLower(content), "cmake_minimum_required") {
		return failReport(c.Name(), "CMakeLists.txt missing cmake_minimum_required",
			"File exists but does not appear to be a valid CMake file")
	}
	if !isIDFCMake(content) {
		return warningReport(c.Name(), "CMakeLists.txt may not be an ESP-IDF project file",
			"No ESP-IDF include or component registration found")
	}
	return passReport(c.Name(), "Project structure is valid", "Found CMakeLists.txt at "+path)
}

func isIDFCMake(content string) bool {
	for _, marker := range []string{"include(ESP-IDF)", "project.cmake", "idf_component_register"} {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// TargetConfig checks that sdkconfig names a target chip.
type TargetConfig struct{}

func (TargetConfig) Name() string  { return "target_config" }
func (TargetConfig) Stage() string { return "config" }

func (c TargetConfig) Check(_ context.Context, root string) Report {
	path := filepath.Join(root, "sdkconfig")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return failReport(c.Name(), "sdkconfig not found", "Expected: "+path,
			"Run 'idf.py set-target <chip>' first")
	}
	if err != nil {
		return failReport(c.Name(), "Failed to read sdkconfig", err.Error())
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "CONFIG_IDF_TARGET="); ok {
			target := strings.Trim(v, `"`)
			rep := passReport(c.Name(), "Target configured: "+target, "Found in "+path)
			rep.Metadata = map[string]any{"target": target}
			return rep
		}
	}
	if err := scanner.Err(); err != nil {
		return failReport(c.Name(), "Failed to read sdkconfig", err.Error())
	}
	return warningReport(c.Name(), "Target not explicitly set in sdkconfig", "CONFIG_IDF_TARGET not found",
		"Run 'idf.py set-target <chip>' to configure target")
}

// BuildArtifacts checks for firmware binaries under build/.
type BuildArtifacts struct{}

func (BuildArtifacts) Name() string  { return "build_artifacts" }
func (BuildArtifacts) Stage() string { return "build" }

func (c BuildArtifacts) Check(ctx context.Context, root string) Report {
	dir := filepath.Join(root, "build")
	if _, err := os.Stat(dir); err != nil {
		return failReport(c.Name(), "Build directory not found", "Expected: "+dir,
			"Run 'idf.py build' first")
	}

	bins, err := FindBinaries(ctx, dir)
	if err != nil {
		return failReport(c.Name(), "Failed to scan build directory", err.Error())
	}
	if len(bins) == 0 {
		return failReport(c.Name(), "No firmware binaries found", "No .bin files in "+dir,
			"Build may have failed", "Check build output for errors")
	}
	rep := passReport(c.Name(), "Build artifacts found", fmt.Sprintf("Found %d .bin files in %s", len(bins), dir))
	rep.Metadata = map[string]any{"count": len(bins)}
	return rep
}

// FindBinaries returns every .bin file under dir, recursively, sorted.
func FindBinaries(ctx context.Context, dir string) ([]string, error) {
	var bins []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".bin") {
			bins = append(bins, path)
		}
		return nil
	})
	return bins, err
}
