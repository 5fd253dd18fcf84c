package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProjectInfo describes an ESP-IDF project directory.
type ProjectInfo struct {
	Root          string
	CMakePath     string
	SDKConfigPath string
	Valid         bool
	Message       string
	Suggestions   []string
}

// DetectProject inspects dir for an ESP-IDF project and explains what is
// wrong when it does not look like one.
func DetectProject(dir string) ProjectInfo {
	info := ProjectInfo{
		Root:          dir,
		CMakePath:     filepath.Join(dir, "CMakeLists.txt"),
		SDKConfigPath: filepath.Join(dir, "sdkconfig"),
	}

	data, err := os.ReadFile(info.CMakePath)
	if os.IsNotExist(err) {
		info.Message = fmt.Sprintf("CMakeLists.txt not found, confirm this is an ESP-IDF project directory: %s", dir)
		parent := filepath.Dir(dir)
		info.Suggestions = []string{
			"Check that you are in the ESP-IDF project root directory",
			"Ensure the project was created by the ESP-IDF build system",
		}
		if _, err := os.Stat(filepath.Join(parent, "CMakeLists.txt")); err == nil {
			info.Suggestions = append(info.Suggestions,
				fmt.Sprintf("Found CMakeLists.txt in parent directory, try: cd %s", parent))
		}
		return info
	}
	if err != nil {
		info.Message = fmt.Sprintf("cannot read CMakeLists.txt: %v", err)
		info.Suggestions = []string{"Check file permissions on CMakeLists.txt"}
		return info
	}

	content := string(data)
	hasMinimum := strings.Contains(strings.ToLower(content), "cmake_minimum_required")
	hasInclude := strings.Contains(content, "include(ESP-IDF)") || strings.Contains(content, "project.cmake")
	if !hasMinimum && !hasInclude {
		info.Message = fmt.Sprintf("CMakeLists.txt does not look like an ESP-IDF project file: %s", info.CMakePath)
		info.Suggestions = []string{
			"CMakeLists.txt is missing cmake_minimum_required",
			"CMakeLists.txt is missing the ESP-IDF project.cmake include",
			"Start from an ESP-IDF project template",
		}
		return info
	}

	info.Valid = true
	info.Message = "project validation passed"
	return info
}
