package stage

import (
	"fmt"
	"time"

	"github.com/lucasnoah/espflow/internal/config"
)

// Placeholders expanded by the executor in stage commands.
const (
	VarIDFPy  = "{idf_py}"
	VarTarget = "{target}"
	VarPort   = "{port}"
	VarBaud   = "{baud}"
)

// DefaultMonitorCapture is how long the default monitor stage records
// serial output.
const DefaultMonitorCapture = 60 * time.Second

// DefaultStages returns the built-in ESP-IDF workflow
// init → config → build → flash → monitor.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:        "init",
			Description: "Project initialization and validation",
			Tasks: []string{
				"Verify ESP-IDF environment (IDF_PATH)",
				"Validate project structure (CMakeLists.txt)",
				"Check project directory permissions",
			},
			Checkers: []string{"project_structure"},
		},
		{
			Name:        "config",
			Description: "Target chip configuration",
			Tasks: []string{
				"Set target chip (idf.py set-target)",
				"Configure project options (menuconfig if needed)",
			},
			Checkers:  []string{"target_config"},
			DependsOn: []string{"init"},
			Command:   []string{VarIDFPy, "set-target", VarTarget},
		},
		{
			Name:        "build",
			Description: "Build firmware",
			Tasks: []string{
				"Clean previous builds (optional)",
				"Run idf.py build",
				"Verify build artifacts",
			},
			Checkers:  []string{"build_artifacts"},
			DependsOn: []string{"config"},
			Command:   []string{VarIDFPy, "build"},
		},
		{
			Name:        "flash",
			Description: "Flash firmware to device",
			Tasks: []string{
				"Detect connected ESP32 device",
				"Flash firmware (idf.py flash)",
				"Verify flash success",
			},
			DependsOn: []string{"build"},
			Command:   []string{VarIDFPy, "-p", VarPort, "flash"},
		},
		{
			Name:        "monitor",
			Description: "Monitor device output",
			Tasks: []string{
				"Start serial monitor",
				"Verify device boot logs",
				"Check for runtime errors",
			},
			DependsOn: []string{"flash"},
			Command:   []string{VarIDFPy, "-p", VarPort, "monitor"},
			Capture:   DefaultMonitorCapture,
		},
	}
}

// Default returns the catalog of DefaultStages.
func Default() *Catalog {
	return MustCatalog(DefaultStages())
}

// FromConfig builds a catalog from the stages in cfg, falling back to the
// default workflow when none are configured. Per-stage timeouts come from
// the stage definition, then cfg.Timeout.
func FromConfig(cfg *config.Config) (*Catalog, error) {
	var stages []Stage
	if len(cfg.Stages) == 0 {
		stages = DefaultStages()
	} else {
		stages = make([]Stage, 0, len(cfg.Stages))
		for _, def := range cfg.Stages {
			s := Stage{
				Name:        def.Name,
				Description: def.Desc,
				Tasks:       def.Task,
				Checkers:    def.Checkers,
				DependsOn:   def.DependsOn,
				Command:     def.Command,
				Metadata:    def.Metadata,
			}
			if def.Timeout != "" {
				d, err := time.ParseDuration(def.Timeout)
				if err != nil {
					return nil, fmt.Errorf("stage %q timeout: %w", def.Name, err)
				}
				s.Timeout = d
			}
			if def.Capture != "" {
				d, err := time.ParseDuration(def.Capture)
				if err != nil {
					return nil, fmt.Errorf("stage %q capture: %w", def.Name, err)
				}
				s.Capture = d
			}
			stages = append(stages, s)
		}
	}

	for i := range stages {
		if stages[i].Timeout == 0 {
			stages[i].Timeout = cfg.Timeout(stages[i].Name)
		}
	}
	return NewCatalog(stages)
}
