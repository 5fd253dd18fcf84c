package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/espflow/internal/config"
	"github.com/lucasnoah/espflow/internal/stage"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect espflow configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and the stage graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			if _, err := stage.FromConfig(cfg); err != nil {
				return fmt.Errorf("stage graph: %w", err)
			}
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

var configDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Check whether the project root is an ESP-IDF project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		info := config.DetectProject(cfg.ProjectRoot)
		cmd.Println(info.Message)
		for _, s := range info.Suggestions {
			cmd.Printf("  - %s\n", s)
		}
		if !info.Valid {
			return fmt.Errorf("%s is not an ESP-IDF project", info.Root)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configDetectCmd)
}
