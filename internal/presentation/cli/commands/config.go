package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Create, inspect and validate the schoolsync configuration.

Settings are read from ~/.schoolsync/config.yaml (or a .toml file given
with --config), then from ~/.schoolsync/.env, then from SCHOOLSYNC_*
environment variables.`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(cmd)
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(globalFlags.ConfigFile)
			if err != nil {
				return err
			}
			if formatter.IsJSON() {
				return formatter.JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = formatter.Write(data)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		baseURL string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with default settings. The format follows
the file extension: .toml writes TOML, anything else YAML.`,
		Example: `  schoolsync config init --base-url https://school.example/api
  schoolsync config init -c ./schoolsync.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(cmd)
			if err != nil {
				return err
			}

			loader, err := config.NewLoader("")
			if err != nil {
				return err
			}
			path := globalFlags.ConfigFile
			if path == "" {
				path = loader.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.NewDefaultConfig()
			if baseURL != "" {
				cfg.API.BaseURL = baseURL
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := loader.Save(cfg, path); err != nil {
				return err
			}
			return formatter.Success("Wrote %s", path)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "school API base URL")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(cmd)
			if err != nil {
				return err
			}
			cfg, path, err := loadConfig(globalFlags.ConfigFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return formatter.Success("%s is valid", path)
		},
	}
}
