package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scanwedge/internal/config"
	"scanwedge/internal/printer"
)

var (
	configInitFormat string
	configShowFormat string
	configForce      bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config",
	Long: `Init writes the default configuration to --config, or to the platform
config directory. The extension of the path picks the format unless
--format is given.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	Long: `Show prints the configuration scanwedge would run with: file values over
the defaults, with SCANWEDGE_* environment overrides applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Check a config file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigValidate,
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(config.SchemaJSON())
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the files scanwedge uses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := config.GetDefaultPaths()
		printer.Fields(cmd.OutOrStdout(),
			"config", resolveConfigPath(),
			"database", p.DatabaseFile,
			"pid file", p.PIDFile,
			"log file", config.DefaultConfig().Logging.FilePath,
		)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitFormat, "format", "f", "", "Config format: toml, json or yaml")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringVarP(&configShowFormat, "format", "f", "toml", "Output format: toml, json or yaml")

	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd, configSchemaCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func formatExt(format string) (string, error) {
	switch strings.ToLower(format) {
	case "toml":
		return ".toml", nil
	case "json":
		return ".json", nil
	case "yaml", "yml":
		return ".yaml", nil
	}
	return "", fmt.Errorf("unknown format %q (valid: %s)", format, strings.Join(config.SupportedConfigFormats(), ", "))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.ConfigPath()
	}
	if configInitFormat != "" {
		ext, err := formatExt(configInitFormat)
		if err != nil {
			return printer.Error(cmd.ErrOrStderr(), "invalid format", err.Error(), nil)
		}
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ext
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return printer.Error(cmd.ErrOrStderr(),
			"config already exists",
			fmt.Sprintf("%s is already there.", path),
			[]string{"Overwrite it:\n  scanwedge config init --force"},
		)
	}

	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	printer.Success(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ext, err := formatExt(configShowFormat)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "invalid format", err.Error(), nil)
	}
	cfg, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	data, err := config.Encode(cfg, ext)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err != nil {
		return printer.Error(cmd.ErrOrStderr(), "config not found", err.Error(),
			[]string{"Create one:\n  scanwedge config init"})
	}

	if _, err := config.Load(path); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			lines := make([]string, len(verrs))
			for i, v := range verrs {
				lines[i] = fmt.Sprintf("  %s: %s", v.Field, v.Message)
			}
			return printer.Error(cmd.ErrOrStderr(),
				fmt.Sprintf("%s is invalid", path),
				strings.Join(lines, "\n"),
				nil,
			)
		}
		return printer.Error(cmd.ErrOrStderr(), fmt.Sprintf("%s is invalid", path), err.Error(), nil)
	}

	printer.Success(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}
