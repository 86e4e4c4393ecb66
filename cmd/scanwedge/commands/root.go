package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"scanwedge/internal/config"
	"scanwedge/internal/logging"
	"scanwedge/internal/printer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scanwedge",
	Short: "scanwedge - keyboard-wedge barcode scanner capture",
	Long: `scanwedge tells barcode scanner bursts apart from human typing.

A keyboard-wedge scanner types a code as a fast burst of key presses,
usually followed by Enter or Tab. scanwedge watches the keyboard, picks
those bursts out by their length and cadence, and hands each code to
the configured sinks: the scan history, redis, D-Bus and the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Config file (default: ./config.{toml,json,yaml} or the platform config dir)")
}

// resolveConfigPath returns --config, an existing config file in the
// usual places, or the default path.
func resolveConfigPath() string {
	if configFile != "" {
		return configFile
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

// loadConfig loads the resolved config file, printing a formatted error
// on failure.
func loadConfig(w io.Writer) (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, configError(w, path, err)
	}
	return cfg, path, nil
}

func configError(w io.Writer, path string, err error) error {
	return printer.Error(w,
		"invalid configuration",
		fmt.Sprintf("%s: %v", path, err),
		[]string{
			fmt.Sprintf("Check the file:\n  scanwedge config validate --config %s", path),
			"Write a fresh default:\n  scanwedge config init --force",
		},
	)
}

// newLogger builds the logger the logging section describes.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logCfg)
}
