package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scanwedge/internal/config"
	"scanwedge/internal/daemon"
	"scanwedge/internal/logging"
	"scanwedge/internal/printer"
)

var (
	runNoReload bool
	runPIDFile  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture daemon",
	Long: `Run captures keyboard input, classifies scanner bursts and delivers
every accepted scan to the enabled sinks until interrupted.

A default config file is written on first start. Changes to the scanner
thresholds, the enabled flag and the dedupe window are applied while
running; other sections need a restart.

Examples:
  # Run with the default config
  scanwedge run

  # Run a specific config without hot reload
  scanwedge run --config ./scanwedge.yaml --no-reload`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runNoReload, "no-reload", false, "Do not watch the config file for changes")
	runCmd.Flags().StringVar(&runPIDFile, "pid-file", "", "Write the process ID here (default: runtime dir)")

	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := resolveConfigPath()

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return configError(cmd.ErrOrStderr(), path, err)
	}
	if created {
		printer.Info(out, "Wrote default config to %s\n", path)
	}

	var watcher *config.ConfigWatcher
	if !runNoReload {
		if watcher, err = config.NewConfigWatcher(path); err != nil {
			return configError(cmd.ErrOrStderr(), path, err)
		}
		cfg = watcher.Config()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	pidFile := runPIDFile
	if pidFile == "" {
		pidFile = config.GetDefaultPaths().PIDFile
	}
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
			logger.Warn("write pid file", "path", pidFile, "error", err)
		} else {
			defer os.Remove(pidFile)
		}
	}

	d, err := daemon.New(cfg, daemon.Options{Watcher: watcher, Logger: logger})
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "failed to start", err.Error(), nil)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		d.Stop(context.Background())
		return printer.Error(cmd.ErrOrStderr(), "failed to start", err.Error(), nil)
	}

	printer.Success(out, "scanwedge running (config %s)\n", path)
	if addr := d.APIAddr(); addr != nil {
		printer.Fields(out, "http", "http://"+addr.String())
	}
	if st := d.Store(); st != nil {
		printer.Fields(out, "history", cfg.Storage.Path)
	}
	printer.Dim(out, "Press Ctrl+C to stop\n")

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := d.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
		return err
	}
	printer.Info(out, "Stopped.\n")
	return nil
}
