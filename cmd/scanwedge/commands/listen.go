package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"scanwedge/internal/config"
	"scanwedge/internal/dispatch"
	"scanwedge/internal/keystroke"
	"scanwedge/internal/logging"
	"scanwedge/internal/printer"
	"scanwedge/internal/scanner"
	"scanwedge/internal/store"
)

var (
	listenJSON    bool
	listenRecord  bool
	listenVerbose bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Classify keys typed into this terminal",
	Long: `Listen puts the terminal into raw mode and classifies what arrives on
stdin. Point a keyboard-wedge scanner at the terminal window and scan:
accepted codes are printed, human typing is ignored.

Thresholds and terminators come from the config file. Press Ctrl+C to
stop.

Examples:
  # Print accepted scans
  scanwedge listen

  # Emit JSON lines and also record into the scan history
  scanwedge listen --json --record`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "Print scans as JSON lines")
	listenCmd.Flags().BoolVar(&listenRecord, "record", false, "Also store scans in the history database")
	listenCmd.Flags().BoolVarP(&listenVerbose, "verbose", "v", false, "Report bursts that were not accepted")

	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	terminators, err := cfg.Terminators()
	if err != nil {
		return configError(cmd.ErrOrStderr(), resolveConfigPath(), err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LevelWarn
	logger := logging.NewWithWriter(logCfg, cmd.ErrOrStderr())

	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		out = crlfWriter{w: out}
	}

	src := keystroke.NewTerminalSource(os.Stdin, logger.Logger)
	defer src.Close()
	if ok, reason := src.Available(); !ok {
		return printer.Error(cmd.ErrOrStderr(), "terminal unavailable", reason, nil)
	}

	disp, err := newListenDispatcher(cfg, out, logger)
	if err != nil {
		return err
	}
	defer disp.Close()

	session := &listenSession{out: out, verbose: listenVerbose}
	ctrl, err := scanner.New(src, scanner.Options{
		OnScan: func(r scanner.Result) {
			session.accepted()
			disp.OnScan(r)
		},
		OnStop:      session.stopped,
		Enabled:     true,
		Thresholds:  cfg.Thresholds(),
		Terminators: terminators,
		Logger:      logger.Logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	detach, err := src.Subscribe(func(ev *keystroke.KeyEvent) {
		if ev.Key == keystroke.KeyInterrupt {
			cancel()
		}
	})
	if err != nil {
		return err
	}
	defer detach()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if !ctrl.IsListening() {
		return printer.Error(cmd.ErrOrStderr(), "terminal unavailable", "could not attach to stdin", nil)
	}
	printer.Success(out, "Listening on this terminal, scan a barcode (Ctrl+C to stop)\n")

	select {
	case <-ctx.Done():
	case <-sigChan:
	}
	printer.Dim(out, "\nstopped\n")
	return nil
}

func newListenDispatcher(cfg *config.Config, out io.Writer, logger *logging.Logger) (*dispatch.Dispatcher, error) {
	disp := dispatch.New(dispatch.Options{
		DedupeWindow: cfg.DedupeWindow(),
		Logger:       logger.Logger,
	})

	if listenJSON {
		disp.Add(dispatch.NewWriterSink("stdout", nopCloser{out}))
	} else {
		disp.Add(dispatch.FuncSink{SinkName: "stdout", Fn: func(_ context.Context, r scanner.Result) error {
			printScan(out, r)
			return nil
		}})
	}

	if listenRecord && cfg.Storage.Enabled {
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			disp.Close()
			return nil, err
		}
		disp.Add(dispatch.NewStoreSink(st))
	}
	return disp, nil
}

func printScan(w io.Writer, r scanner.Result) {
	printer.Success(w, "%s", r.Code)
	printer.Dim(w, "  %s  %d keys  avg %s\n", r.Suffix, r.Keystrokes, r.AvgInterval)
}

// listenSession reports bursts that ended without a scan.
type listenSession struct {
	out     io.Writer
	verbose bool

	mu  sync.Mutex
	got bool
}

func (s *listenSession) accepted() {
	s.mu.Lock()
	s.got = true
	s.mu.Unlock()
}

func (s *listenSession) stopped() {
	s.mu.Lock()
	got := s.got
	s.got = false
	s.mu.Unlock()
	if !got && s.verbose {
		printer.Warning(s.out, "burst ignored\n")
	}
}

// crlfWriter adds the carriage return a raw-mode terminal needs.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// nopCloser keeps the writer sink from closing stdout.
type nopCloser struct {
	io.Writer
}
